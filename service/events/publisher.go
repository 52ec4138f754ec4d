/*
 * @module service/events/publisher
 * @description Kafka publisher for validation run lifecycle events
 * @architecture Utility layer - outbound messaging
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Run reaches a terminal state -> event marshalled -> kafka topic
 * @rules Publishing is best-effort; a broker outage never fails a run
 * @dependencies github.com/segmentio/kafka-go
 * @refs service/reconciliation/orchestrator.go, service/init.go
 */

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"

	"nhlrecon-service/service/models"

	"github.com/segmentio/kafka-go"
)

// RunEvent is the payload published when a run reaches a terminal state.
type RunEvent struct {
	EventType     string     `json:"event_type"` // run_completed / run_failed
	RunID         string     `json:"run_id"`
	ScopeKey      string     `json:"scope_key"`
	SeasonID      *string    `json:"season_id,omitempty"`
	GameID        *string    `json:"game_id,omitempty"`
	Status        string     `json:"status"`
	TotalPassed   int64      `json:"total_passed"`
	TotalFailed   int64      `json:"total_failed"`
	TotalWarnings int64      `json:"total_warnings"`
	TriggeredBy   string     `json:"triggered_by"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	EmittedAt     time.Time  `json:"emitted_at"`
}

// KafkaPublisher writes run events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaPublisher builds a publisher from KAFKA_BROKERS and KAFKA_TOPIC.
// Returns nil when no brokers are configured; callers treat that as events
// disabled.
func NewKafkaPublisher() *KafkaPublisher {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		slog.Info("kafka brokers not configured, run events disabled")
		return nil
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "nhlrecon.validation.runs"
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	slog.Info("kafka run event publisher initialized", "brokers", brokers, "topic", topic)
	return &KafkaPublisher{writer: writer, topic: topic}
}

// PublishRunFinished emits a terminal-state event for the run. Failures are
// logged and swallowed so messaging never blocks the engine.
func (p *KafkaPublisher) PublishRunFinished(ctx context.Context, run *models.ValidationRun) {
	eventType := "run_completed"
	if run.Status == models.RunStatusFailed {
		eventType = "run_failed"
	}

	event := RunEvent{
		EventType:     eventType,
		RunID:         run.ID,
		ScopeKey:      run.ScopeKey,
		SeasonID:      run.SeasonID,
		GameID:        run.GameID,
		Status:        run.Status,
		TotalPassed:   run.TotalPassed,
		TotalFailed:   run.TotalFailed,
		TotalWarnings: run.TotalWarnings,
		TriggeredBy:   run.TriggeredBy,
		CompletedAt:   run.CompletedAt,
		EmittedAt:     time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshalling run event failed", "run_id", run.ID, "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(run.ScopeKey),
		Value: payload,
	})
	if err != nil {
		slog.Error("publishing run event failed",
			"run_id", run.ID, "topic", p.topic, "error", err)
		return
	}
	slog.Debug("run event published", "run_id", run.ID, "event", eventType)
}

// Close flushes and shuts the writer down.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

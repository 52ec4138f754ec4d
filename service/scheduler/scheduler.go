/*
 * @module service/scheduler/scheduler
 * @description Cron scheduler for recurring season validation runs
 * @architecture Utility layer - background scheduling
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Cron tick -> distributed lock election -> trigger season run
 * @rules Only one instance fires per tick; a busy scope is logged, not retried
 * @dependencies github.com/robfig/cron/v3
 * @refs service/reconciliation/orchestrator.go, service/distributed_lock/redis_lock.go
 */

package scheduler

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"nhlrecon-service/service/distributed_lock"
	"nhlrecon-service/service/reconciliation"

	"github.com/robfig/cron/v3"
)

// Scheduler fires recurring validation runs for the configured seasons.
type Scheduler struct {
	cron         *cron.Cron
	orchestrator *reconciliation.Orchestrator
	executor     *distributed_lock.LockExecutor
	seasons      []string
	spec         string
}

// New builds the scheduler from RECON_SCHEDULE (cron expression, default
// nightly at 06:00 UTC) and RECON_SCHEDULE_SEASONS (comma-separated season
// IDs; empty disables scheduling). lock may be nil for single-instance
// deployments.
func New(orchestrator *reconciliation.Orchestrator, lock distributed_lock.DistributedLock) *Scheduler {
	seasonsEnv := os.Getenv("RECON_SCHEDULE_SEASONS")
	if seasonsEnv == "" {
		slog.Info("no seasons configured, scheduled validation disabled")
		return nil
	}

	spec := os.Getenv("RECON_SCHEDULE")
	if spec == "" {
		spec = "0 6 * * *"
	}

	s := &Scheduler{
		cron:         cron.New(cron.WithLocation(time.UTC)),
		orchestrator: orchestrator,
		seasons:      strings.Split(seasonsEnv, ","),
		spec:         spec,
	}
	if lock != nil {
		s.executor = distributed_lock.NewLockExecutor(lock)
	}
	return s
}

// Start registers the cron entry and begins ticking.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("validation scheduler started", "schedule", s.spec, "seasons", s.seasons)
	return nil
}

// Stop halts the cron loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("validation scheduler stopped")
}

// tick triggers one run per configured season. With a lock executor only the
// winning instance fires; the trigger itself stays idempotent either way
// because the orchestrator's scope guard absorbs duplicates.
func (s *Scheduler) tick() {
	run := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, season := range s.seasons {
			season = strings.TrimSpace(season)
			if season == "" {
				continue
			}
			resp, err := s.orchestrator.TriggerRun(ctx, &reconciliation.TriggerRunRequest{
				SeasonID:    season,
				TriggeredBy: "scheduler",
			})
			if err != nil {
				slog.Error("scheduled run trigger failed", "season", season, "error", err)
				continue
			}
			slog.Info("scheduled run triggered",
				"season", season, "run_id", resp.RunID, "status", resp.Status)
		}
		return nil
	}

	if s.executor != nil {
		if err := s.executor.ExecuteWithLock(context.Background(), "scheduler_tick", time.Minute, run); err != nil {
			slog.Error("scheduler tick failed", "error", err)
		}
		return
	}
	if err := run(); err != nil {
		slog.Error("scheduler tick failed", "error", err)
	}
}

/*
 * @module service/facts/resolver
 * @description Fact resolver collaborator: looks up the value each upstream source reported for a field
 * @architecture Layered architecture - collaborator interface + gorm-backed implementation
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Pure lookup; the engine treats missing facts as reportable, resolver outages as run-fatal
 * @rules A missing fact is (nil, nil); infrastructure failure wraps ErrUnavailable
 * @dependencies gorm.io/gorm
 * @refs service/models/game.go, service/reconciliation/orchestrator.go
 */

package facts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nhlrecon-service/service/models"

	"gorm.io/gorm"
)

// ErrUnavailable marks infrastructure failures in the upstream storage layer.
// The orchestrator fails the whole run on it rather than recording a check.
var ErrUnavailable = errors.New("fact resolver unavailable")

// EntityRef identifies the entity a check runs against.
type EntityRef struct {
	EntityType string // game/player/team/event
	EntityID   string
	GameID     string
	SeasonID   string
}

// Fact is one canonicalized observation from a single source.
type Fact struct {
	Numeric    *float64
	Text       *string
	RecordedAt *time.Time
}

// IsNumeric reports whether the fact carries a numeric value.
func (f *Fact) IsNumeric() bool {
	return f != nil && f.Numeric != nil
}

// String renders the fact for messages and discrepancy snapshots.
func (f *Fact) String() string {
	if f == nil {
		return "null"
	}
	if f.Numeric != nil {
		return fmt.Sprintf("%g", *f.Numeric)
	}
	if f.Text != nil {
		return *f.Text
	}
	return "null"
}

// StringPtr is the nullable form of String for persisted value snapshots.
func (f *Fact) StringPtr() *string {
	if f == nil {
		return nil
	}
	s := f.String()
	return &s
}

// Resolver is the engine's view of the ingestion subsystem's canonical store.
type Resolver interface {
	// GetValue returns the value source reported for field of ref,
	// (nil, nil) when the source has no record.
	GetValue(ctx context.Context, ref EntityRef, field, source string) (*Fact, error)
}

// DBResolver reads the source_facts table maintained by the ingestion pipeline.
type DBResolver struct {
	db *gorm.DB
}

// NewDBResolver creates a resolver over the canonical fact store.
func NewDBResolver(db *gorm.DB) *DBResolver {
	return &DBResolver{db: db}
}

// GetValue implements Resolver.
func (r *DBResolver) GetValue(ctx context.Context, ref EntityRef, field, source string) (*Fact, error) {
	var fact models.SourceFact
	err := r.db.WithContext(ctx).
		Where("game_id = ? AND entity_type = ? AND entity_id = ? AND field_name = ? AND source_name = ?",
			ref.GameID, ref.EntityType, ref.EntityID, field, source).
		Order("created_at DESC").
		First(&fact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Fact{
		Numeric:    fact.NumericValue,
		Text:       fact.TextValue,
		RecordedAt: fact.RecordedAt,
	}, nil
}

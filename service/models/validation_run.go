/*
 * @module service/models/validation_run
 * @description Validation run and per-check result models with cached run counters
 * @architecture Layered architecture - data model layer
 * @documentReference dev_docs/model.md
 * @stateFlow queued/running -> completed|failed; terminal states are final, retry means a new run
 * @rules Run counters are a cached aggregate of the result set and are recomputed on completion
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/reconciliation/orchestrator.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Run statuses
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run scope keys take the form "all", "season:<id>" or "game:<id>".
// The (scope_key, active status) pair backs the duplicate-trigger guard.
type ValidationRun struct {
	ID            string     `gorm:"type:uuid;primary_key" json:"run_id"`
	SeasonID      *string    `gorm:"index" json:"season_id,omitempty"`
	GameID        *string    `gorm:"index" json:"game_id,omitempty"`
	ScopeKey      string     `gorm:"not null;index" json:"scope_key"`
	Status        string     `gorm:"not null;index" json:"status"`
	StartedAt     time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	RulesChecked  int64      `gorm:"not null;default:0" json:"rules_checked"`
	TotalPassed   int64      `gorm:"not null;default:0" json:"total_passed"`
	TotalFailed   int64      `gorm:"not null;default:0" json:"total_failed"`
	TotalWarnings int64      `gorm:"not null;default:0" json:"total_warnings"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	TriggeredBy   string     `gorm:"not null;default:'manual';size:100" json:"triggered_by"` // manual/scheduler
	Metadata      JSONB      `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// BeforeCreate hook
func (v *ValidationRun) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return nil
}

// IsActive reports whether the run still occupies its scope.
func (v *ValidationRun) IsActive() bool {
	return v.Status == RunStatusQueued || v.Status == RunStatusRunning
}

// ValidationResult is one persisted check outcome. Results are append-only,
// owned by exactly one run and immutable after creation.
type ValidationResult struct {
	ID           string         `gorm:"type:uuid;primary_key" json:"result_id"`
	RunID        string         `gorm:"type:uuid;not null;index" json:"run_id"`
	Run          *ValidationRun `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"-"`
	RuleID       string         `gorm:"type:uuid;not null;index" json:"rule_id"`
	RuleName     string         `gorm:"not null" json:"rule_name"`
	GameID       *string        `gorm:"index" json:"game_id,omitempty"`
	EntityType   string         `gorm:"not null" json:"entity_type"` // game/player/team/event
	EntityID     string         `gorm:"not null" json:"entity_id"`
	FieldName    string         `gorm:"not null" json:"field_name"`
	Passed       bool           `gorm:"not null" json:"passed"`
	Severity     string         `gorm:"not null" json:"severity"`
	Message      string         `json:"message,omitempty"`
	Difference   *float64       `json:"difference,omitempty"`
	SourceValues JSONB          `gorm:"type:jsonb" json:"source_values,omitempty"`
	Details      JSONB          `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// BeforeCreate hook
func (v *ValidationResult) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return nil
}

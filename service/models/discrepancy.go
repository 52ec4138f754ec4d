/*
 * @module service/models/discrepancy
 * @description Persisted, resolvable record of a failing cross-source check
 * @architecture Layered architecture - data model layer
 * @documentReference dev_docs/model.md
 * @stateFlow open -> resolved|ignored; closed discrepancies stay closed, a later failing check opens a sibling
 * @rules At most one open discrepancy per (rule_id, entity_type, entity_id, field_name) key
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/reconciliation/discrepancy_service.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Resolution statuses
const (
	DiscrepancyOpen     = "open"
	DiscrepancyResolved = "resolved"
	DiscrepancyIgnored  = "ignored"
)

// Discrepancy references the result that raised it but outlives run history.
type Discrepancy struct {
	ID               string     `gorm:"type:uuid;primary_key" json:"discrepancy_id"`
	RuleID           string     `gorm:"type:uuid;not null;index:idx_discrepancy_key" json:"rule_id"`
	RuleName         string     `gorm:"not null" json:"rule_name"`
	GameID           *string    `gorm:"index" json:"game_id,omitempty"`
	SeasonID         *string    `gorm:"index" json:"season_id,omitempty"`
	EntityType       string     `gorm:"not null;index:idx_discrepancy_key" json:"entity_type"`
	EntityID         string     `gorm:"not null;index:idx_discrepancy_key" json:"entity_id"`
	FieldName        string     `gorm:"not null;index:idx_discrepancy_key" json:"field_name"`
	SourceA          string     `gorm:"not null" json:"source_a"`
	SourceAValue     *string    `json:"source_a_value"`
	SourceB          string     `json:"source_b,omitempty"`
	SourceBValue     *string    `json:"source_b_value"`
	Difference       *float64   `json:"difference,omitempty"`
	Severity         string     `gorm:"not null;default:'error';index" json:"severity"`
	Message          string     `json:"message"`
	ResolutionStatus string     `gorm:"not null;default:'open';index" json:"resolution_status"`
	ResolutionNotes  string     `json:"resolution_notes,omitempty"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResultID         *string    `gorm:"type:uuid" json:"result_id,omitempty"`
	FirstSeenAt      time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"first_seen_at"`
	LastSeenAt       time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"last_seen_at"`
	SeenCount        int        `gorm:"not null;default:1" json:"seen_count"`
	CreatedAt        time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// BeforeCreate hook
func (d *Discrepancy) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.ResolutionStatus == "" {
		d.ResolutionStatus = DiscrepancyOpen
	}
	return nil
}

// IsClosed reports whether the resolution workflow already finished.
func (d *Discrepancy) IsClosed() bool {
	return d.ResolutionStatus == DiscrepancyResolved || d.ResolutionStatus == DiscrepancyIgnored
}

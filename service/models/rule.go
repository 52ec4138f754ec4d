/*
 * @module service/models/rule
 * @description Reconciliation rule catalog model: named, configurable cross-source comparison definitions
 * @architecture Layered architecture - data model layer
 * @documentReference dev_docs/model.md
 * @stateFlow Rules are created/edited by operators; soft-deactivated once referenced by results
 * @rules Rule config is opaque JSONB interpreted only by the check evaluator
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/reconciliation/registry.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Rule severities
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// ValidationRule defines one cross-source comparison.
// Config carries the evaluator-facing knobs (check_type, field, entity_type,
// source_a, source_b, tolerance, soft_tolerance, expression, ...).
type ValidationRule struct {
	ID          string    `gorm:"type:uuid;primary_key" json:"id"`
	Name        string    `gorm:"not null;uniqueIndex" json:"name"`
	Category    string    `gorm:"not null;index" json:"category"` // cross_source/presence/consistency/timeliness
	Severity    string    `gorm:"not null;default:'error'" json:"severity"` // error/warning/info
	Description string    `json:"description"`
	Config      JSONB     `gorm:"type:jsonb;not null" json:"config"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	IsBuiltIn   bool      `gorm:"not null;default:false" json:"is_built_in"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	CreatedBy   string    `gorm:"not null;default:'system';size:100" json:"created_by"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	UpdatedBy   string    `gorm:"not null;default:'system';size:100" json:"updated_by"`
}

// BeforeCreate hook
func (r *ValidationRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedBy == "" {
		r.CreatedBy = "system"
	}
	if r.UpdatedBy == "" {
		r.UpdatedBy = "system"
	}
	return nil
}

// BeforeUpdate hook
func (r *ValidationRule) BeforeUpdate(tx *gorm.DB) error {
	if r.UpdatedBy == "" {
		r.UpdatedBy = "system"
	}
	return nil
}

/*
 * @module service/models/quality_score
 * @description Aggregated data quality score per season or game
 * @architecture Layered architecture - data model layer
 * @documentReference dev_docs/model.md
 * @stateFlow Recomputed from persisted results whenever a run completes for the covered scope
 * @rules Sub-scores are in [0,100] or null; the entity's latest row is replaced atomically
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/reconciliation/scorer.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Score entity types
const (
	ScoreEntitySeason = "season"
	ScoreEntityGame   = "game"
)

// QualityScore holds the weighted sub-scores for one entity. Nil pointers mean
// "not computable from the available data", never NaN.
type QualityScore struct {
	ID                string    `gorm:"type:uuid;primary_key" json:"score_id"`
	SeasonID          string    `gorm:"not null;index" json:"season_id"`
	GameID            *string   `json:"game_id,omitempty"`
	EntityType        string    `gorm:"not null;uniqueIndex:idx_quality_score_entity" json:"entity_type"` // season/game
	EntityID          string    `gorm:"not null;uniqueIndex:idx_quality_score_entity" json:"entity_id"`
	CompletenessScore *float64  `json:"completeness_score"`
	AccuracyScore     *float64  `json:"accuracy_score"`
	ConsistencyScore  *float64  `json:"consistency_score"`
	TimelinessScore   *float64  `json:"timeliness_score"`
	OverallScore      *float64  `json:"overall_score"`
	TotalChecks       int64     `gorm:"not null;default:0" json:"total_checks"`
	PassedChecks      int64     `gorm:"not null;default:0" json:"passed_checks"`
	FailedChecks      int64     `gorm:"not null;default:0" json:"failed_checks"`
	WarningChecks     int64     `gorm:"not null;default:0" json:"warning_checks"`
	CalculatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"calculated_at"`
}

// BeforeCreate hook
func (q *QualityScore) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}

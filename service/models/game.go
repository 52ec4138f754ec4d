/*
 * @module service/models/game
 * @description Canonical game roster and per-source fact observations written by the upstream ingestion pipeline
 * @architecture Layered architecture - data model layer
 * @documentReference dev_docs/model.md
 * @stateFlow Populated by ingestion (out of engine scope); read-only for the reconciliation engine
 * @rules One SourceFact row per (game, entity, field, source) observation
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/facts/resolver.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Game is the scope unit validation runs fan out over. IDs follow the NHL
// convention (e.g. "2023020001"); SeasonID like "20232024".
type Game struct {
	ID        string     `gorm:"primary_key;size:20" json:"game_id"`
	SeasonID  string     `gorm:"not null;index;size:10" json:"season_id"`
	GameDate  time.Time  `gorm:"not null" json:"game_date"`
	HomeTeam  string     `gorm:"not null;size:5" json:"home_team"`
	AwayTeam  string     `gorm:"not null;size:5" json:"away_team"`
	Status    string     `gorm:"not null;default:'scheduled'" json:"status"` // scheduled/live/final
	FinalAt   *time.Time `json:"final_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// SourceFact is one canonicalized value reported by one upstream source
// (json_api, html_report, ...) for one field of one entity.
type SourceFact struct {
	ID           string     `gorm:"type:uuid;primary_key" json:"id"`
	GameID       string     `gorm:"not null;index:idx_source_fact_lookup;size:20" json:"game_id"`
	SeasonID     string     `gorm:"not null;index;size:10" json:"season_id"`
	EntityType   string     `gorm:"not null;index:idx_source_fact_lookup" json:"entity_type"` // game/player/team/event
	EntityID     string     `gorm:"not null;index:idx_source_fact_lookup" json:"entity_id"`
	FieldName    string     `gorm:"not null;index:idx_source_fact_lookup" json:"field_name"`
	SourceName   string     `gorm:"not null;index:idx_source_fact_lookup" json:"source_name"`
	NumericValue *float64   `json:"numeric_value,omitempty"`
	TextValue    *string    `json:"text_value,omitempty"`
	RecordedAt   *time.Time `json:"recorded_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// BeforeCreate hook
func (s *SourceFact) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

/*
 * @module service/database/migrate
 * @description Database migration module: creates and updates table structures and seeds the built-in rule catalog
 * @architecture Data access layer - migration management
 * @documentReference dev_docs/model.md
 * @stateFlow Executed once at application startup
 * @rules Keeps the database structure aligned with the model definitions
 * @dependencies nhlrecon-service/service/models, gorm.io/gorm
 * @refs service/init.go
 */

package database

import (
	"log"
	"nhlrecon-service/service/models"

	"gorm.io/gorm"
)

// AutoMigrate migrates all engine tables.
func AutoMigrate(db *gorm.DB) error {
	log.Println("starting database migration...")

	// Canonical data written by the ingestion pipeline
	err := db.AutoMigrate(
		&models.Game{},
		&models.SourceFact{},
	)
	if err != nil {
		return err
	}

	// Reconciliation engine tables
	err = db.AutoMigrate(
		&models.ValidationRule{},
		&models.ValidationRun{},
		&models.ValidationResult{},
		&models.Discrepancy{},
		&models.QualityScore{},
	)
	if err != nil {
		return err
	}

	// The one-open-discrepancy-per-key and one-active-run-per-scope invariants
	// are backed by partial unique indexes on postgres; sqlite (tests) relies
	// on the transactional check-then-insert paths, serialized by its single
	// connection.
	if db.Dialector.Name() == "postgres" {
		err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_discrepancy_open_key
			ON discrepancies (rule_id, entity_type, entity_id, field_name)
			WHERE resolution_status = 'open'`).Error
		if err != nil {
			return err
		}
		err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_validation_runs_active_scope
			ON validation_runs (scope_key)
			WHERE status IN ('queued', 'running')`).Error
		if err != nil {
			return err
		}
	}

	log.Println("database migration completed")
	return nil
}

// InitializeData seeds the built-in reconciliation rule catalog. Existing rows
// with the same name are left untouched so operator edits survive restarts.
func InitializeData(db *gorm.DB) error {
	log.Println("initializing built-in rules...")

	for _, rule := range BuiltinRules() {
		var count int64
		if err := db.Model(&models.ValidationRule{}).Where("name = ?", rule.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := db.Create(&rule).Error; err != nil {
			return err
		}
	}

	log.Println("built-in rules initialized")
	return nil
}

// BuiltinRules returns the seed catalog comparing the JSON API feed against the
// HTML box-score report.
func BuiltinRules() []models.ValidationRule {
	return []models.ValidationRule{
		{
			Name:        "goals_match",
			Category:    "cross_source",
			Severity:    models.SeverityError,
			Description: "Total goals reported by the API feed and the HTML box score must match exactly",
			IsBuiltIn:   true,
			IsActive:    true,
			Config: models.JSONB{
				"check_type":  "numeric",
				"entity_type": "game",
				"field":       "goals_total",
				"source_a":    "json_api",
				"source_b":    "html_report",
				"tolerance":   0,
			},
		},
		{
			Name:        "penalty_count_match",
			Category:    "cross_source",
			Severity:    models.SeverityError,
			Description: "Penalty counts must match exactly across sources",
			IsBuiltIn:   true,
			IsActive:    true,
			Config: models.JSONB{
				"check_type":  "numeric",
				"entity_type": "game",
				"field":       "penalty_count",
				"source_a":    "json_api",
				"source_b":    "html_report",
				"tolerance":   0,
			},
		},
		{
			Name:        "shots_on_goal_match",
			Category:    "cross_source",
			Severity:    models.SeverityWarning,
			Description: "Shots on goal occasionally drift by one between live feed and box score",
			IsBuiltIn:   true,
			IsActive:    true,
			Config: models.JSONB{
				"check_type":     "numeric",
				"entity_type":    "game",
				"field":          "shots_on_goal",
				"source_a":       "json_api",
				"source_b":       "html_report",
				"tolerance":      0,
				"soft_tolerance": 1,
			},
		},
		{
			Name:        "toi_seconds_match",
			Category:    "consistency",
			Severity:    models.SeverityWarning,
			Description: "Team time-on-ice in seconds, small epsilon for rounding between report formats",
			IsBuiltIn:   true,
			IsActive:    true,
			Config: models.JSONB{
				"check_type":     "numeric",
				"entity_type":    "game",
				"field":          "toi_seconds",
				"source_a":       "json_api",
				"source_b":       "html_report",
				"tolerance":      2,
				"soft_tolerance": 10,
			},
		},
		{
			Name:        "game_outcome_match",
			Category:    "cross_source",
			Severity:    models.SeverityError,
			Description: "Final outcome string (e.g. 'TOR 4-2 MTL F/OT') must agree between sources",
			IsBuiltIn:   true,
			IsActive:    true,
			Config: models.JSONB{
				"check_type":  "categorical",
				"entity_type": "game",
				"field":       "game_outcome",
				"source_a":    "json_api",
				"source_b":    "html_report",
			},
		},
		{
			Name:        "boxscore_present",
			Category:    "presence",
			Severity:    models.SeverityError,
			Description: "The HTML box-score report must exist for every final game",
			IsBuiltIn:   true,
			IsActive:    true,
			Config: models.JSONB{
				"check_type":  "presence",
				"entity_type": "game",
				"field":       "goals_total",
				"source_a":    "html_report",
			},
		},
		{
			Name:        "pbp_present",
			Category:    "presence",
			Severity:    models.SeverityWarning,
			Description: "The play-by-play feed must exist for every final game",
			IsBuiltIn:   true,
			IsActive:    true,
			Config: models.JSONB{
				"check_type":  "presence",
				"entity_type": "game",
				"field":       "event_count",
				"source_a":    "json_api",
			},
		},
		{
			Name:        "fact_freshness",
			Category:    "timeliness",
			Severity:    models.SeverityInfo,
			Description: "Carrier for the timeliness window used by the quality scorer",
			IsBuiltIn:   true,
			IsActive:    true,
			Config: models.JSONB{
				"check_type":              "presence",
				"entity_type":             "game",
				"field":                   "goals_total",
				"source_a":                "json_api",
				"timeliness_window_hours": 24,
			},
		},
	}
}

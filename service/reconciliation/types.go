/*
 * @module service/reconciliation/types
 * @description Request/response types shared by the reconciliation services and controllers
 * @architecture Layered architecture - business service layer
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow API request -> service call -> response type
 * @rules Scope resolution lives here so every caller derives the same scope key
 * @dependencies gorm.io/gorm
 * @refs api/controllers/validation_controller.go
 */

package reconciliation

import (
	"errors"
	"fmt"
	"time"

	"nhlrecon-service/service/models"
)

var (
	// ErrAmbiguousScope means a trigger named both a season and a game.
	ErrAmbiguousScope = errors.New("a run targets either a season or a game, not both")
	// ErrRuleInUse means a rule cannot be hard-deleted because results reference it.
	ErrRuleInUse = errors.New("rule is referenced by validation results")
)

// TriggerRunRequest starts a validation run. Leave both SeasonID and GameID
// empty for a full-scope run.
type TriggerRunRequest struct {
	SeasonID    string   `json:"season_id,omitempty"`
	GameID      string   `json:"game_id,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	TriggeredBy string   `json:"triggered_by,omitempty"`
}

// ScopeKey derives the serialization key for the at-most-one-active-run
// guard. Every scope maps to exactly one key.
func (r *TriggerRunRequest) ScopeKey() (string, error) {
	switch {
	case r.SeasonID != "" && r.GameID != "":
		return "", ErrAmbiguousScope
	case r.GameID != "":
		return fmt.Sprintf("game:%s", r.GameID), nil
	case r.SeasonID != "":
		return fmt.Sprintf("season:%s", r.SeasonID), nil
	default:
		return "all", nil
	}
}

// TriggerRunResponse reports the run that is now (or was already) active for
// the requested scope.
type TriggerRunResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// RunDetail is a run with its per-check results.
type RunDetail struct {
	models.ValidationRun
	Results []models.ValidationResult `json:"results"`
}

// RuleUpsertRequest creates or updates a validation rule.
type RuleUpsertRequest struct {
	Name        string       `json:"name"`
	Category    string       `json:"category"`
	Severity    string       `json:"severity"`
	Description string       `json:"description,omitempty"`
	Config      models.JSONB `json:"config"`
	IsActive    *bool        `json:"is_active,omitempty"`
	Operator    string       `json:"operator,omitempty"`
}

// ResolveDiscrepancyRequest closes or ignores an open discrepancy.
type ResolveDiscrepancyRequest struct {
	Status     string `json:"status"`
	Notes      string `json:"notes,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// RuleBreakdown is one row of the failing-rule histogram in a season summary.
type RuleBreakdown struct {
	RuleName string `json:"rule_name"`
	Failed   int    `json:"failed"`
	Checked  int    `json:"checked"`
}

// SourceAccuracy is the per-source agreement rate in a season summary.
type SourceAccuracy struct {
	Source  string  `json:"source"`
	Checked int     `json:"checked"`
	Passed  int     `json:"passed"`
	Rate    float64 `json:"rate"`
}

// SeasonSummary aggregates reconciliation health for one season.
type SeasonSummary struct {
	SeasonID            string               `json:"season_id"`
	GamesValidated      int                  `json:"games_validated"`
	TotalGames          int                  `json:"total_games"`
	TotalChecks         int64                `json:"total_checks"`
	TotalPassed         int64                `json:"total_passed"`
	TotalFailed         int64                `json:"total_failed"`
	ReconciliationRate  *float64             `json:"reconciliation_rate"`
	OpenDiscrepancies   int64                `json:"open_discrepancies"`
	SourceAccuracy      []SourceAccuracy     `json:"source_accuracy"`
	TopFailingRules     []RuleBreakdown      `json:"top_failing_rules"`
	QualityScore        *models.QualityScore `json:"quality_score,omitempty"`
	LastRunAt           *time.Time           `json:"last_run_at,omitempty"`
	LastRunStatus       string               `json:"last_run_status,omitempty"`
}

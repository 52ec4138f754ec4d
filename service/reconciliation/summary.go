/*
 * @module service/reconciliation/summary
 * @description Season summary: reconciliation rate, per-source accuracy, failing-rule histogram
 * @architecture Layered architecture - business service layer, read-only
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Aggregates persisted results, scores and discrepancies; never mutates state
 * @rules A season with no runs yields an empty summary, not an error
 * @dependencies gorm.io/gorm
 * @refs service/reconciliation/scorer.go, service/reconciliation/discrepancy_service.go
 */

package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"nhlrecon-service/service/models"

	"gorm.io/gorm"
)

// SummaryService assembles read-only season reporting.
type SummaryService struct {
	db            *gorm.DB
	scorer        *QualityScorer
	discrepancies *DiscrepancyService
}

// NewSummaryService creates a summary service instance.
func NewSummaryService(db *gorm.DB, scorer *QualityScorer, discrepancies *DiscrepancyService) *SummaryService {
	return &SummaryService{db: db, scorer: scorer, discrepancies: discrepancies}
}

// ruleTally is the per-rule aggregate used by the histogram and the
// per-source attribution.
type ruleTally struct {
	RuleID   string
	RuleName string
	Checked  int
	Failed   int
}

// SeasonSummary builds the reporting view for one season.
func (s *SummaryService) SeasonSummary(ctx context.Context, seasonID string) (*SeasonSummary, error) {
	summary := &SeasonSummary{SeasonID: seasonID}

	var totalGames int64
	if err := s.db.WithContext(ctx).Model(&models.Game{}).
		Where("season_id = ?", seasonID).Count(&totalGames).Error; err != nil {
		return nil, fmt.Errorf("counting season games failed: %w", err)
	}
	summary.TotalGames = int(totalGames)

	gameScores, err := s.scorer.ListGameScores(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	summary.GamesValidated = len(gameScores)
	for i := range gameScores {
		summary.TotalChecks += gameScores[i].TotalChecks
		summary.TotalPassed += gameScores[i].PassedChecks
		summary.TotalFailed += gameScores[i].FailedChecks + gameScores[i].WarningChecks
	}
	if summary.TotalChecks > 0 {
		summary.ReconciliationRate = ratio(float64(summary.TotalPassed), float64(summary.TotalChecks))
	}

	summary.OpenDiscrepancies, err = s.discrepancies.OpenCount(ctx, seasonID)
	if err != nil {
		return nil, err
	}

	tallies, err := s.ruleTallies(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	summary.TopFailingRules = topFailingRules(tallies, 10)
	summary.SourceAccuracy, err = s.sourceAccuracy(ctx, tallies)
	if err != nil {
		return nil, err
	}

	summary.QualityScore, err = s.scorer.GetScore(ctx, models.ScoreEntitySeason, seasonID)
	if err != nil {
		return nil, err
	}

	var lastRun models.ValidationRun
	err = s.db.WithContext(ctx).
		Where("season_id = ? OR game_id IN (?)", seasonID,
			s.db.Model(&models.Game{}).Select("id").Where("season_id = ?", seasonID)).
		Order("started_at DESC").
		First(&lastRun).Error
	switch {
	case err == nil:
		summary.LastRunAt = &lastRun.StartedAt
		summary.LastRunStatus = lastRun.Status
	case errors.Is(err, gorm.ErrRecordNotFound):
		// no runs yet
	default:
		return nil, fmt.Errorf("finding last run failed: %w", err)
	}

	return summary, nil
}

// ruleTallies aggregates the season's results per rule in SQL.
func (s *SummaryService) ruleTallies(ctx context.Context, seasonID string) ([]ruleTally, error) {
	var tallies []ruleTally
	err := s.db.WithContext(ctx).Model(&models.ValidationResult{}).
		Select("rule_id, rule_name, count(*) as checked, sum(case when passed then 0 else 1 end) as failed").
		Where("game_id IN (?)",
			s.db.Model(&models.Game{}).Select("id").Where("season_id = ?", seasonID)).
		Group("rule_id, rule_name").
		Scan(&tallies).Error
	if err != nil {
		return nil, fmt.Errorf("aggregating results per rule failed: %w", err)
	}
	return tallies, nil
}

func topFailingRules(tallies []ruleTally, limit int) []RuleBreakdown {
	breakdown := make([]RuleBreakdown, 0, len(tallies))
	for _, t := range tallies {
		if t.Failed == 0 {
			continue
		}
		breakdown = append(breakdown, RuleBreakdown{
			RuleName: t.RuleName,
			Failed:   t.Failed,
			Checked:  t.Checked,
		})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Failed != breakdown[j].Failed {
			return breakdown[i].Failed > breakdown[j].Failed
		}
		return breakdown[i].RuleName < breakdown[j].RuleName
	})
	if len(breakdown) > limit {
		breakdown = breakdown[:limit]
	}
	return breakdown
}

// sourceAccuracy attributes each rule's tallies to the sources its config
// compares, giving a per-source agreement rate.
func (s *SummaryService) sourceAccuracy(ctx context.Context, tallies []ruleTally) ([]SourceAccuracy, error) {
	if len(tallies) == 0 {
		return []SourceAccuracy{}, nil
	}

	ids := make([]string, 0, len(tallies))
	for _, t := range tallies {
		ids = append(ids, t.RuleID)
	}
	var rules []models.ValidationRule
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("loading rules for source accuracy failed: %w", err)
	}

	specs := map[string]*RuleSpec{}
	for i := range rules {
		if spec, err := ParseRuleSpec(&rules[i]); err == nil {
			specs[rules[i].ID] = spec
		}
	}

	type agg struct{ checked, passed int }
	perSource := map[string]*agg{}
	bump := func(source string, t ruleTally) {
		if source == "" {
			return
		}
		a := perSource[source]
		if a == nil {
			a = &agg{}
			perSource[source] = a
		}
		a.checked += t.Checked
		a.passed += t.Checked - t.Failed
	}
	for _, t := range tallies {
		spec := specs[t.RuleID]
		if spec == nil {
			continue
		}
		bump(spec.SourceA, t)
		bump(spec.SourceB, t)
	}

	accuracy := make([]SourceAccuracy, 0, len(perSource))
	for source, a := range perSource {
		rate := 0.0
		if a.checked > 0 {
			rate = float64(a.passed) / float64(a.checked) * 100
		}
		accuracy = append(accuracy, SourceAccuracy{
			Source:  source,
			Checked: a.checked,
			Passed:  a.passed,
			Rate:    rate,
		})
	}
	sort.Slice(accuracy, func(i, j int) bool { return accuracy[i].Source < accuracy[j].Source })
	return accuracy, nil
}

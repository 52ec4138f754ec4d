/*
 * @module service/reconciliation/scorer
 * @description Quality scorer: accuracy/completeness/consistency/timeliness sub-scores per game and season
 * @architecture Layered architecture - business service layer
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Run completion -> per-game recompute from latest results -> season rollup -> upsert
 * @rules Sub-scores live in [0,100] or are null when not computable; overall is the equal-weight mean of the non-null sub-scores
 * @dependencies gorm.io/gorm
 * @refs service/models/quality_score.go, service/reconciliation/orchestrator.go
 */

package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nhlrecon-service/service/models"

	"github.com/spf13/cast"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QualityScorer derives quality scores from persisted validation results.
type QualityScorer struct {
	db *gorm.DB
}

// NewQualityScorer creates a scorer instance.
func NewQualityScorer(db *gorm.DB) *QualityScorer {
	return &QualityScorer{db: db}
}

// RecalculateForRun refreshes the scores of every game a completed run
// covered, then rolls the affected seasons up.
func (s *QualityScorer) RecalculateForRun(ctx context.Context, run *models.ValidationRun, games []models.Game) error {
	seasons := map[string]struct{}{}
	for i := range games {
		game := &games[i]
		if _, err := s.CalculateGameScore(ctx, game); err != nil {
			slog.Error("calculating game score failed", "game", game.ID, "error", err)
			continue
		}
		seasons[game.SeasonID] = struct{}{}
	}

	for seasonID := range seasons {
		if _, err := s.CalculateSeasonScore(ctx, seasonID); err != nil {
			slog.Error("calculating season score failed", "season", seasonID, "error", err)
		}
	}
	return nil
}

// CalculateGameScore recomputes a game's score from the most recent run that
// produced results for it.
func (s *QualityScorer) CalculateGameScore(ctx context.Context, game *models.Game) (*models.QualityScore, error) {
	var latest models.ValidationResult
	err := s.db.WithContext(ctx).
		Where("game_id = ?", game.ID).
		Order("created_at DESC").
		First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // never validated, nothing to score
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest results failed: %w", err)
	}

	var results []models.ValidationResult
	if err := s.db.WithContext(ctx).
		Where("run_id = ? AND game_id = ?", latest.RunID, game.ID).
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("loading results failed: %w", err)
	}

	score := s.scoreFromResults(game, results)
	score.TimelinessScore = s.timelinessScore(ctx, game)
	score.OverallScore = overall(score)

	if err := s.upsert(ctx, score); err != nil {
		return nil, err
	}
	return score, nil
}

// scoreFromResults computes the result-derived sub-scores.
func (s *QualityScorer) scoreFromResults(game *models.Game, results []models.ValidationResult) *models.QualityScore {
	score := &models.QualityScore{
		SeasonID:     game.SeasonID,
		GameID:       &game.ID,
		EntityType:   models.ScoreEntityGame,
		EntityID:     game.ID,
		CalculatedAt: time.Now(),
	}

	var (
		total, passed, failed, warnings int64
		completeTotal, completeOK       int64
		numericTotal                    int64
		consistencyCredit               float64
	)
	for i := range results {
		r := &results[i]
		total++
		if r.Passed {
			passed++
		} else if r.Severity == models.SeverityWarning {
			warnings++
		} else {
			failed++
		}

		completeTotal++
		if cast.ToBool(r.Details["complete"]) {
			completeOK++
		}

		// Consistency only looks at numeric comparisons: full credit when
		// the sources agree, half credit when the gap stays inside the
		// rule's soft band.
		if r.Difference != nil {
			numericTotal++
			switch {
			case r.Passed:
				consistencyCredit += 1
			case *r.Difference <= cast.ToFloat64(r.Details["soft_tolerance"]):
				consistencyCredit += 0.5
			}
		}
	}

	score.TotalChecks = total
	score.PassedChecks = passed
	score.FailedChecks = failed
	score.WarningChecks = warnings

	if total > 0 {
		score.AccuracyScore = ratio(float64(passed), float64(total))
	}
	if completeTotal > 0 {
		score.CompletenessScore = ratio(float64(completeOK), float64(completeTotal))
	}
	if numericTotal > 0 {
		score.ConsistencyScore = ratio(consistencyCredit, float64(numericTotal))
	}
	return score
}

// timelinessScore measures how much of the game's source data landed within
// the freshness window after the game went final. Nil when the game has no
// final timestamp or no timestamped facts.
func (s *QualityScorer) timelinessScore(ctx context.Context, game *models.Game) *float64 {
	if game.FinalAt == nil {
		return nil
	}

	window := 24 * time.Hour
	var rule models.ValidationRule
	if err := s.db.WithContext(ctx).
		First(&rule, "name = ?", "fact_freshness").Error; err == nil {
		if hours := cast.ToFloat64(rule.Config["timeliness_window_hours"]); hours > 0 {
			window = time.Duration(hours * float64(time.Hour))
		}
	}

	var facts []models.SourceFact
	if err := s.db.WithContext(ctx).
		Where("game_id = ? AND recorded_at IS NOT NULL", game.ID).
		Find(&facts).Error; err != nil {
		slog.Warn("loading facts for timeliness failed", "game", game.ID, "error", err)
		return nil
	}
	if len(facts) == 0 {
		return nil
	}

	deadline := game.FinalAt.Add(window)
	onTime := 0
	for i := range facts {
		if !facts[i].RecordedAt.After(deadline) {
			onTime++
		}
	}
	return ratio(float64(onTime), float64(len(facts)))
}

// CalculateSeasonScore rolls the season's game scores up: sub-scores average
// over the games that have them, counters sum.
func (s *QualityScorer) CalculateSeasonScore(ctx context.Context, seasonID string) (*models.QualityScore, error) {
	var gameScores []models.QualityScore
	if err := s.db.WithContext(ctx).
		Where("season_id = ? AND entity_type = ?", seasonID, models.ScoreEntityGame).
		Find(&gameScores).Error; err != nil {
		return nil, fmt.Errorf("loading game scores failed: %w", err)
	}
	if len(gameScores) == 0 {
		return nil, nil
	}

	score := &models.QualityScore{
		SeasonID:     seasonID,
		EntityType:   models.ScoreEntitySeason,
		EntityID:     seasonID,
		CalculatedAt: time.Now(),
	}
	score.AccuracyScore = meanOf(gameScores, func(g *models.QualityScore) *float64 { return g.AccuracyScore })
	score.CompletenessScore = meanOf(gameScores, func(g *models.QualityScore) *float64 { return g.CompletenessScore })
	score.ConsistencyScore = meanOf(gameScores, func(g *models.QualityScore) *float64 { return g.ConsistencyScore })
	score.TimelinessScore = meanOf(gameScores, func(g *models.QualityScore) *float64 { return g.TimelinessScore })
	score.OverallScore = overall(score)

	for i := range gameScores {
		score.TotalChecks += gameScores[i].TotalChecks
		score.PassedChecks += gameScores[i].PassedChecks
		score.FailedChecks += gameScores[i].FailedChecks
		score.WarningChecks += gameScores[i].WarningChecks
	}

	if err := s.upsert(ctx, score); err != nil {
		return nil, err
	}
	return score, nil
}

// GetScore returns the stored score for an entity, nil when never scored.
func (s *QualityScorer) GetScore(ctx context.Context, entityType, entityID string) (*models.QualityScore, error) {
	var score models.QualityScore
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		First(&score).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &score, nil
}

// ListGameScores returns the stored game scores for a season.
func (s *QualityScorer) ListGameScores(ctx context.Context, seasonID string) ([]models.QualityScore, error) {
	var scores []models.QualityScore
	if err := s.db.WithContext(ctx).
		Where("season_id = ? AND entity_type = ?", seasonID, models.ScoreEntityGame).
		Order("entity_id").
		Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("listing game scores failed: %w", err)
	}
	return scores, nil
}

// ListScores returns stored scores page by page, optionally narrowed to one
// season and one entity type, with the total for pagination.
func (s *QualityScorer) ListScores(ctx context.Context, seasonID, entityType string, page, size int) ([]models.QualityScore, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.QualityScore{})
	if seasonID != "" {
		query = query.Where("season_id = ?", seasonID)
	}
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting quality scores failed: %w", err)
	}

	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 20
	}

	var scores []models.QualityScore
	if err := query.Order("entity_type, entity_id").
		Offset((page - 1) * size).Limit(size).
		Find(&scores).Error; err != nil {
		return nil, 0, fmt.Errorf("listing quality scores failed: %w", err)
	}
	return scores, total, nil
}

// upsert replaces the entity's score row atomically on its unique key.
func (s *QualityScorer) upsert(ctx context.Context, score *models.QualityScore) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"season_id", "game_id",
			"completeness_score", "accuracy_score", "consistency_score",
			"timeliness_score", "overall_score",
			"total_checks", "passed_checks", "failed_checks", "warning_checks",
			"calculated_at",
		}),
	}).Create(score).Error
	if err != nil {
		return fmt.Errorf("storing quality score failed: %w", err)
	}
	return nil
}

// ratio converts a fraction to a clamped [0,100] percentage pointer.
func ratio(numerator, denominator float64) *float64 {
	v := numerator / denominator * 100
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}

// overall is the equal-weight mean of the non-nil sub-scores.
func overall(score *models.QualityScore) *float64 {
	var sum float64
	var n int
	for _, sub := range []*float64{
		score.AccuracyScore, score.CompletenessScore,
		score.ConsistencyScore, score.TimelinessScore,
	} {
		if sub != nil {
			sum += *sub
			n++
		}
	}
	if n == 0 {
		return nil
	}
	v := sum / float64(n)
	return &v
}

// meanOf averages one sub-score over the games that have it.
func meanOf(scores []models.QualityScore, pick func(*models.QualityScore) *float64) *float64 {
	var sum float64
	var n int
	for i := range scores {
		if v := pick(&scores[i]); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	v := sum / float64(n)
	return &v
}

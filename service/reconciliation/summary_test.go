package reconciliation

import (
	"context"
	"testing"

	"nhlrecon-service/service/models"
	"nhlrecon-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSummaryService(tdb *testutil.TestDB) *SummaryService {
	scorer := NewQualityScorer(tdb.DB)
	discrepancies := NewDiscrepancyService(tdb.DB)
	return NewSummaryService(tdb.DB, scorer, discrepancies)
}

func TestSeasonSummaryEmptySeason(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	svc := newSummaryService(tdb)

	summary, err := svc.SeasonSummary(context.Background(), "19992000")
	require.NoError(t, err)

	assert.Equal(t, "19992000", summary.SeasonID)
	assert.Equal(t, 0, summary.TotalGames)
	assert.Equal(t, 0, summary.GamesValidated)
	assert.Nil(t, summary.ReconciliationRate)
	assert.Equal(t, int64(0), summary.OpenDiscrepancies)
	assert.Empty(t, summary.TopFailingRules)
	assert.Empty(t, summary.SourceAccuracy)
	assert.Nil(t, summary.QualityScore)
	assert.Nil(t, summary.LastRunAt)
}

func TestSeasonSummaryAggregates(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	svc := newSummaryService(tdb)
	scorer := NewQualityScorer(tdb.DB)
	ctx := context.Background()

	rule := factory.CreateRule(func(r *models.ValidationRule) { r.Name = "goals_home_match" })
	game := factory.CreateGame()
	seasonID := game.SeasonID
	run := factory.CreateRun(func(r *models.ValidationRun) {
		r.SeasonID = &seasonID
		r.ScopeKey = "season:" + seasonID
	})

	factory.CreateResult(run.ID, rule.ID, game.ID)
	factory.CreateResult(run.ID, rule.ID, game.ID, func(r *models.ValidationResult) {
		r.Passed = false
	})
	factory.CreateDiscrepancy(rule.ID, game.ID, func(d *models.Discrepancy) {
		d.SeasonID = &seasonID
	})

	_, err := scorer.CalculateGameScore(ctx, game)
	require.NoError(t, err)
	_, err = scorer.CalculateSeasonScore(ctx, seasonID)
	require.NoError(t, err)

	summary, err := svc.SeasonSummary(ctx, seasonID)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TotalGames)
	assert.Equal(t, 1, summary.GamesValidated)
	assert.Equal(t, int64(2), summary.TotalChecks)
	assert.Equal(t, int64(1), summary.TotalPassed)
	require.NotNil(t, summary.ReconciliationRate)
	assert.InDelta(t, 50.0, *summary.ReconciliationRate, 0.01)

	assert.Equal(t, int64(1), summary.OpenDiscrepancies)

	require.Len(t, summary.TopFailingRules, 1)
	assert.Equal(t, 1, summary.TopFailingRules[0].Failed)
	assert.Equal(t, 2, summary.TopFailingRules[0].Checked)

	// both compared sources carry the rule's tallies
	require.Len(t, summary.SourceAccuracy, 2)
	assert.Equal(t, "html_report", summary.SourceAccuracy[0].Source)
	assert.Equal(t, "json_api", summary.SourceAccuracy[1].Source)
	assert.Equal(t, 2, summary.SourceAccuracy[0].Checked)
	assert.Equal(t, 1, summary.SourceAccuracy[0].Passed)

	require.NotNil(t, summary.QualityScore)
	assert.Equal(t, models.ScoreEntitySeason, summary.QualityScore.EntityType)

	require.NotNil(t, summary.LastRunAt)
	assert.Equal(t, models.RunStatusCompleted, summary.LastRunStatus)
}

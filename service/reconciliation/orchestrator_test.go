package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"nhlrecon-service/service/facts"
	"nhlrecon-service/service/models"
	"nhlrecon-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestOrchestrator(t *testing.T, db *gorm.DB, resolver facts.Resolver) *Orchestrator {
	t.Setenv("RECON_WORKERS", "1")
	registry := NewRuleRegistry(db)
	discrepancies := NewDiscrepancyService(db)
	scorer := NewQualityScorer(db)
	if resolver == nil {
		resolver = facts.NewDBResolver(db)
	}
	return NewOrchestrator(db, registry, resolver, discrepancies, scorer, nil, nil)
}

func awaitRun(t *testing.T, db *gorm.DB, runID string) *models.ValidationRun {
	var run models.ValidationRun
	require.Eventually(t, func() bool {
		if err := db.First(&run, "id = ?", runID).Error; err != nil {
			return false
		}
		return run.Status == models.RunStatusCompleted || run.Status == models.RunStatusFailed
	}, 10*time.Second, 20*time.Millisecond, "run should reach a terminal state")
	return &run
}

func TestScopeKeyDerivation(t *testing.T) {
	key, err := (&TriggerRunRequest{}).ScopeKey()
	require.NoError(t, err)
	assert.Equal(t, "all", key)

	key, err = (&TriggerRunRequest{SeasonID: "20232024"}).ScopeKey()
	require.NoError(t, err)
	assert.Equal(t, "season:20232024", key)

	key, err = (&TriggerRunRequest{GameID: "2023020001"}).ScopeKey()
	require.NoError(t, err)
	assert.Equal(t, "game:2023020001", key)

	_, err = (&TriggerRunRequest{SeasonID: "20232024", GameID: "2023020001"}).ScopeKey()
	assert.ErrorIs(t, err, ErrAmbiguousScope)
}

func TestTriggerRunGuardsActiveScope(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	o := newTestOrchestrator(t, tdb.DB, nil)
	ctx := context.Background()

	seasonID := "20232024"
	active := factory.CreateRun(func(r *models.ValidationRun) {
		r.SeasonID = &seasonID
		r.ScopeKey = "season:20232024"
		r.Status = models.RunStatusRunning
		r.CompletedAt = nil
	})

	resp, err := o.TriggerRun(ctx, &TriggerRunRequest{SeasonID: seasonID})
	require.NoError(t, err)
	assert.Equal(t, "already_running", resp.Status)
	assert.Equal(t, active.ID, resp.RunID)

	// a different scope is not blocked
	factory.CreateGame(func(g *models.Game) { g.ID = "2023020900" })
	resp, err = o.TriggerRun(ctx, &TriggerRunRequest{GameID: "2023020900"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, resp.Status)
	assert.NotEqual(t, active.ID, resp.RunID)
	awaitRun(t, tdb.DB, resp.RunID)
}

// slowResolver keeps a run active long enough for concurrent triggers to
// observe it.
type slowResolver struct {
	delay time.Duration
}

func (r slowResolver) GetValue(ctx context.Context, ref facts.EntityRef, field, source string) (*facts.Fact, error) {
	time.Sleep(r.delay)
	return nil, nil
}

func TestTriggerRunConcurrentDuplicates(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	o := newTestOrchestrator(t, tdb.DB, slowResolver{delay: 500 * time.Millisecond})
	ctx := context.Background()

	factory.CreateGame(func(g *models.Game) { g.SeasonID = "20242025" })
	factory.CreateRule()

	// rapid-succession triggers for the same scope: exactly one run starts
	type outcome struct {
		resp *TriggerRunResponse
		err  error
	}
	outcomes := make(chan outcome, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := o.TriggerRun(ctx, &TriggerRunRequest{SeasonID: "20242025"})
			outcomes <- outcome{resp: resp, err: err}
		}()
	}
	wg.Wait()
	close(outcomes)

	queued, busy := 0, 0
	var runID string
	for out := range outcomes {
		require.NoError(t, out.err)
		resp := out.resp
		switch resp.Status {
		case models.RunStatusQueued:
			queued++
			runID = resp.RunID
		case "already_running":
			busy++
			if runID == "" {
				runID = resp.RunID
			}
		}
	}
	assert.Equal(t, 1, queued)
	assert.Equal(t, 1, busy)

	var total int64
	require.NoError(t, tdb.DB.Model(&models.ValidationRun{}).
		Where("scope_key = ?", "season:20242025").Count(&total).Error)
	assert.Equal(t, int64(1), total)

	awaitRun(t, tdb.DB, runID)
}

func TestRunCompletesWithConsistentCounters(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	o := newTestOrchestrator(t, tdb.DB, nil)
	ctx := context.Background()

	game := factory.CreateGame()

	// rule 1 agrees, rule 2 disagrees, rule 3 is a failing warning
	factory.CreateRule(func(r *models.ValidationRule) {
		r.Name = "goals_home_match"
		r.Config["field"] = "goals_home"
	})
	factory.CreateRule(func(r *models.ValidationRule) {
		r.Name = "goals_away_match"
		r.Config["field"] = "goals_away"
	})
	factory.CreateRule(func(r *models.ValidationRule) {
		r.Name = "shots_match"
		r.Severity = models.SeverityWarning
		r.Config["field"] = "shots"
	})

	factory.CreateFact(game.ID, "json_api", "goals_home", 3)
	factory.CreateFact(game.ID, "html_report", "goals_home", 3)
	factory.CreateFact(game.ID, "json_api", "goals_away", 2)
	factory.CreateFact(game.ID, "html_report", "goals_away", 4)
	factory.CreateFact(game.ID, "json_api", "shots", 30)
	factory.CreateFact(game.ID, "html_report", "shots", 25)

	resp, err := o.TriggerRun(ctx, &TriggerRunRequest{GameID: game.ID})
	require.NoError(t, err)
	require.Equal(t, models.RunStatusQueued, resp.Status)

	run := awaitRun(t, tdb.DB, resp.RunID)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, int64(3), run.RulesChecked)
	assert.Equal(t, int64(1), run.TotalPassed)
	assert.Equal(t, int64(1), run.TotalFailed)
	assert.Equal(t, int64(1), run.TotalWarnings)

	// counters match the persisted result set exactly
	var resultCount int64
	tdb.DB.Model(&models.ValidationResult{}).Where("run_id = ?", run.ID).Count(&resultCount)
	assert.Equal(t, run.TotalPassed+run.TotalFailed+run.TotalWarnings, resultCount)

	// the two failing checks opened discrepancies
	var discrepancies []models.Discrepancy
	tdb.DB.Find(&discrepancies)
	assert.Len(t, discrepancies, 2)

	// completion refreshed the game and season scores
	var score models.QualityScore
	require.NoError(t, tdb.DB.First(&score, "entity_type = ? AND entity_id = ?",
		models.ScoreEntityGame, game.ID).Error)
	assert.Equal(t, int64(3), score.TotalChecks)
	require.NotNil(t, score.AccuracyScore)
	assert.InDelta(t, 100.0/3, *score.AccuracyScore, 0.01)

	var seasonScore models.QualityScore
	require.NoError(t, tdb.DB.First(&seasonScore, "entity_type = ? AND entity_id = ?",
		models.ScoreEntitySeason, game.SeasonID).Error)
}

func TestRunRecordsMissingSourceAsFailure(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	o := newTestOrchestrator(t, tdb.DB, nil)
	ctx := context.Background()

	game := factory.CreateGame()
	factory.CreateRule()
	factory.CreateFact(game.ID, "json_api", "goals_home", 3)
	// html_report never reported goals_home

	resp, err := o.TriggerRun(ctx, &TriggerRunRequest{GameID: game.ID})
	require.NoError(t, err)
	run := awaitRun(t, tdb.DB, resp.RunID)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, int64(0), run.TotalPassed)
	assert.Equal(t, int64(1), run.TotalFailed)

	var result models.ValidationResult
	require.NoError(t, tdb.DB.First(&result, "run_id = ?", run.ID).Error)
	assert.False(t, result.Passed)
	assert.Nil(t, result.Difference)
}

// unavailableResolver simulates an upstream storage outage.
type unavailableResolver struct{}

func (unavailableResolver) GetValue(ctx context.Context, ref facts.EntityRef, field, source string) (*facts.Fact, error) {
	return nil, fmt.Errorf("%w: connection refused", facts.ErrUnavailable)
}

func TestRunFailsWhenResolverUnavailable(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	o := newTestOrchestrator(t, tdb.DB, unavailableResolver{})
	ctx := context.Background()

	game := factory.CreateGame()
	factory.CreateRule()

	resp, err := o.TriggerRun(ctx, &TriggerRunRequest{GameID: game.ID})
	require.NoError(t, err)
	run := awaitRun(t, tdb.DB, resp.RunID)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "unavailable")
	assert.NotNil(t, run.CompletedAt)
}

func TestGetRunAndListRuns(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	o := newTestOrchestrator(t, tdb.DB, nil)
	ctx := context.Background()

	rule := factory.CreateRule()
	game := factory.CreateGame()
	run := factory.CreateRun()
	factory.CreateResult(run.ID, rule.ID, game.ID)

	detail, err := o.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, detail.ID)
	assert.Len(t, detail.Results, 1)

	runs, total, err := o.ListRuns(ctx, "", "", models.RunStatusCompleted, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, runs, 1)

	_, err = o.GetRun(ctx, "00000000-0000-0000-0000-000000000000")
	assert.Error(t, err)
}

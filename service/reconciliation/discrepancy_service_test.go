package reconciliation

import (
	"context"
	"testing"

	"nhlrecon-service/service/facts"
	"nhlrecon-service/service/models"
	"nhlrecon-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failedCheck(entityID string) *ReconciliationCheck {
	diff := 2.0
	return &ReconciliationCheck{
		RuleName:     "goals_match",
		EntityType:   "game",
		EntityID:     entityID,
		FieldName:    "goals_home",
		SourceA:      "json_api",
		SourceAValue: numericFact(3),
		SourceB:      "html_report",
		SourceBValue: numericFact(5),
		Difference:   &diff,
		Passed:       false,
		Message:      "goals_home disagrees",
		Complete:     true,
		Numeric:      true,
	}
}

func TestRecordFailureDedupsOnOpenKey(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	svc := NewDiscrepancyService(tdb.DB)
	factory := testutil.NewTestDataFactory(tdb.DB)
	ctx := context.Background()

	rule := factory.CreateRule()
	game := factory.CreateGame()
	run := factory.CreateRun()
	result1 := factory.CreateResult(run.ID, rule.ID, game.ID)
	result2 := factory.CreateResult(run.ID, rule.ID, game.ID)
	ref := facts.EntityRef{EntityType: "game", EntityID: game.ID, GameID: game.ID, SeasonID: game.SeasonID}

	first, created, err := svc.RecordFailure(ctx, failedCheck(game.ID), rule, result1.ID, ref)
	require.NoError(t, err)
	assert.True(t, created)

	// same key fails again in a later run: folded into the open record
	second, created, err := svc.RecordFailure(ctx, failedCheck(game.ID), rule, result2.ID, ref)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	tdb.DB.Model(&models.Discrepancy{}).Count(&count)
	assert.Equal(t, int64(1), count)

	reloaded, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.SeenCount)
	require.NotNil(t, reloaded.ResultID)
	assert.Equal(t, result2.ID, *reloaded.ResultID)
}

func TestRecordFailureOpensSiblingAfterClosure(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	svc := NewDiscrepancyService(tdb.DB)
	factory := testutil.NewTestDataFactory(tdb.DB)
	ctx := context.Background()

	rule := factory.CreateRule()
	game := factory.CreateGame()
	run := factory.CreateRun()
	result := factory.CreateResult(run.ID, rule.ID, game.ID)
	ref := facts.EntityRef{EntityType: "game", EntityID: game.ID, GameID: game.ID, SeasonID: game.SeasonID}

	first, _, err := svc.RecordFailure(ctx, failedCheck(game.ID), rule, result.ID, ref)
	require.NoError(t, err)

	for _, status := range []string{models.DiscrepancyResolved, models.DiscrepancyIgnored} {
		_, err = svc.SetResolution(ctx, first.ID, &ResolveDiscrepancyRequest{
			Status: status, ResolvedBy: "tester",
		})
		require.NoError(t, err)

		// a closed discrepancy never absorbs new failures
		sibling, created, err := svc.RecordFailure(ctx, failedCheck(game.ID), rule, result.ID, ref)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, sibling.ID)
		first = sibling
	}

	var count int64
	tdb.DB.Model(&models.Discrepancy{}).Count(&count)
	assert.Equal(t, int64(3), count)
}

func TestSetResolutionIsIdempotent(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	svc := NewDiscrepancyService(tdb.DB)
	factory := testutil.NewTestDataFactory(tdb.DB)
	ctx := context.Background()

	rule := factory.CreateRule()
	game := factory.CreateGame()
	d := factory.CreateDiscrepancy(rule.ID, game.ID)

	_, err := svc.SetResolution(ctx, d.ID, &ResolveDiscrepancyRequest{
		Status: models.DiscrepancyResolved, Notes: "manually verified", ResolvedBy: "tester",
	})
	require.NoError(t, err)
	first, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ResolvedAt)

	again, err := svc.SetResolution(ctx, d.ID, &ResolveDiscrepancyRequest{
		Status: models.DiscrepancyResolved, ResolvedBy: "someone_else",
	})
	require.NoError(t, err)
	require.NotNil(t, again.ResolvedAt)
	assert.Equal(t, first.ResolvedAt.Unix(), again.ResolvedAt.Unix())
	assert.Equal(t, "tester", again.ResolvedBy)
}

func TestSetResolutionKeepsClosedState(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	svc := NewDiscrepancyService(tdb.DB)
	factory := testutil.NewTestDataFactory(tdb.DB)
	ctx := context.Background()

	rule := factory.CreateRule()
	game := factory.CreateGame()
	d := factory.CreateDiscrepancy(rule.ID, game.ID)

	_, err := svc.SetResolution(ctx, d.ID, &ResolveDiscrepancyRequest{
		Status: models.DiscrepancyResolved, Notes: "confirmed against the official report", ResolvedBy: "alice",
	})
	require.NoError(t, err)

	// a closed discrepancy never changes status
	_, err = svc.SetResolution(ctx, d.ID, &ResolveDiscrepancyRequest{
		Status: models.DiscrepancyIgnored, Notes: "noise", ResolvedBy: "bob",
	})
	require.NoError(t, err)

	loaded, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DiscrepancyResolved, loaded.ResolutionStatus)
	assert.Equal(t, "alice", loaded.ResolvedBy)
	assert.Equal(t, "confirmed against the official report", loaded.ResolutionNotes)
}

func TestSetResolutionRejectsInvalidStatus(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	svc := NewDiscrepancyService(tdb.DB)
	factory := testutil.NewTestDataFactory(tdb.DB)

	rule := factory.CreateRule()
	game := factory.CreateGame()
	d := factory.CreateDiscrepancy(rule.ID, game.ID)

	_, err := svc.SetResolution(context.Background(), d.ID, &ResolveDiscrepancyRequest{Status: "closed"})
	assert.Error(t, err)

	_, err = svc.SetResolution(context.Background(), d.ID, &ResolveDiscrepancyRequest{Status: models.DiscrepancyOpen})
	assert.Error(t, err)
}

func TestListDiscrepanciesFiltersAndPages(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	svc := NewDiscrepancyService(tdb.DB)
	factory := testutil.NewTestDataFactory(tdb.DB)
	ctx := context.Background()

	rule := factory.CreateRule()
	game := factory.CreateGame()
	factory.CreateDiscrepancy(rule.ID, game.ID)
	factory.CreateDiscrepancy(rule.ID, game.ID, func(d *models.Discrepancy) {
		d.FieldName = "goals_away"
		d.Severity = models.SeverityWarning
	})
	factory.CreateDiscrepancy(rule.ID, game.ID, func(d *models.Discrepancy) {
		d.FieldName = "shots"
		d.ResolutionStatus = models.DiscrepancyResolved
	})

	open, total, err := svc.List(ctx, &DiscrepancyFilter{Status: models.DiscrepancyOpen})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, open, 2)

	warnings, total, err := svc.List(ctx, &DiscrepancyFilter{Severity: models.SeverityWarning})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, warnings, 1)

	paged, total, err := svc.List(ctx, &DiscrepancyFilter{Page: 2, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, paged, 1)
}

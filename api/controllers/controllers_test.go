package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhlrecon-service/service/facts"
	"nhlrecon-service/service/models"
	"nhlrecon-service/service/reconciliation"
	"nhlrecon-service/testutil"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// newTestRouter wires the full route tree against an in-memory database.
func newTestRouter(t *testing.T, tdb *testutil.TestDB) *chi.Mux {
	t.Setenv("RECON_WORKERS", "1")

	registry := reconciliation.NewRuleRegistry(tdb.DB)
	discrepancies := reconciliation.NewDiscrepancyService(tdb.DB)
	scorer := reconciliation.NewQualityScorer(tdb.DB)
	_ = reconciliation.NewSummaryService(tdb.DB, scorer, discrepancies)
	exporter := reconciliation.NewExportService(tdb.DB)
	orchestrator := reconciliation.NewOrchestrator(tdb.DB, registry,
		facts.NewDBResolver(tdb.DB), discrepancies, scorer, nil, nil)

	r := chi.NewRouter()

	ruleController := NewRuleController(registry)
	r.Post("/rules", ruleController.CreateRule)
	r.Get("/rules", ruleController.ListRules)
	r.Get("/rules/{id}", ruleController.GetRule)

	validationController := NewValidationController(orchestrator, exporter)
	r.Post("/validation/runs", validationController.TriggerRun)
	r.Get("/validation/runs/{id}/export", validationController.ExportRun)

	discrepancyController := NewDiscrepancyController(discrepancies, exporter)
	r.Put("/discrepancies/{id}/resolution", discrepancyController.ResolveDiscrepancy)
	r.Get("/discrepancies/{id}", discrepancyController.GetDiscrepancy)

	scoreController := NewScoreController(scorer)
	r.Get("/scores", scoreController.ListScores)

	return r
}

func TestRuleEndpoints(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	router := newTestRouter(t, tdb)
	h := testutil.NewHTTPTestHelper()

	req, err := h.CreateJSONRequest(http.MethodPost, "/rules", reconciliation.RuleUpsertRequest{
		Name:     "shots_home_match",
		Category: "scoring",
		Severity: models.SeverityError,
		Config: models.JSONB{
			"check_type":  "numeric",
			"entity_type": "game",
			"field":       "shots_home",
			"source_a":    "json_api",
			"source_b":    "html_report",
			"tolerance":   1,
		},
	})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var created envelope
	h.DecodeEnvelope(t, w, &created)
	require.Equal(t, http.StatusCreated, created.Status)

	var rule models.ValidationRule
	require.NoError(t, json.Unmarshal(created.Data, &rule))
	assert.NotEmpty(t, rule.ID)
	assert.True(t, rule.IsActive)

	req = httptest.NewRequest(http.MethodGet, "/rules/"+rule.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var fetched envelope
	h.DecodeEnvelope(t, w, &fetched)
	assert.Equal(t, http.StatusOK, fetched.Status)

	req = httptest.NewRequest(http.MethodGet, "/rules/00000000-0000-0000-0000-000000000000", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var missing envelope
	h.DecodeEnvelope(t, w, &missing)
	assert.Equal(t, http.StatusNotFound, missing.Status)
}

func TestTriggerRunRejectsAmbiguousScope(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	router := newTestRouter(t, tdb)
	h := testutil.NewHTTPTestHelper()

	req, err := h.CreateJSONRequest(http.MethodPost, "/validation/runs", reconciliation.TriggerRunRequest{
		SeasonID: "20232024",
		GameID:   "2023020001",
	})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp envelope
	h.DecodeEnvelope(t, w, &resp)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestTriggerRunQueuesGameScope(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	router := newTestRouter(t, tdb)
	h := testutil.NewHTTPTestHelper()

	game := factory.CreateGame()

	req, err := h.CreateJSONRequest(http.MethodPost, "/validation/runs", reconciliation.TriggerRunRequest{
		GameID:      game.ID,
		TriggeredBy: "tester",
	})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp envelope
	h.DecodeEnvelope(t, w, &resp)
	require.Equal(t, http.StatusOK, resp.Status)

	var trigger reconciliation.TriggerRunResponse
	require.NoError(t, json.Unmarshal(resp.Data, &trigger))
	assert.NotEmpty(t, trigger.RunID)
	assert.Equal(t, models.RunStatusQueued, trigger.Status)

	// let the background run reach a terminal state before the DB closes
	require.Eventually(t, func() bool {
		var run models.ValidationRun
		if err := tdb.DB.First(&run, "id = ?", trigger.RunID).Error; err != nil {
			return false
		}
		return !run.IsActive()
	}, 10*time.Second, 20*time.Millisecond)
}

func TestResolveDiscrepancyEndpoint(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	router := newTestRouter(t, tdb)
	h := testutil.NewHTTPTestHelper()

	rule := factory.CreateRule()
	game := factory.CreateGame()
	d := factory.CreateDiscrepancy(rule.ID, game.ID)

	req, err := h.CreateJSONRequest(http.MethodPut, "/discrepancies/"+d.ID+"/resolution",
		reconciliation.ResolveDiscrepancyRequest{
			Status:     models.DiscrepancyResolved,
			Notes:      "manually confirmed against the official report",
			ResolvedBy: "tester",
		})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp envelope
	h.DecodeEnvelope(t, w, &resp)
	require.Equal(t, http.StatusOK, resp.Status)

	var updated models.Discrepancy
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.Equal(t, models.DiscrepancyResolved, updated.ResolutionStatus)

	// invalid status is a request error
	req, err = h.CreateJSONRequest(http.MethodPut, "/discrepancies/"+d.ID+"/resolution",
		reconciliation.ResolveDiscrepancyRequest{Status: "closed"})
	require.NoError(t, err)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var bad envelope
	h.DecodeEnvelope(t, w, &bad)
	assert.Equal(t, http.StatusBadRequest, bad.Status)
}

func TestListScoresEndpoint(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	router := newTestRouter(t, tdb)
	h := testutil.NewHTTPTestHelper()

	for i := 0; i < 3; i++ {
		gameID := fmt.Sprintf("202302%04d", i+1)
		require.NoError(t, tdb.DB.Create(&models.QualityScore{
			SeasonID:   "20232024",
			GameID:     &gameID,
			EntityType: models.ScoreEntityGame,
			EntityID:   gameID,
		}).Error)
	}

	req := httptest.NewRequest(http.MethodGet, "/scores?season_id=20232024&entity_type=game&page=1&size=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var page struct {
		Status int                   `json:"status"`
		Data   []models.QualityScore `json:"data"`
		Total  int64                 `json:"total"`
		Size   int                   `json:"size"`
	}
	h.DecodeEnvelope(t, w, &page)
	assert.Equal(t, http.StatusOK, page.Status)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, 2, page.Size)
}

func TestExportRunEndpoint(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	router := newTestRouter(t, tdb)

	rule := factory.CreateRule()
	game := factory.CreateGame()
	run := factory.CreateRun()
	factory.CreateResult(run.ID, rule.ID, game.ID)

	req := httptest.NewRequest(http.MethodGet, "/validation/runs/"+run.ID+"/export?format=csv", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	assert.True(t, strings.HasPrefix(w.Body.String(), "result_id,"))
}

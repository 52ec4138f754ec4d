/*
 * @module testutil/test_helper
 * @description Test utilities and data factories
 * @architecture Test infrastructure - shared fixtures and factories
 * @documentReference dev_docs/test_plan.md
 * @stateFlow Test environment setup -> test data creation -> test execution -> cleanup
 * @rules Reusable test helpers keep the test environment consistent
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models
 */

package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhlrecon-service/service/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB wraps an in-memory database for tests.
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB creates an isolated in-memory database with the full schema.
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// one shared connection keeps the in-memory database visible to every
	// goroutine the code under test spawns
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	err = db.AutoMigrate(
		&models.Game{},
		&models.SourceFact{},
		&models.ValidationRule{},
		&models.ValidationRun{},
		&models.ValidationResult{},
		&models.Discrepancy{},
		&models.QualityScore{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB empties every table between test cases.
func (tdb *TestDB) CleanDB() {
	tables := []string{
		"validation_results",
		"validation_runs",
		"discrepancies",
		"quality_scores",
		"validation_rules",
		"source_facts",
		"games",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close shuts the database connection down.
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory creates persisted fixtures.
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory creates a test data factory.
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// RuleOption mutates a rule fixture.
type RuleOption func(*models.ValidationRule)

// CreateRule persists a numeric goals comparison rule by default.
func (f *TestDataFactory) CreateRule(opts ...RuleOption) *models.ValidationRule {
	rule := &models.ValidationRule{
		ID:       uuid.New().String(),
		Name:     "test_rule_" + generateSuffix(),
		Category: "scoring",
		Severity: models.SeverityError,
		Config: models.JSONB{
			"check_type":  "numeric",
			"entity_type": "game",
			"field":       "goals_home",
			"source_a":    "json_api",
			"source_b":    "html_report",
			"tolerance":   0,
		},
		IsActive:  true,
		CreatedBy: "test",
		UpdatedBy: "test",
	}

	for _, opt := range opts {
		opt(rule)
	}

	if err := f.DB.Create(rule).Error; err != nil {
		panic(fmt.Sprintf("failed to create test rule: %v", err))
	}
	return rule
}

// GameOption mutates a game fixture.
type GameOption func(*models.Game)

// CreateGame persists a final regular-season game by default.
func (f *TestDataFactory) CreateGame(opts ...GameOption) *models.Game {
	finalAt := time.Now().Add(-48 * time.Hour)
	game := &models.Game{
		ID:       "2023020" + generateSuffix(),
		SeasonID: "20232024",
		GameDate: finalAt.Add(-3 * time.Hour),
		HomeTeam: "TOR",
		AwayTeam: "MTL",
		Status:   "final",
		FinalAt:  &finalAt,
	}

	for _, opt := range opts {
		opt(game)
	}

	if err := f.DB.Create(game).Error; err != nil {
		panic(fmt.Sprintf("failed to create test game: %v", err))
	}
	return game
}

// FactOption mutates a source fact fixture.
type FactOption func(*models.SourceFact)

// CreateFact persists one numeric observation for a game field.
func (f *TestDataFactory) CreateFact(gameID, source, field string, value float64, opts ...FactOption) *models.SourceFact {
	recordedAt := time.Now().Add(-40 * time.Hour)
	fact := &models.SourceFact{
		ID:           uuid.New().String(),
		GameID:       gameID,
		SeasonID:     "20232024",
		EntityType:   "game",
		EntityID:     gameID,
		FieldName:    field,
		SourceName:   source,
		NumericValue: &value,
		RecordedAt:   &recordedAt,
	}

	for _, opt := range opts {
		opt(fact)
	}

	if err := f.DB.Create(fact).Error; err != nil {
		panic(fmt.Sprintf("failed to create test fact: %v", err))
	}
	return fact
}

// CreateTextFact persists one text observation for a game field.
func (f *TestDataFactory) CreateTextFact(gameID, source, field, value string, opts ...FactOption) *models.SourceFact {
	recordedAt := time.Now().Add(-40 * time.Hour)
	fact := &models.SourceFact{
		ID:         uuid.New().String(),
		GameID:     gameID,
		SeasonID:   "20232024",
		EntityType: "game",
		EntityID:   gameID,
		FieldName:  field,
		SourceName: source,
		TextValue:  &value,
		RecordedAt: &recordedAt,
	}

	for _, opt := range opts {
		opt(fact)
	}

	if err := f.DB.Create(fact).Error; err != nil {
		panic(fmt.Sprintf("failed to create test fact: %v", err))
	}
	return fact
}

// RunOption mutates a run fixture.
type RunOption func(*models.ValidationRun)

// CreateRun persists a completed full-scope run by default.
func (f *TestDataFactory) CreateRun(opts ...RunOption) *models.ValidationRun {
	completed := time.Now()
	run := &models.ValidationRun{
		ID:          uuid.New().String(),
		ScopeKey:    "all",
		Status:      models.RunStatusCompleted,
		StartedAt:   completed.Add(-time.Minute),
		CompletedAt: &completed,
		TriggeredBy: "manual",
	}

	for _, opt := range opts {
		opt(run)
	}

	if err := f.DB.Create(run).Error; err != nil {
		panic(fmt.Sprintf("failed to create test run: %v", err))
	}
	return run
}

// ResultOption mutates a result fixture.
type ResultOption func(*models.ValidationResult)

// CreateResult persists a passed game-level check result by default.
func (f *TestDataFactory) CreateResult(runID, ruleID, gameID string, opts ...ResultOption) *models.ValidationResult {
	result := &models.ValidationResult{
		ID:         uuid.New().String(),
		RunID:      runID,
		RuleID:     ruleID,
		RuleName:   "test_rule",
		GameID:     &gameID,
		EntityType: "game",
		EntityID:   gameID,
		FieldName:  "goals_home",
		Passed:     true,
		Severity:   models.SeverityError,
		Details:    models.JSONB{"complete": true},
	}

	for _, opt := range opts {
		opt(result)
	}

	if err := f.DB.Create(result).Error; err != nil {
		panic(fmt.Sprintf("failed to create test result: %v", err))
	}
	return result
}

// DiscrepancyOption mutates a discrepancy fixture.
type DiscrepancyOption func(*models.Discrepancy)

// CreateDiscrepancy persists an open discrepancy by default.
func (f *TestDataFactory) CreateDiscrepancy(ruleID, gameID string, opts ...DiscrepancyOption) *models.Discrepancy {
	a, b := "3", "5"
	d := &models.Discrepancy{
		ID:               uuid.New().String(),
		RuleID:           ruleID,
		RuleName:         "test_rule",
		GameID:           &gameID,
		EntityType:       "game",
		EntityID:         gameID,
		FieldName:        "goals_home",
		SourceA:          "json_api",
		SourceAValue:     &a,
		SourceB:          "html_report",
		SourceBValue:     &b,
		Severity:         models.SeverityError,
		Message:          "goals_home disagrees",
		ResolutionStatus: models.DiscrepancyOpen,
		FirstSeenAt:      time.Now(),
		LastSeenAt:       time.Now(),
		SeenCount:        1,
	}

	for _, opt := range opts {
		opt(d)
	}

	if err := f.DB.Create(d).Error; err != nil {
		panic(fmt.Sprintf("failed to create test discrepancy: %v", err))
	}
	return d
}

var suffixCounter int

func generateSuffix() string {
	suffixCounter++
	return fmt.Sprintf("%03d", suffixCounter)
}

// HTTPTestHelper wraps request construction and response assertions.
type HTTPTestHelper struct{}

// NewHTTPTestHelper creates an HTTP test helper.
func NewHTTPTestHelper() *HTTPTestHelper {
	return &HTTPTestHelper{}
}

// CreateJSONRequest builds a request with a JSON body.
func (h *HTTPTestHelper) CreateJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// DecodeEnvelope unmarshals a recorded response body into target.
func (h *HTTPTestHelper) DecodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, target interface{}) {
	err := json.Unmarshal(w.Body.Bytes(), target)
	assert.NoError(t, err, "response body should be valid JSON")
}

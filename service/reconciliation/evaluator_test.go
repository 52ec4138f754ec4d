package reconciliation

import (
	"testing"

	"nhlrecon-service/service/facts"
	"nhlrecon-service/service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numericFact(v float64) *facts.Fact {
	return &facts.Fact{Numeric: &v}
}

func textFact(v string) *facts.Fact {
	return &facts.Fact{Text: &v}
}

func numericRule(tolerance float64) *models.ValidationRule {
	return &models.ValidationRule{
		Name:     "goals_match",
		Severity: models.SeverityError,
		Config: models.JSONB{
			"check_type":  "numeric",
			"entity_type": "game",
			"field":       "goals_home",
			"source_a":    "json_api",
			"source_b":    "html_report",
			"tolerance":   tolerance,
		},
	}
}

func gameRef() facts.EntityRef {
	return facts.EntityRef{
		EntityType: "game",
		EntityID:   "2023020001",
		GameID:     "2023020001",
		SeasonID:   "20232024",
	}
}

func TestEvaluateNumericExactMatch(t *testing.T) {
	rule := numericRule(0)
	spec, err := ParseRuleSpec(rule)
	require.NoError(t, err)

	check := NewEvaluator().Evaluate(rule, spec, gameRef(), numericFact(3), numericFact(3))

	assert.True(t, check.Passed)
	assert.True(t, check.Complete)
	require.NotNil(t, check.Difference)
	assert.Equal(t, 0.0, *check.Difference)
	assert.Empty(t, check.Message)
}

func TestEvaluateNumericMismatch(t *testing.T) {
	rule := numericRule(0)
	spec, err := ParseRuleSpec(rule)
	require.NoError(t, err)

	check := NewEvaluator().Evaluate(rule, spec, gameRef(), numericFact(3), numericFact(5))

	assert.False(t, check.Passed)
	require.NotNil(t, check.Difference)
	assert.Equal(t, 2.0, *check.Difference)
	assert.Contains(t, check.Message, "goals_home")
	assert.Contains(t, check.Message, "json_api")
	assert.Contains(t, check.Message, "html_report")
}

func TestEvaluateNumericWithinTolerance(t *testing.T) {
	rule := numericRule(2)
	spec, err := ParseRuleSpec(rule)
	require.NoError(t, err)

	check := NewEvaluator().Evaluate(rule, spec, gameRef(), numericFact(600), numericFact(598.5))

	assert.True(t, check.Passed)
	require.NotNil(t, check.Difference)
	assert.InDelta(t, 1.5, *check.Difference, 1e-9)
}

func TestEvaluateNumericMissingSource(t *testing.T) {
	rule := numericRule(0)
	spec, err := ParseRuleSpec(rule)
	require.NoError(t, err)

	// A source with no record fails the check; it must not be treated as 0.
	check := NewEvaluator().Evaluate(rule, spec, gameRef(), numericFact(3), nil)

	assert.False(t, check.Passed)
	assert.False(t, check.Complete)
	assert.Nil(t, check.Difference)
	assert.Contains(t, check.Message, "html_report")
	assert.Contains(t, check.Message, "no goals_home")
}

func TestEvaluateNumericNonNumericValue(t *testing.T) {
	rule := numericRule(0)
	spec, err := ParseRuleSpec(rule)
	require.NoError(t, err)

	check := NewEvaluator().Evaluate(rule, spec, gameRef(), numericFact(3), textFact("three"))

	assert.False(t, check.Passed)
	assert.Nil(t, check.Difference)
	assert.Contains(t, check.Message, "non-numeric")
}

func TestEvaluateCategorical(t *testing.T) {
	rule := &models.ValidationRule{
		Name:     "game_outcome_match",
		Severity: models.SeverityError,
		Config: models.JSONB{
			"check_type":  "categorical",
			"entity_type": "game",
			"field":       "outcome",
			"source_a":    "json_api",
			"source_b":    "html_report",
		},
	}
	spec, err := ParseRuleSpec(rule)
	require.NoError(t, err)
	e := NewEvaluator()

	match := e.Evaluate(rule, spec, gameRef(), textFact("home_win"), textFact("home_win"))
	assert.True(t, match.Passed)
	assert.Nil(t, match.Difference)

	mismatch := e.Evaluate(rule, spec, gameRef(), textFact("home_win"), textFact("away_win"))
	assert.False(t, mismatch.Passed)
	assert.Nil(t, mismatch.Difference)
	assert.Contains(t, mismatch.Message, "outcome")
}

func TestEvaluatePresence(t *testing.T) {
	rule := &models.ValidationRule{
		Name:     "boxscore_present",
		Severity: models.SeverityWarning,
		Config: models.JSONB{
			"check_type":  "presence",
			"entity_type": "game",
			"field":       "boxscore_loaded",
			"source_a":    "json_api",
		},
	}
	spec, err := ParseRuleSpec(rule)
	require.NoError(t, err)
	e := NewEvaluator()

	present := e.Evaluate(rule, spec, gameRef(), numericFact(1), nil)
	assert.True(t, present.Passed)

	absent := e.Evaluate(rule, spec, gameRef(), nil, nil)
	assert.False(t, absent.Passed)
	assert.Contains(t, absent.Message, "no record")
}

func TestEvaluateExpression(t *testing.T) {
	rule := &models.ValidationRule{
		Name:     "shots_sanity",
		Severity: models.SeverityWarning,
		Config: models.JSONB{
			"check_type":  "expression",
			"entity_type": "game",
			"field":       "shots_total",
			"source_a":    "json_api",
			"source_b":    "html_report",
			"expression":  "aSet && bSet && math.Abs(a-b) <= 1",
		},
	}
	spec, err := ParseRuleSpec(rule)
	require.NoError(t, err)
	e := NewEvaluator()

	pass := e.Evaluate(rule, spec, gameRef(), numericFact(30), numericFact(31))
	assert.True(t, pass.Passed)

	fail := e.Evaluate(rule, spec, gameRef(), numericFact(30), numericFact(40))
	assert.False(t, fail.Passed)

	missing := e.Evaluate(rule, spec, gameRef(), numericFact(30), nil)
	assert.False(t, missing.Passed)
}

func TestParseRuleSpecRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name   string
		config models.JSONB
	}{
		{"unknown check type", models.JSONB{
			"check_type": "fuzzy", "field": "x", "source_a": "a", "source_b": "b",
		}},
		{"missing field", models.JSONB{
			"check_type": "numeric", "source_a": "a", "source_b": "b",
		}},
		{"missing source_b for numeric", models.JSONB{
			"check_type": "numeric", "field": "x", "source_a": "a",
		}},
		{"expression without expression", models.JSONB{
			"check_type": "expression", "field": "x", "source_a": "a", "source_b": "b",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRuleSpec(&models.ValidationRule{Name: "broken", Config: tc.config})
			assert.Error(t, err)
		})
	}
}

func TestParseRuleSpecSoftToleranceDefaults(t *testing.T) {
	rule := numericRule(0)
	spec, err := ParseRuleSpec(rule)
	require.NoError(t, err)
	kind, ok := spec.Kind.(NumericCheck)
	require.True(t, ok)
	assert.Equal(t, 1.0, kind.SoftTolerance)

	rule = numericRule(2)
	spec, err = ParseRuleSpec(rule)
	require.NoError(t, err)
	kind = spec.Kind.(NumericCheck)
	assert.Equal(t, 6.0, kind.SoftTolerance)

	rule = numericRule(2)
	rule.Config["soft_tolerance"] = 10
	spec, err = ParseRuleSpec(rule)
	require.NoError(t, err)
	kind = spec.Kind.(NumericCheck)
	assert.Equal(t, 10.0, kind.SoftTolerance)
}

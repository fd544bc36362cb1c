package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPatternSupport(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		wantError bool
	}{
		{name: "plain pattern", pattern: "^google\\.", wantError: false},
		{name: "alternation", pattern: "(cpc|ppc|paid)", wantError: false},
		{name: "lookahead", pattern: "foo(?=bar)", wantError: true},
		{name: "negative lookahead", pattern: "foo(?!bar)", wantError: true},
		{name: "lookbehind", pattern: "(?<=foo)bar", wantError: true},
		{name: "negative lookbehind", pattern: "(?<!foo)bar", wantError: true},
		{name: "unbalanced bracket", pattern: "[unclosed", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPatternSupport(tt.pattern)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSnapshotAcceptsValidRules(t *testing.T) {
	assert.NoError(t, ValidateSnapshot(hashFixture()))
}

func TestValidateSnapshotCollectsAllViolations(t *testing.T) {
	ruleSet := []FilterDefinition{
		{
			// Missing id and out-of-range priority.
			Name:     "broken",
			Priority: 2000,
			Enabled:  true,
			Conditions: []FilterCondition{
				{Field: "password", Operator: OperatorEquals, Value: "x"},
				{Field: "utm_source", Operator: Operator("fuzzy"), Value: "x"},
				{Field: "utm_medium", Operator: OperatorEquals},
				{Field: "referrer", Operator: OperatorRegex, Value: "(?=lookahead)"},
			},
			Operations: []FilterOperation{
				{Dimension: "session_id", Action: ActionSetValue, Value: "x"},
				{Dimension: "channel", Action: Action("increment"), Value: "x"},
				{Dimension: "channel", Action: ActionSetValue},
			},
		},
	}

	err := ValidateSnapshot(ruleSet)
	require.Error(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Len(t, vErr.Violations, 9)
}

func TestValidateSnapshotChecksDisabledRules(t *testing.T) {
	ruleSet := []FilterDefinition{
		{
			ID:       "r-off",
			Priority: 50,
			Enabled:  false,
			Operations: []FilterOperation{
				{Dimension: "not_a_dimension", Action: ActionSetValue, Value: "x"},
			},
		},
	}

	assert.Error(t, ValidateSnapshot(ruleSet))
}

func TestValidateSnapshotValueFreeOperators(t *testing.T) {
	ruleSet := []FilterDefinition{
		{
			ID:       "r-1",
			Priority: 10,
			Enabled:  true,
			Conditions: []FilterCondition{
				{Field: "referrer", Operator: OperatorIsEmpty},
				{Field: "utm_source", Operator: OperatorIsNotEmpty},
			},
			Operations: []FilterOperation{
				{Dimension: "channel", Action: ActionUnsetValue},
			},
		},
	}

	assert.NoError(t, ValidateSnapshot(ruleSet))
}

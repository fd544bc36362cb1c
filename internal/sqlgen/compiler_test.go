package sqlgen

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refinery/internal/rules"
)

func strPtr(s string) *string {
	return &s
}

func compilerFixture() []rules.FilterDefinition {
	return []rules.FilterDefinition{
		{
			ID:       "r-paid",
			Priority: 90,
			Enabled:  true,
			Conditions: []rules.FilterCondition{
				{Field: "utm_medium", Operator: rules.OperatorEquals, Value: "cpc"},
			},
			Operations: []rules.FilterOperation{
				{Dimension: "channel", Action: rules.ActionSetValue, Value: "paid_search"},
			},
		},
		{
			ID:       "r-direct",
			Priority: 10,
			Enabled:  true,
			Operations: []rules.FilterOperation{
				{Dimension: "channel", Action: rules.ActionSetDefaultValue, Value: "direct"},
			},
		},
	}
}

func TestCompileStructure(t *testing.T) {
	compiled, err := Compile(compilerFixture())
	require.NoError(t, err)

	assert.Equal(t, []string{"channel"}, compiled.Dimensions)
	assert.Equal(t, rules.Hash(compilerFixture()), compiled.Version)

	assert.Equal(t,
		"channel = CASE"+
			" WHEN (utm_medium != '' AND utm_medium = 'cpc') THEN 'paid_search'"+
			" WHEN 1 THEN 'direct'"+
			" ELSE '' END",
		compiled.SetClause)
}

func TestCompileEmptyRuleSet(t *testing.T) {
	compiled, err := Compile(nil)
	require.NoError(t, err)
	assert.Empty(t, compiled.SetClause)
	assert.Empty(t, compiled.Dimensions)
}

func TestCompileSkipsDisabledRules(t *testing.T) {
	ruleSet := compilerFixture()
	ruleSet[0].Enabled = false

	compiled, err := Compile(ruleSet)
	require.NoError(t, err)
	assert.NotContains(t, compiled.SetClause, "paid_search")
	assert.Contains(t, compiled.SetClause, "'direct'")
}

func TestCompileElsePolicy(t *testing.T) {
	t.Run("derived dimension resets", func(t *testing.T) {
		compiled, err := Compile([]rules.FilterDefinition{
			{
				ID:       "r-1",
				Priority: 10,
				Enabled:  true,
				Conditions: []rules.FilterCondition{
					{Field: "utm_medium", Operator: rules.OperatorEquals, Value: "cpc"},
				},
				Operations: []rules.FilterOperation{
					{Dimension: "traffic_type", Action: rules.ActionSetValue, Value: "ads"},
				},
			},
		})
		require.NoError(t, err)
		assert.Contains(t, compiled.SetClause, "ELSE '' END")
	})

	t.Run("standard dimension preserves current value", func(t *testing.T) {
		compiled, err := Compile([]rules.FilterDefinition{
			{
				ID:       "r-1",
				Priority: 10,
				Enabled:  true,
				Conditions: []rules.FilterCondition{
					{Field: "referrer_domain", Operator: rules.OperatorContains, Value: "google"},
				},
				Operations: []rules.FilterOperation{
					{Dimension: "utm_source", Action: rules.ActionSetValue, Value: "google"},
				},
			},
		})
		require.NoError(t, err)
		assert.Contains(t, compiled.SetClause, "ELSE utm_source END")
	})
}

func TestCompileUnsetWritesEmptyLiteral(t *testing.T) {
	compiled, err := Compile([]rules.FilterDefinition{
		{
			ID:       "r-unset",
			Priority: 10,
			Enabled:  true,
			Operations: []rules.FilterOperation{
				{Dimension: "channel", Action: rules.ActionUnsetValue},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "channel = CASE WHEN 1 THEN '' ELSE '' END", compiled.SetClause)
}

func TestCompileDefaultsRenderAfterWriters(t *testing.T) {
	// The default outranks the writer by priority, yet its branch must come
	// after: the live engine lets a lower-priority set overwrite a value only
	// a default wrote.
	compiled, err := Compile([]rules.FilterDefinition{
		{
			ID:       "r-default",
			Priority: 90,
			Enabled:  true,
			Operations: []rules.FilterOperation{
				{Dimension: "channel", Action: rules.ActionSetDefaultValue, Value: "fallback"},
			},
		},
		{
			ID:       "r-set",
			Priority: 10,
			Enabled:  true,
			Conditions: []rules.FilterCondition{
				{Field: "utm_medium", Operator: rules.OperatorEquals, Value: "cpc"},
			},
			Operations: []rules.FilterOperation{
				{Dimension: "channel", Action: rules.ActionSetValue, Value: "real"},
			},
		},
	})
	require.NoError(t, err)

	setIdx := strings.Index(compiled.SetClause, "'real'")
	defaultIdx := strings.Index(compiled.SetClause, "'fallback'")
	require.GreaterOrEqual(t, setIdx, 0)
	require.GreaterOrEqual(t, defaultIdx, 0)
	assert.Less(t, setIdx, defaultIdx)
}

func TestCompileRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		rule rules.FilterDefinition
	}{
		{
			name: "unreadable condition field",
			rule: rules.FilterDefinition{
				ID: "r-1", Priority: 10, Enabled: true,
				Conditions: []rules.FilterCondition{
					{Field: "password", Operator: rules.OperatorEquals, Value: "x"},
				},
				Operations: []rules.FilterOperation{
					{Dimension: "channel", Action: rules.ActionSetValue, Value: "x"},
				},
			},
		},
		{
			name: "unwritable dimension",
			rule: rules.FilterDefinition{
				ID: "r-1", Priority: 10, Enabled: true,
				Operations: []rules.FilterOperation{
					{Dimension: "session_id", Action: rules.ActionSetValue, Value: "x"},
				},
			},
		},
		{
			name: "lookahead pattern",
			rule: rules.FilterDefinition{
				ID: "r-1", Priority: 10, Enabled: true,
				Conditions: []rules.FilterCondition{
					{Field: "referrer", Operator: rules.OperatorRegex, Value: "(?=bad)"},
				},
				Operations: []rules.FilterOperation{
					{Dimension: "channel", Action: rules.ActionSetValue, Value: "x"},
				},
			},
		},
		{
			name: "unknown action",
			rule: rules.FilterDefinition{
				ID: "r-1", Priority: 10, Enabled: true,
				Operations: []rules.FilterOperation{
					{Dimension: "channel", Action: rules.Action("increment"), Value: "x"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]rules.FilterDefinition{tt.rule})
			assert.Error(t, err)
		})
	}
}

func TestConditionSQL(t *testing.T) {
	tests := []struct {
		name string
		cond rules.FilterCondition
		want string
	}{
		{
			name: "equals carries non-empty guard",
			cond: rules.FilterCondition{Field: "utm_source", Operator: rules.OperatorEquals, Value: "google"},
			want: "(utm_source != '' AND utm_source = 'google')",
		},
		{
			name: "not_equals carries non-empty guard",
			cond: rules.FilterCondition{Field: "utm_source", Operator: rules.OperatorNotEquals, Value: "google"},
			want: "(utm_source != '' AND utm_source != 'google')",
		},
		{
			name: "contains",
			cond: rules.FilterCondition{Field: "referrer", Operator: rules.OperatorContains, Value: "google"},
			want: "(referrer != '' AND position(referrer, 'google') > 0)",
		},
		{
			name: "not_contains",
			cond: rules.FilterCondition{Field: "referrer", Operator: rules.OperatorNotContains, Value: "google"},
			want: "(referrer != '' AND position(referrer, 'google') = 0)",
		},
		{
			name: "regex",
			cond: rules.FilterCondition{Field: "referrer", Operator: rules.OperatorRegex, Value: `^https?://`},
			want: `(referrer != '' AND match(referrer, '^https?://'))`,
		},
		{
			name: "is_empty has no guard",
			cond: rules.FilterCondition{Field: "utm_term", Operator: rules.OperatorIsEmpty},
			want: "utm_term = ''",
		},
		{
			name: "is_not_empty",
			cond: rules.FilterCondition{Field: "utm_term", Operator: rules.OperatorIsNotEmpty},
			want: "utm_term != ''",
		},
		{
			name: "value is escaped",
			cond: rules.FilterCondition{Field: "utm_source", Operator: rules.OperatorEquals, Value: "o'reilly"},
			want: `(utm_source != '' AND utm_source = 'o\'reilly')`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := conditionSQL(tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// applyPlan evaluates the compiled branch lists the way the store's CASE
// would: first matching branch wins, otherwise the ELSE policy applies.
func applyPlan(plans []dimensionPlan, row rules.FieldValues) map[string]string {
	out := make(map[string]string)
	for _, p := range plans {
		matched := false
		for _, br := range p.branches {
			if rules.MatchesAll(br.conditions, row) {
				out[p.dimension] = br.value
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if p.preserve {
			if v := row[p.dimension]; v != nil {
				out[p.dimension] = *v
			} else {
				out[p.dimension] = ""
			}
		} else {
			out[p.dimension] = ""
		}
	}
	return out
}

// applyLive materializes the live engine's assignments onto a stored row,
// mapping nulls to the store's empty string.
func applyLive(ruleSet []rules.FilterDefinition, row rules.FieldValues, dimension string, preserve bool) string {
	result := rules.Evaluate(ruleSet, row)
	if v, written := result[dimension]; written {
		if v == nil {
			return ""
		}
		return *v
	}
	if preserve {
		if v := row[dimension]; v != nil {
			return *v
		}
	}
	return ""
}

func TestPlanMatchesLiveEvaluation(t *testing.T) {
	ruleSet := []rules.FilterDefinition{
		{
			ID:       "r-paid",
			Priority: 90,
			Enabled:  true,
			Conditions: []rules.FilterCondition{
				{Field: "utm_medium", Operator: rules.OperatorRegex, Value: "^(cpc|ppc)$"},
			},
			Operations: []rules.FilterOperation{
				{Dimension: "channel", Action: rules.ActionSetValue, Value: "paid_search"},
				{Dimension: "traffic_type", Action: rules.ActionSetValue, Value: "paid"},
			},
		},
		{
			ID:       "r-social",
			Priority: 80,
			Enabled:  true,
			Conditions: []rules.FilterCondition{
				{Field: "referrer_domain", Operator: rules.OperatorContains, Value: "facebook"},
			},
			Operations: []rules.FilterOperation{
				{Dimension: "channel", Action: rules.ActionSetValue, Value: "social"},
			},
		},
		{
			ID:       "r-scrub",
			Priority: 70,
			Enabled:  true,
			Conditions: []rules.FilterCondition{
				{Field: "hostname", Operator: rules.OperatorEquals, Value: "staging.example.com"},
			},
			Operations: []rules.FilterOperation{
				{Dimension: "traffic_type", Action: rules.ActionUnsetValue},
			},
		},
		{
			ID:       "r-default",
			Priority: 95,
			Enabled:  true,
			Operations: []rules.FilterOperation{
				{Dimension: "channel", Action: rules.ActionSetDefaultValue, Value: "direct"},
			},
		},
		{
			ID:       "r-disabled",
			Priority: 99,
			Enabled:  false,
			Operations: []rules.FilterOperation{
				{Dimension: "channel", Action: rules.ActionSetValue, Value: "never"},
			},
		},
	}

	plans, err := plan(ruleSet)
	require.NoError(t, err)

	rows := []rules.FieldValues{
		{"utm_medium": strPtr("cpc")},
		{"utm_medium": strPtr("ppc"), "referrer_domain": strPtr("facebook.com")},
		{"referrer_domain": strPtr("facebook.com")},
		{"hostname": strPtr("staging.example.com"), "traffic_type": strPtr("old")},
		{"utm_medium": strPtr("cpc"), "hostname": strPtr("staging.example.com")},
		{"utm_medium": strPtr("organic")},
		{"utm_medium": nil, "referrer_domain": strPtr("")},
		{"channel": strPtr("stale"), "traffic_type": strPtr("stale")},
		{},
	}

	for i, row := range rows {
		t.Run(fmt.Sprintf("row_%d", i), func(t *testing.T) {
			fromPlan := applyPlan(plans, row)
			for _, p := range plans {
				want := applyLive(ruleSet, row, p.dimension, p.preserve)
				assert.Equal(t, want, fromPlan[p.dimension],
					"dimension %s diverged between live and compiled paths", p.dimension)
			}
		})
	}
}

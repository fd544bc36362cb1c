package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRule(id string, priority int, dimension, value string, conds ...FilterCondition) FilterDefinition {
	return FilterDefinition{
		ID:         id,
		Priority:   priority,
		Enabled:    true,
		Conditions: conds,
		Operations: []FilterOperation{{Dimension: dimension, Action: ActionSetValue, Value: value}},
	}
}

func TestEvaluateHighestPriorityWins(t *testing.T) {
	ruleSet := []FilterDefinition{
		setRule("r-low", 10, "channel", "low"),
		setRule("r-high", 90, "channel", "high"),
	}

	result := Evaluate(ruleSet, FieldValues{})

	require.Contains(t, result, "channel")
	require.NotNil(t, result["channel"])
	assert.Equal(t, "high", *result["channel"])
}

func TestEvaluateTieBreaksOnID(t *testing.T) {
	ruleSet := []FilterDefinition{
		setRule("r-bbb", 50, "channel", "second"),
		setRule("r-aaa", 50, "channel", "first"),
	}

	result := Evaluate(ruleSet, FieldValues{})
	require.NotNil(t, result["channel"])
	assert.Equal(t, "first", *result["channel"])
}

func TestEvaluateDisabledRulesAreInert(t *testing.T) {
	ruleSet := []FilterDefinition{
		{
			ID:       "r-disabled",
			Priority: 100,
			Enabled:  false,
			Operations: []FilterOperation{
				{Dimension: "channel", Action: ActionSetValue, Value: "never"},
			},
		},
		setRule("r-enabled", 10, "channel", "yes"),
	}

	result := Evaluate(ruleSet, FieldValues{})
	require.NotNil(t, result["channel"])
	assert.Equal(t, "yes", *result["channel"])
}

func TestEvaluateNonMatchingRuleWritesNothing(t *testing.T) {
	ruleSet := []FilterDefinition{
		setRule("r-1", 50, "channel", "paid",
			FilterCondition{Field: "utm_medium", Operator: OperatorEquals, Value: "cpc"}),
	}

	result := Evaluate(ruleSet, FieldValues{"utm_medium": strPtr("organic")})
	assert.Empty(t, result)
}

func TestEvaluateUnsetLocksDimension(t *testing.T) {
	ruleSet := []FilterDefinition{
		{
			ID:       "r-unset",
			Priority: 90,
			Enabled:  true,
			Operations: []FilterOperation{
				{Dimension: "channel", Action: ActionUnsetValue},
			},
		},
		setRule("r-set", 10, "channel", "late"),
	}

	result := Evaluate(ruleSet, FieldValues{})

	require.Contains(t, result, "channel")
	assert.Nil(t, result["channel"], "explicit unset must not be overwritten by a lower-priority set")
}

func TestEvaluateDefaultSemantics(t *testing.T) {
	defaultRule := func(id string, priority int, value string) FilterDefinition {
		return FilterDefinition{
			ID:       id,
			Priority: priority,
			Enabled:  true,
			Operations: []FilterOperation{
				{Dimension: "channel", Action: ActionSetDefaultValue, Value: value},
			},
		}
	}

	t.Run("default fills untouched dimension", func(t *testing.T) {
		result := Evaluate([]FilterDefinition{defaultRule("r-d", 10, "fallback")}, FieldValues{})
		require.NotNil(t, result["channel"])
		assert.Equal(t, "fallback", *result["channel"])
	})

	t.Run("default does not overwrite a set value", func(t *testing.T) {
		ruleSet := []FilterDefinition{
			setRule("r-set", 90, "channel", "real"),
			defaultRule("r-d", 10, "fallback"),
		}
		result := Evaluate(ruleSet, FieldValues{})
		assert.Equal(t, "real", *result["channel"])
	})

	t.Run("explicit unset blocks the default", func(t *testing.T) {
		ruleSet := []FilterDefinition{
			{
				ID:       "r-unset",
				Priority: 90,
				Enabled:  true,
				Operations: []FilterOperation{
					{Dimension: "channel", Action: ActionUnsetValue},
				},
			},
			defaultRule("r-d", 10, "fallback"),
		}
		result := Evaluate(ruleSet, FieldValues{})
		require.Contains(t, result, "channel")
		assert.Nil(t, result["channel"])
	})

	t.Run("lower-priority set overwrites a higher-priority default", func(t *testing.T) {
		ruleSet := []FilterDefinition{
			defaultRule("r-d", 90, "fallback"),
			setRule("r-set", 10, "channel", "real"),
		}
		result := Evaluate(ruleSet, FieldValues{})
		require.NotNil(t, result["channel"])
		assert.Equal(t, "real", *result["channel"])
	})

	t.Run("first default wins among defaults", func(t *testing.T) {
		ruleSet := []FilterDefinition{
			defaultRule("r-d1", 90, "first"),
			defaultRule("r-d2", 10, "second"),
		}
		result := Evaluate(ruleSet, FieldValues{})
		assert.Equal(t, "first", *result["channel"])
	})
}

func TestEvaluateIndependentDimensions(t *testing.T) {
	ruleSet := []FilterDefinition{
		setRule("r-1", 90, "channel", "paid"),
		setRule("r-2", 10, "traffic_type", "ads"),
	}

	result := Evaluate(ruleSet, FieldValues{})

	require.Len(t, result, 2)
	assert.Equal(t, "paid", *result["channel"])
	assert.Equal(t, "ads", *result["traffic_type"])
}

func TestSortForEvaluation(t *testing.T) {
	ruleSet := []FilterDefinition{
		{ID: "c", Priority: 10, Enabled: true},
		{ID: "a", Priority: 50, Enabled: true},
		{ID: "disabled", Priority: 99, Enabled: false},
		{ID: "b", Priority: 50, Enabled: true},
	}

	ordered := SortForEvaluation(ruleSet)

	ids := make([]string, 0, len(ordered))
	for _, rule := range ordered {
		ids = append(ids, rule.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

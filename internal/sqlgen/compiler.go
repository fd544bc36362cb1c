package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"refinery/internal/rules"
)

// Compiled is the offline rendering of a rule set: one SET clause covering
// every dimension at least one enabled rule writes, plus the version hash
// for idempotency stamping.
type Compiled struct {
	SetClause  string
	Version    string
	Dimensions []string
}

// branch is one CASE arm: when the owning rule's conditions match, the
// dimension takes Value. An unset writes the empty string, the store's null.
type branch struct {
	conditions []rules.FilterCondition
	value      string
}

// dimensionPlan is the per-dimension evaluation order the rendered CASE
// follows. All set/unset branches precede all default branches: the live
// engine's priority gate applies only to set/unset writers, and defaults fill
// gaps regardless of their own priority. CASE fallthrough reproduces both
// once the branches are ordered this way, with no extra "is currently empty"
// guard.
type dimensionPlan struct {
	dimension string
	branches  []branch
	preserve  bool
}

// plan builds per-dimension branch lists from the enabled rules in the same
// deterministic order the live engine walks them. Only operations decide
// which dimensions get a plan; a dimension that appears solely inside
// conditions is read, never written.
func plan(ruleSet []rules.FilterDefinition) ([]dimensionPlan, error) {
	ordered := rules.SortForEvaluation(ruleSet)

	writers := make(map[string][]branch)
	defaults := make(map[string][]branch)

	for _, rule := range ordered {
		for _, cond := range rule.Conditions {
			if err := checkFieldIdent(cond.Field); err != nil {
				return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			if cond.Operator == rules.OperatorRegex {
				if err := rules.CheckPatternSupport(cond.Value); err != nil {
					return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
				}
			}
		}

		for _, op := range rule.Operations {
			if err := checkDimensionIdent(op.Dimension); err != nil {
				return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
			}

			switch op.Action {
			case rules.ActionSetValue:
				writers[op.Dimension] = append(writers[op.Dimension], branch{
					conditions: rule.Conditions,
					value:      op.Value,
				})
			case rules.ActionUnsetValue:
				writers[op.Dimension] = append(writers[op.Dimension], branch{
					conditions: rule.Conditions,
					value:      "",
				})
			case rules.ActionSetDefaultValue:
				defaults[op.Dimension] = append(defaults[op.Dimension], branch{
					conditions: rule.Conditions,
					value:      op.Value,
				})
			default:
				return nil, fmt.Errorf("rule %s: unknown action %q", rule.ID, op.Action)
			}
		}
	}

	dimensions := make([]string, 0, len(writers)+len(defaults))
	seen := make(map[string]bool)
	for dim := range writers {
		if !seen[dim] {
			dimensions = append(dimensions, dim)
			seen[dim] = true
		}
	}
	for dim := range defaults {
		if !seen[dim] {
			dimensions = append(dimensions, dim)
			seen[dim] = true
		}
	}
	sort.Strings(dimensions)

	plans := make([]dimensionPlan, 0, len(dimensions))
	for _, dim := range dimensions {
		plans = append(plans, dimensionPlan{
			dimension: dim,
			branches:  append(append([]branch{}, writers[dim]...), defaults[dim]...),
			preserve:  rules.IsStandardDimension(dim),
		})
	}

	return plans, nil
}

// Compile turns a rule set into the bulk-update SET clause. The clause, given
// a row whose columns equal a record's field values, assigns exactly what the
// live engine would have assigned for that record.
func Compile(ruleSet []rules.FilterDefinition) (*Compiled, error) {
	plans, err := plan(ruleSet)
	if err != nil {
		return nil, err
	}

	assignments := make([]string, 0, len(plans))
	dimensions := make([]string, 0, len(plans))

	for _, p := range plans {
		expr, err := renderCase(p)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, fmt.Sprintf("%s = %s", p.dimension, expr))
		dimensions = append(dimensions, p.dimension)
	}

	return &Compiled{
		SetClause:  strings.Join(assignments, ", "),
		Version:    rules.Hash(ruleSet),
		Dimensions: dimensions,
	}, nil
}

func renderCase(p dimensionPlan) (string, error) {
	var b strings.Builder
	b.WriteString("CASE")

	for _, br := range p.branches {
		pred, err := predicateSQL(br.conditions)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHEN ")
		b.WriteString(pred)
		b.WriteString(" THEN ")
		b.WriteString(QuoteLiteral(br.value))
	}

	b.WriteString(" ELSE ")
	if p.preserve {
		// Source-like column: a row no rule matches keeps its current value.
		b.WriteString(p.dimension)
	} else {
		// Derived column: backfill resets rows that no longer match anything.
		b.WriteString("''")
	}
	b.WriteString(" END")

	return b.String(), nil
}

// predicateSQL renders a rule's AND-combined conditions. An empty condition
// list is the constant-true catch-all.
func predicateSQL(conds []rules.FilterCondition) (string, error) {
	if len(conds) == 0 {
		return "1", nil
	}

	parts := make([]string, 0, len(conds))
	for _, cond := range conds {
		part, err := conditionSQL(cond)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

// conditionSQL renders one condition. Every operator except is_empty carries
// a non-empty guard because the live evaluator treats null/missing/empty
// values as matching only is_empty.
func conditionSQL(cond rules.FilterCondition) (string, error) {
	if err := checkFieldIdent(cond.Field); err != nil {
		return "", err
	}

	f := cond.Field
	switch cond.Operator {
	case rules.OperatorEquals:
		return fmt.Sprintf("(%s != '' AND %s = %s)", f, f, QuoteLiteral(cond.Value)), nil
	case rules.OperatorNotEquals:
		return fmt.Sprintf("(%s != '' AND %s != %s)", f, f, QuoteLiteral(cond.Value)), nil
	case rules.OperatorContains:
		return fmt.Sprintf("(%s != '' AND position(%s, %s) > 0)", f, f, QuoteLiteral(cond.Value)), nil
	case rules.OperatorNotContains:
		return fmt.Sprintf("(%s != '' AND position(%s, %s) = 0)", f, f, QuoteLiteral(cond.Value)), nil
	case rules.OperatorRegex:
		if err := rules.CheckPatternSupport(cond.Value); err != nil {
			return "", err
		}
		// The pattern is itself a string literal handed to match(), so it is
		// escaped a second time on top of its own regex escaping.
		return fmt.Sprintf("(%s != '' AND match(%s, %s))", f, f, QuoteLiteral(cond.Value)), nil
	case rules.OperatorIsEmpty:
		return fmt.Sprintf("%s = ''", f), nil
	case rules.OperatorIsNotEmpty:
		return fmt.Sprintf("%s != ''", f), nil
	default:
		return "", fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

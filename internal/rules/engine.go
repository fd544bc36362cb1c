package rules

import "sort"

// Evaluate runs the live path: enabled rules in priority order against one
// record's fields, producing dimension assignments. A nil map value is an
// explicit unset. Dimensions no matching rule touches are absent from the
// result.
//
// Write semantics per dimension:
//   - set_value / unset_value: first writer wins. Once one of these two
//     actions has written a dimension, later set/unset writers are ignored
//     regardless of their own match.
//   - set_default_value: fills the dimension only if it has received no value
//     at all yet, including an explicit null from unset_value. Defaults are
//     gap-fillers, not priority-ranked. A later set/unset still
//     overwrites a value only a default wrote.
func Evaluate(ruleSet []FilterDefinition, fields FieldValues) map[string]*string {
	ordered := SortForEvaluation(ruleSet)

	result := make(map[string]*string)
	locked := make(map[string]bool)

	for _, rule := range ordered {
		if !MatchesAll(rule.Conditions, fields) {
			continue
		}

		for _, op := range rule.Operations {
			switch op.Action {
			case ActionSetValue:
				if !locked[op.Dimension] {
					v := op.Value
					result[op.Dimension] = &v
					locked[op.Dimension] = true
				}
			case ActionUnsetValue:
				if !locked[op.Dimension] {
					result[op.Dimension] = nil
					locked[op.Dimension] = true
				}
			case ActionSetDefaultValue:
				if _, written := result[op.Dimension]; !written {
					v := op.Value
					result[op.Dimension] = &v
				}
			}
		}
	}

	return result
}

// SortForEvaluation returns the enabled rules in deterministic evaluation
// order: priority descending, then id ascending. The SQL compiler uses the
// same order so both paths resolve ties identically.
func SortForEvaluation(ruleSet []FilterDefinition) []FilterDefinition {
	ordered := make([]FilterDefinition, 0, len(ruleSet))
	for _, rule := range ruleSet {
		if rule.Enabled {
			ordered = append(ordered, rule)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	return ordered
}

package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError carries every violation found in a rule set. Validation
// never stops at the first problem: callers fixing a snapshot should see the
// complete list in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule set validation failed with %d violation(s): %s",
		len(e.Violations), strings.Join(e.Violations, "; "))
}

// unsupportedPatternTokens are RE2-incompatible constructs the columnar
// store's match() engine rejects. Checked independently of compilability so a
// pattern that Go happens to reject for another reason still reports the real
// incompatibility.
var unsupportedPatternTokens = []string{"(?=", "(?!", "(?<=", "(?<!"}

// CheckPatternSupport validates a regex both for general compilability and
// for the downstream engine's supported syntax.
func CheckPatternSupport(pattern string) error {
	for _, token := range unsupportedPatternTokens {
		if strings.Contains(pattern, token) {
			return fmt.Errorf("pattern %q uses unsupported construct %q (lookahead/lookbehind)", pattern, token)
		}
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("pattern %q does not compile: %v", pattern, err)
	}
	return nil
}

// ValidateSnapshot checks a frozen rule set against the allow-lists and the
// per-operator/per-action value requirements, collecting all violations
// before failing. Disabled rules are validated too: a snapshot with a broken
// disabled rule is still a broken snapshot.
func ValidateSnapshot(ruleSet []FilterDefinition) error {
	var violations []string

	for _, rule := range ruleSet {
		label := rule.ID
		if label == "" {
			label = rule.Name
		}

		if rule.ID == "" {
			violations = append(violations, fmt.Sprintf("rule %q: missing id", rule.Name))
		}
		if rule.Priority < 0 || rule.Priority > 1000 {
			violations = append(violations, fmt.Sprintf("rule %s: priority %d outside 0-1000", label, rule.Priority))
		}

		for i, cond := range rule.Conditions {
			if !IsReadableField(cond.Field) {
				violations = append(violations, fmt.Sprintf("rule %s condition[%d]: field %q is not readable", label, i, cond.Field))
			}
			if !validOperator(cond.Operator) {
				violations = append(violations, fmt.Sprintf("rule %s condition[%d]: unknown operator %q", label, i, cond.Operator))
				continue
			}
			if cond.Operator.RequiresValue() && cond.Value == "" {
				violations = append(violations, fmt.Sprintf("rule %s condition[%d]: operator %q requires a value", label, i, cond.Operator))
			}
			if cond.Operator == OperatorRegex && cond.Value != "" {
				if err := CheckPatternSupport(cond.Value); err != nil {
					violations = append(violations, fmt.Sprintf("rule %s condition[%d]: %v", label, i, err))
				}
			}
		}

		for i, op := range rule.Operations {
			if !IsWritableDimension(op.Dimension) {
				violations = append(violations, fmt.Sprintf("rule %s operation[%d]: dimension %q is not writable", label, i, op.Dimension))
			}
			if !validAction(op.Action) {
				violations = append(violations, fmt.Sprintf("rule %s operation[%d]: unknown action %q", label, i, op.Action))
				continue
			}
			if op.Action.RequiresValue() && op.Value == "" {
				violations = append(violations, fmt.Sprintf("rule %s operation[%d]: action %q requires a value", label, i, op.Action))
			}
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

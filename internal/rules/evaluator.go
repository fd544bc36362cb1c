package rules

import (
	"regexp"
	"strings"
)

// Matches evaluates a single condition against one record's fields.
//
// Null, missing and empty-string values match only is_empty. An invalid regex
// pattern evaluates to false rather than failing the record: the live path
// must never error on a pattern the offline compiler would have rejected.
func Matches(cond FilterCondition, fields FieldValues) bool {
	raw, ok := fields[cond.Field]

	value := ""
	if ok && raw != nil {
		value = *raw
	}

	if value == "" {
		return cond.Operator == OperatorIsEmpty
	}

	switch cond.Operator {
	case OperatorEquals:
		return value == cond.Value
	case OperatorNotEquals:
		return value != cond.Value
	case OperatorContains:
		return strings.Contains(value, cond.Value)
	case OperatorNotContains:
		return !strings.Contains(value, cond.Value)
	case OperatorRegex:
		re, err := regexp.Compile(cond.Value)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	case OperatorIsEmpty:
		return false
	case OperatorIsNotEmpty:
		return true
	default:
		return false
	}
}

// MatchesAll is the AND of all conditions. An empty condition list always
// matches: a rule with no conditions is a catch-all.
func MatchesAll(conds []FilterCondition, fields FieldValues) bool {
	for _, cond := range conds {
		if !Matches(cond, fields) {
			return false
		}
	}
	return true
}

package rules

import "time"

// Operator is a condition predicate over one source field.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorNotContains Operator = "not_contains"
	OperatorRegex       Operator = "regex"
	OperatorIsEmpty     Operator = "is_empty"
	OperatorIsNotEmpty  Operator = "is_not_empty"
)

// Action is what an operation does to its target dimension.
type Action string

const (
	ActionSetValue        Action = "set_value"
	ActionUnsetValue      Action = "unset_value"
	ActionSetDefaultValue Action = "set_default_value"
)

type FilterCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value,omitempty"`
}

type FilterOperation struct {
	Dimension string `json:"dimension"`
	Action    Action `json:"action"`
	Value     string `json:"value,omitempty"`
}

// FilterDefinition is one prioritized rule: conditions are AND-combined and,
// when they all match, the operations write dimensions. Order is UI-only and
// never affects evaluation.
type FilterDefinition struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Priority   int               `json:"priority"`
	Order      int               `json:"order"`
	Tags       []string          `json:"tags,omitempty"`
	Conditions []FilterCondition `json:"conditions"`
	Operations []FilterOperation `json:"operations"`
	Enabled    bool              `json:"enabled"`
	Version    string            `json:"version,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// FieldValues is one record's readable fields. A nil entry (or an absent key)
// is a null; the evaluator treats null and empty string the same way.
type FieldValues map[string]*string

// readableFields is the allow-list of fields a condition may read.
var readableFields = map[string]bool{
	"utm_source":         true,
	"utm_medium":         true,
	"utm_campaign":       true,
	"utm_term":           true,
	"utm_content":        true,
	"referrer":           true,
	"referrer_domain":    true,
	"landing_page":       true,
	"hostname":           true,
	"device_type":        true,
	"browser":            true,
	"os":                 true,
	"country":            true,
	"is_direct":          true,
	"channel":            true,
	"channel_group":      true,
	"traffic_type":       true,
	"custom_dimension_1": true,
	"custom_dimension_2": true,
	"custom_dimension_3": true,
}

// standardDimensions are source-like columns backfill must never blindly
// overwrite; their compiled CASE falls back to the column's current value.
var standardDimensions = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"referrer":     true,
	"is_direct":    true,
}

// derivedDimensions are owned entirely by the rule set; their compiled CASE
// falls back to empty string so backfill resets rows no rule matches anymore.
var derivedDimensions = map[string]bool{
	"channel":            true,
	"channel_group":      true,
	"traffic_type":       true,
	"custom_dimension_1": true,
	"custom_dimension_2": true,
	"custom_dimension_3": true,
}

// IsReadableField reports whether a condition may read the named field.
func IsReadableField(name string) bool {
	return readableFields[name]
}

// IsWritableDimension reports whether an operation may write the named dimension.
func IsWritableDimension(name string) bool {
	return standardDimensions[name] || derivedDimensions[name]
}

// IsStandardDimension reports whether the dimension belongs to the
// preserve-on-no-match class.
func IsStandardDimension(name string) bool {
	return standardDimensions[name]
}

// RequiresValue reports whether the action needs an explicit value.
func (a Action) RequiresValue() bool {
	return a == ActionSetValue || a == ActionSetDefaultValue
}

// RequiresValue reports whether the operator needs a comparison value.
func (o Operator) RequiresValue() bool {
	return o != OperatorIsEmpty && o != OperatorIsNotEmpty
}

func validOperator(o Operator) bool {
	switch o {
	case OperatorEquals, OperatorNotEquals, OperatorContains,
		OperatorNotContains, OperatorRegex, OperatorIsEmpty, OperatorIsNotEmpty:
		return true
	}
	return false
}

func validAction(a Action) bool {
	switch a {
	case ActionSetValue, ActionUnsetValue, ActionSetDefaultValue:
		return true
	}
	return false
}

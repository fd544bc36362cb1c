package sqlgen

import (
	"fmt"
	"strings"

	"refinery/internal/rules"
)

// EscapeString escapes a value for embedding inside a single-quoted SQL
// string literal. Backslashes are escaped before quotes so a value ending in
// a backslash cannot neutralize the closing quote.
func EscapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// QuoteLiteral renders a value as a SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + EscapeString(s) + "'"
}

// checkFieldIdent re-validates a condition field against the allow-list.
// Upstream request validation already did this once; the compiler checks
// again because identifiers are interpolated, not bound.
func checkFieldIdent(name string) error {
	if !rules.IsReadableField(name) {
		return fmt.Errorf("field %q is not on the readable allow-list", name)
	}
	return nil
}

// checkDimensionIdent re-validates an operation dimension the same way.
func checkDimensionIdent(name string) error {
	if !rules.IsWritableDimension(name) {
		return fmt.Errorf("dimension %q is not on the writable allow-list", name)
	}
	return nil
}

package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalRule is the subset of fields that participate in the version hash.
// Name, tags, UI order and timestamps are cosmetic and excluded.
type canonicalRule struct {
	ID         string            `json:"id"`
	Priority   int               `json:"priority"`
	Enabled    bool              `json:"enabled"`
	Conditions []FilterCondition `json:"conditions"`
	Operations []FilterOperation `json:"operations"`
}

// Hash computes the content version of a rule set: rules sorted by id, the
// canonical field subset serialized, sha256 hex digest. Reordering the input
// never changes the hash; any semantic change does.
func Hash(ruleSet []FilterDefinition) string {
	canonical := make([]canonicalRule, 0, len(ruleSet))
	for _, rule := range ruleSet {
		canonical = append(canonical, canonicalRule{
			ID:         rule.ID,
			Priority:   rule.Priority,
			Enabled:    rule.Enabled,
			Conditions: rule.Conditions,
			Operations: rule.Operations,
		})
	}

	sort.Slice(canonical, func(i, j int) bool {
		return canonical[i].ID < canonical[j].ID
	})

	// Marshal cannot fail on these types.
	payload, _ := json.Marshal(canonical)

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

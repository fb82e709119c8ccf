package gateway

import (
	"regexp"
	"strings"
)

// Singular third-person references are rewritable against the active
// entity. Plural references (they, them, those) stay untouched: they
// usually point at a set the prior answer enumerated, not one entity.
var singularRefRe = regexp.MustCompile(`(?i)\b(it|this|that|its)\b`)

// Short queries lean on conversation context even without an explicit
// reference token.
const followUpTokenMax = 7

// IsFollowUp reports whether the query likely refers back to the
// previous turn: it contains a singular reference token, or it is at
// most followUpTokenMax whitespace-separated tokens.
func IsFollowUp(query string) bool {
	if singularRefRe.MatchString(query) {
		return true
	}
	n := len(strings.Fields(query))
	return n > 0 && n <= followUpTokenMax
}

// RewriteQuery replaces every singular reference token with name.
// Identity when the query carries no reference tokens or name is empty.
func RewriteQuery(query, name string) string {
	if name == "" {
		return query
	}
	return singularRefRe.ReplaceAllString(query, name)
}

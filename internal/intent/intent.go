// Package intent classifies queries into the routing labels the
// orchestrator dispatches on, and extracts topic identifiers.
package intent

import (
	"regexp"
	"strings"
)

// Intent is a routing label.
type Intent string

const (
	Greeting Intent = "GREETING"
	Factual  Intent = "FACTUAL"
	Semantic Intent = "SEMANTIC"
	Mixed    Intent = "MIXED"
)

var (
	greetingRe = regexp.MustCompile(`(?i)^\s*(hello|hi|hey|howdy|good\s+(morning|afternoon|evening)|greetings)\s*[!.?]*\s*$`)

	factualRe = regexp.MustCompile(`(?i)\b(list|count|how\s+many|what\s+are\s+the|which|when\s+(did|was|were|is|do|does))\b`)

	semanticRe = regexp.MustCompile(`(?i)\b(describe|explain|summar(y|ize|ise)|tell\s+me\s+about|what\s+is|overview)\b`)

	// temporal cue next to an entity token forces the mixed path since the
	// answer needs both metadata and prose
	temporalRe = regexp.MustCompile(`(?i)\b(when|date|schedule|before|after|during)\b`)

	topicCodeRe = regexp.MustCompile(`(?i)\bC\d+-T\d+\b`)
)

// Classify labels a query with ordered pattern tests. Greeting wins
// outright; factual and semantic cues together produce Mixed, as does the
// absence of any cue.
func Classify(query string) Intent {
	q := strings.TrimSpace(query)
	if q == "" {
		return Mixed
	}
	if greetingRe.MatchString(q) {
		return Greeting
	}

	factual := factualRe.MatchString(q)
	semantic := semanticRe.MatchString(q)
	switch {
	case factual && semantic:
		return Mixed
	case factual:
		return Factual
	case semantic:
		if temporalRe.MatchString(q) && topicCodeRe.MatchString(q) {
			return Mixed
		}
		return Semantic
	default:
		return Mixed
	}
}

// ExtractTopicCode returns the first topic identifier of the form
// C<digits>-T<digits>, normalized to upper case, or "" when absent.
func ExtractTopicCode(query string) string {
	m := topicCodeRe.FindString(query)
	return strings.ToUpper(m)
}

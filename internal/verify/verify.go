// Package verify checks generated answers against their evidence set:
// citation presence and validity, numeric and date grounding, and
// declared arithmetic.
package verify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/coursequery/coursequery/internal/chunk"
	"github.com/coursequery/coursequery/internal/metrics"
	"github.com/coursequery/coursequery/internal/prompt"
)

var (
	sourceRe = regexp.MustCompile(`\[source:\s*([A-Za-z0-9_\-:, ]+)\]`)
	calcRe   = regexp.MustCompile(`\[calc:([^\]]+)\]`)
	numberRe = regexp.MustCompile(`\b\d+\b`)
	isoDate  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// Result is the structured verification outcome.
type Result struct {
	OK        bool
	IsRefusal bool
	Cited     []string
	Errors    []string
}

// Verifier holds the normalized evidence for one answer.
type Verifier struct {
	evidenceIDs map[string]bool
	chunkText   map[string]string // normalized id -> lowercased text
}

// New builds a verifier over the evidence chunks. Ids are normalized by
// trim+lowercase for tolerant citation matching.
func New(evidence []chunk.Chunk) *Verifier {
	v := &Verifier{
		evidenceIDs: make(map[string]bool, len(evidence)),
		chunkText:   make(map[string]string, len(evidence)),
	}
	for _, c := range evidence {
		id := strings.ToLower(strings.TrimSpace(c.ChunkID))
		v.evidenceIDs[id] = true
		v.chunkText[id] = strings.ToLower(c.Text)
	}
	return v
}

func (v *Verifier) fail(res *Result, check, msg string) {
	res.OK = false
	res.Errors = append(res.Errors, msg)
	metrics.VerifierFailures.WithLabelValues(check).Inc()
}

// Verify runs all checks over the model output.
func (v *Verifier) Verify(output string) Result {
	res := Result{OK: true}
	out := strings.TrimSpace(output)
	if out == "" {
		v.fail(&res, "empty", "No output from model")
		return res
	}

	if out == prompt.Refusal {
		res.IsRefusal = true
		return res
	}

	// citations
	seen := make(map[string]bool)
	for _, m := range sourceRe.FindAllStringSubmatch(out, -1) {
		for _, part := range strings.Split(m[1], ",") {
			id := strings.TrimSpace(part)
			if id != "" && !seen[id] {
				seen[id] = true
				res.Cited = append(res.Cited, id)
			}
		}
	}
	if len(res.Cited) == 0 {
		v.fail(&res, "citation", "No source citation found in output. Every factual sentence must end with [source: CHUNK_ID].")
		return res
	}
	for _, id := range res.Cited {
		if !v.evidenceIDs[strings.ToLower(strings.TrimSpace(id))] {
			v.fail(&res, "citation", "Cited chunk id not present in evidence: "+id)
		}
	}
	if !res.OK {
		return res
	}

	// numeric and date grounding against cited chunk bodies
	tokens := numberRe.FindAllString(out, -1)
	tokens = append(tokens, isoDate.FindAllString(out, -1)...)
	for _, token := range tokens {
		found := false
		for _, id := range res.Cited {
			if strings.Contains(v.chunkText[strings.ToLower(strings.TrimSpace(id))], strings.ToLower(token)) {
				found = true
				break
			}
		}
		if !found {
			v.fail(&res, "grounding", fmt.Sprintf("Claim token '%s' not found in cited chunks.", token))
		}
	}
	if !res.OK {
		return res
	}

	// declared calculations
	for _, m := range calcRe.FindAllStringSubmatch(out, -1) {
		expr := strings.TrimSpace(m[1])
		sides := strings.Split(expr, "=")
		if len(sides) != 2 {
			v.fail(&res, "calc", "Invalid calc format: "+expr)
			break
		}
		left, err := Eval(sides[0])
		if err != nil {
			v.fail(&res, "calc", fmt.Sprintf("Calc parse error: %s -> %v", expr, err))
			break
		}
		right, err := Eval(sides[1])
		if err != nil {
			v.fail(&res, "calc", fmt.Sprintf("Calc parse error: %s -> %v", expr, err))
			break
		}
		if diff := left - right; diff > 1e-6 || diff < -1e-6 {
			v.fail(&res, "calc", fmt.Sprintf("Calc mismatch: %s evaluated to %v but expected %v", expr, left, right))
			break
		}
	}
	return res
}

// Package mmr implements maximal marginal relevance selection for
// diversifying retrieval candidates before rank fusion.
package mmr

import (
	"math"

	"github.com/coursequery/coursequery/internal/chunk"
)

// Cosine returns the cosine similarity of a and b, zero when either has
// zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rerank selects up to k candidates balancing query relevance against
// redundancy: the first pick is the candidate most similar to queryVec,
// then each round adds the candidate maximizing
// lambda*sim(c,q) - (1-lambda)*max_{s in selected} sim(c,s).
// Ties keep the earliest candidate, so the result is stable. Candidates
// without vectors contribute zero similarity on both sides.
func Rerank(candidates []chunk.Candidate, queryVec []float32, k int, lambda float64) []chunk.Candidate {
	n := len(candidates)
	if n == 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}

	simQ := make([]float64, n)
	for i, c := range candidates {
		simQ[i] = Cosine(c.Vector, queryVec)
	}

	selected := make([]chunk.Candidate, 0, k)
	picked := make([]bool, n)
	// max similarity to any already-selected candidate
	maxSel := make([]float64, n)

	best := 0
	for i := 1; i < n; i++ {
		if simQ[i] > simQ[best] {
			best = i
		}
	}
	picked[best] = true
	selected = append(selected, candidates[best])
	for i := range candidates {
		maxSel[i] = Cosine(candidates[i].Vector, candidates[best].Vector)
	}

	for len(selected) < k {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i := range candidates {
			if picked[i] {
				continue
			}
			score := lambda*simQ[i] - (1-lambda)*maxSel[i]
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		picked[bestIdx] = true
		selected = append(selected, candidates[bestIdx])
		for i := range candidates {
			if picked[i] {
				continue
			}
			if s := Cosine(candidates[i].Vector, candidates[bestIdx].Vector); s > maxSel[i] {
				maxSel[i] = s
			}
		}
	}
	return selected
}

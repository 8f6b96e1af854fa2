package scoring

import "math"

// MMRCandidate is one item eligible for greedy MMR selection.
type MMRCandidate struct {
	Relevance float64
	Text string
}

const defaultLambda = 0.7

// MMRRerank greedily selects up to limit candidates from ranked (already
// sorted best-first by Relevance), trading relevance against diversity
// from what's already been picked. A per-call token cache avoids
// re-tokenizing the same text on every step.
func MMRRerank(ranked []MMRCandidate, limit int) []int {
	if limit > len(ranked) {
		limit = len(ranked)
	}
	tokenCache := make([]map[string]struct{}, len(ranked))
	for i, c := range ranked {
		tokenCache[i] = Tokenize(c.Text)
	}

	selected := make([]int, 0, limit)
	remaining := make([]int, len(ranked))
	for i := range ranked {
		remaining[i] = i
	}

	for len(selected) < limit && len(remaining) > 0 {
		bestPos, bestIdx, bestScore := -1, -1, -math.MaxFloat64
		for pos, idx := range remaining {
			maxJaccard := 0.0
			for _, sIdx := range selected {
				j := Jaccard(tokenCache[idx], tokenCache[sIdx])
				if j > maxJaccard {
					maxJaccard = j
				}
			}
			mmr := defaultLambda*ranked[idx].Relevance - (1-defaultLambda)*maxJaccard
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = idx
				bestPos = pos
			}
		}
		selected = append(selected, bestIdx)
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}
	return selected
}

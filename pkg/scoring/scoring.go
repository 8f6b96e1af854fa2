package scoring

import (
	"math"
	"regexp"
	"strings"
)

// Cosine returns the cosine similarity of a and b in [-1, 1], or 0 if
// either vector is nil/empty or a dimension mismatch makes the comparison
// meaningless — callers must already treat a nil embedding as "no
// semantic signal" before reaching here.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

var tokenPattern = regexp.MustCompile(`\w+`)

// Tokenize lowercases text and splits on non-word characters, for use
// as the token set in Jaccard similarity
func Tokenize(text string) map[string]struct{} {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard computes token-set similarity. Two empty sets are defined as
// maximally similar (1); one empty and one non-empty is 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// MinMaxNormalizeBM25 maps raw (negative, "more negative is better") bm25
// scores into [0, 1] where 1 is the best match. If every score is equal,
// every candidate gets 1.0.
func MinMaxNormalizeBM25(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := scores[0], scores[0]
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if min == max {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	// Best bm25 is most negative, so invert the usual normalization.
	for i, s := range scores {
		out[i] = (max - s) / (max - min)
	}
	return out
}

const halfLifeDays = 30.0

// TemporalDecay applies a 30-day half-life to an item's age; evergreen
// content (isEvergreen == true) never decays.
func TemporalDecay(nowMs, updatedAtMs int64, evergreen bool) float64 {
	if evergreen {
		return 1
	}
	ageDays := float64(nowMs-updatedAtMs) / 86_400_000.0
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-(math.Ln2 / halfLifeDays) * ageDays)
}

var dateFilenamePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// IsEvergreen reports whether basename is exempt from temporal decay: it
// ends in MEMORY.md, or it does not begin with a YYYY-MM-DD date stamp.
func IsEvergreen(basename string) bool {
	if strings.HasSuffix(basename, "MEMORY.md") {
		return true
	}
	return !dateFilenamePattern.MatchString(basename)
}

// RRF computes a single Reciprocal Rank Fusion term for a 1-based rank
// (0 means "not ranked on this list", contributing 0 rather than a
// worst-rank penalty).
func RRF(rank int, k float64) float64 {
	if rank <= 0 {
		return 0
	}
	return 1.0 / (k + float64(rank))
}

// DenseRank assigns 1-based ranks to items already sorted best-first,
// with ties (equal score) sharing the same rank.
func DenseRank(scoresDescending []float64) []int {
	ranks := make([]int, len(scoresDescending))
	rank := 0
	for i, s := range scoresDescending {
		if i == 0 || s != scoresDescending[i-1] {
			rank = i + 1
		}
		ranks[i] = rank
	}
	return ranks
}

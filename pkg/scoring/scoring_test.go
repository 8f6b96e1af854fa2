package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine_IdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
}

func TestCosine_MismatchedDimsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestJaccard_EmptyPairs(t *testing.T) {
	empty := map[string]struct{}{}
	nonEmpty := Tokenize("hello world")
	assert.Equal(t, 1.0, Jaccard(empty, empty))
	assert.Equal(t, 0.0, Jaccard(empty, nonEmpty))
}

func TestMinMaxNormalizeBM25_AllEqualGivesOne(t *testing.T) {
	out := MinMaxNormalizeBM25([]float64{-5, -5, -5})
	for _, v := range out {
		assert.Equal(t, 1.0, v)
	}
}

func TestMinMaxNormalizeBM25_MostNegativeIsBest(t *testing.T) {
	out := MinMaxNormalizeBM25([]float64{-10, -5, -1})
	assert.Equal(t, 1.0, out[0])
	assert.Equal(t, 0.0, out[2])
}

func TestTemporalDecay_EvergreenNeverDecays(t *testing.T) {
	assert.Equal(t, 1.0, TemporalDecay(1_000_000, 0, true))
}

func TestTemporalDecay_HalfLifeAt30Days(t *testing.T) {
	thirtyDaysMs := int64(30 * 86_400_000)
	decay := TemporalDecay(thirtyDaysMs, 0, false)
	assert.InDelta(t, 0.5, decay, 1e-6)
}

func TestIsEvergreen(t *testing.T) {
	assert.True(t, IsEvergreen("MEMORY.md"))
	assert.True(t, IsEvergreen("notes.md"))
	assert.False(t, IsEvergreen("2026-07-30.md"))
}

func TestDenseRank_TiesShareRank(t *testing.T) {
	ranks := DenseRank([]float64{10, 10, 5, 1})
	assert.Equal(t, []int{1, 1, 3, 4}, ranks)
}

func TestRRF_UnrankedContributesZero(t *testing.T) {
	assert.Equal(t, 0.0, RRF(0, 60))
	assert.Greater(t, RRF(1, 60), RRF(2, 60))
}

func TestMMRRerank_PrefersDiverseOverDuplicate(t *testing.T) {
	candidates := []MMRCandidate{
		{Relevance: 1.0, Text: "the quick brown fox"},
		{Relevance: 0.99, Text: "the quick brown fox"}, // near-duplicate of #0
		{Relevance: 0.9, Text: "a totally different sentence"},
	}
	selected := MMRRerank(candidates, 2)
	assert.Equal(t, 0, selected[0])
	assert.Equal(t, 2, selected[1], "diverse candidate should beat the near-duplicate")
}

package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/engram/pkg/store"
	"github.com/cuemby/engram/pkg/types"
)

type fakeChunkStore struct {
	ftsHits []store.ChunkFTSHit
	chunks  map[int64]*types.Chunk
	recent  []*types.Chunk
	family  map[string][]string
}

func (f *fakeChunkStore) SearchChunksFTS(ctx context.Context, matchQuery string, limit int) ([]store.ChunkFTSHit, error) {
	return f.ftsHits, nil
}

func (f *fakeChunkStore) GetChunksByIDs(ctx context.Context, ids []int64) ([]*types.Chunk, error) {
	var out []*types.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) ListRecentChunksWithEmbedding(ctx context.Context, limit int) ([]*types.Chunk, error) {
	return f.recent, nil
}

func (f *fakeChunkStore) ProjectFamily(ctx context.Context, projectID string) ([]string, error) {
	return f.family[projectID], nil
}

func TestSearch_LexicalPathHybridScoresAndRanks(t *testing.T) {
	fs := &fakeChunkStore{
		ftsHits: []store.ChunkFTSHit{{ChunkID: 1, Score: -10}, {ChunkID: 2, Score: -2}},
		chunks: map[int64]*types.Chunk{
			1: {ID: 1, Path: "MEMORY.md", Text: "alpha beta", Embedding: []float32{1, 0}, UpdatedAt: 0},
			2: {ID: 2, Path: "MEMORY.md", Text: "gamma delta", Embedding: []float32{0, 1}, UpdatedAt: 0},
		},
	}
	r := New(fs)
	r.now = func() int64 { return 0 }

	results, err := r.Search(context.Background(), []float32{1, 0}, "alpha", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ChunkID, "chunk 1 has both the better bm25 and the matching vector")
}

func TestSearch_VectorFallbackWhenNoLexicalHits(t *testing.T) {
	fs := &fakeChunkStore{
		recent: []*types.Chunk{
			{ID: 1, Path: "MEMORY.md", Text: "alpha", Embedding: []float32{1, 0}, UpdatedAt: 0},
			{ID: 2, Path: "MEMORY.md", Text: "beta", Embedding: []float32{0, 1}, UpdatedAt: 0},
		},
	}
	r := New(fs)
	r.now = func() int64 { return 0 }

	results, err := r.Search(context.Background(), []float32{1, 0}, "", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ChunkID)
}

func TestSearch_FiltersByProjectFamily(t *testing.T) {
	projA, projB := "a", "b"
	fs := &fakeChunkStore{
		ftsHits: []store.ChunkFTSHit{{ChunkID: 1, Score: -5}, {ChunkID: 2, Score: -5}},
		chunks: map[int64]*types.Chunk{
			1: {ID: 1, Path: "MEMORY.md", Project: &projA, Text: "in family", Embedding: []float32{1, 0}},
			2: {ID: 2, Path: "MEMORY.md", Project: &projB, Text: "out of family", Embedding: []float32{1, 0}},
		},
		family: map[string][]string{"a": {"a"}},
	}
	r := New(fs)
	r.now = func() int64 { return 0 }

	results, err := r.Search(context.Background(), []float32{1, 0}, "family", 5, &projA)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ChunkID)
}

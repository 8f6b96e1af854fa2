package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/engram/pkg/types"
)

type fakeCache struct {
	entries map[string]*types.EmbeddingCacheEntry
	writes  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*types.EmbeddingCacheEntry)}
}

func (f *fakeCache) GetCachedEmbedding(ctx context.Context, hash string) (*types.EmbeddingCacheEntry, error) {
	return f.entries[hash], nil
}

func (f *fakeCache) PutCachedEmbedding(ctx context.Context, hash string, embedding []float32, updatedAt int64) error {
	f.writes++
	f.entries[hash] = &types.EmbeddingCacheEntry{ContentHash: hash, Embedding: embedding, Dims: len(embedding), UpdatedAt: updatedAt}
	return nil
}

type fakeClient struct {
	name    string
	results map[string][]float32 // text -> vector; absent means "fails for this text"
	calls   int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) EmbedBatch(ctx context.Context, texts []string) (map[int][]float32, error) {
	f.calls++
	out := make(map[int][]float32)
	for i, t := range texts {
		if v, ok := f.results[t]; ok {
			out[i] = v
		}
	}
	return out, nil
}

func TestChain_CachesAcrossCalls(t *testing.T) {
	cache := newFakeCache()
	client := &fakeClient{name: "local", results: map[string][]float32{"hello": {1, 2, 3}}}
	chain := NewChain(cache, client)

	out, err := chain.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, out[0])
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, 1, cache.writes)

	out2, err := chain.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, out2[0])
	assert.Equal(t, 1, client.calls, "second call must hit the in-memory cache, not the client")
}

func TestChain_FallsThroughToSecondProvider(t *testing.T) {
	cache := newFakeCache()
	local := &fakeClient{name: "local", results: map[string][]float32{}}
	remote := &fakeClient{name: "remote", results: map[string][]float32{"hello": {9, 9}}}
	chain := NewChain(cache, local, remote)

	out, err := chain.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9}, out[0])
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, remote.calls)
}

func TestChain_ReturnsNilSlotWhenEveryProviderFails(t *testing.T) {
	cache := newFakeCache()
	local := &fakeClient{name: "local", results: map[string][]float32{}}
	chain := NewChain(cache, local)

	out, err := chain.Embed(context.Background(), []string{"unknown text"})
	require.NoError(t, err)
	assert.Nil(t, out[0])
	assert.Equal(t, 0, cache.writes)
}

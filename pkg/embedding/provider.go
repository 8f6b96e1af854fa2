package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuemby/engram/pkg/log"
	"github.com/cuemby/engram/pkg/types"
)

// ModelClient is the seam to an out-of-scope embedding model — a local
// GGUF runtime or a remote API. A failed call for one text MUST NOT fail
// the whole batch; EmbedBatch reports per-text failures by omitting that
// index's slot from the returned map.
type ModelClient interface {
	Name() string
	EmbedBatch(ctx context.Context, texts []string) (map[int][]float32, error)
}

// Cache is the subset of pkg/store's embedding-cache methods this package
// depends on, kept narrow so tests can fake it without a real database.
type Cache interface {
	GetCachedEmbedding(ctx context.Context, contentHash string) (*types.EmbeddingCacheEntry, error)
	PutCachedEmbedding(ctx context.Context, contentHash string, embedding []float32, updatedAt int64) error
}

const inMemoryCacheSize = 4096

// Chain implements the Provider contract: content-hash cache lookup
// first, then the configured ModelClients in order (local first, remote
// fallback), recording a successful hit against the cache regardless of
// which client produced it.
type Chain struct {
	cache Cache
	clients []ModelClient
	memory *lru.Cache[string, []float32]
	nowMillis func() int64
}

// NewChain builds a provider chain. clients is tried in order for each
// cache miss; the first one to succeed for a given text wins.
func NewChain(cache Cache, clients...ModelClient) *Chain {
	memory, _ := lru.New[string, []float32](inMemoryCacheSize)
	return &Chain{
		cache: cache,
		clients: clients,
		memory: memory,
		nowMillis: func() int64 { return types.NowMillis(time.Now()) },
	}
}

// Embed maps texts to vectors in input order. A nil slot means every
// client failed for that text permanently; callers must treat it as "no
// semantic signal" and never substitute a zero vector.
func (c *Chain) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	pending := make([]int, 0, len(texts))

	for i, text := range texts {
		hash := contentHash(text)
		hashes[i] = hash

		if v, ok := c.memory.Get(hash); ok {
			out[i] = v
			continue
		}
		entry, err := c.cache.GetCachedEmbedding(ctx, hash)
		if err != nil {
			log.WithComponent("embedding").Warn().Err(err).Msg("cache lookup failed")
		}
		if entry != nil {
			out[i] = entry.Embedding
			c.memory.Add(hash, entry.Embedding)
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		return out, nil
	}

	remaining := make(map[int]string, len(pending)) // local index -> text
	for j, idx := range pending {
		remaining[j] = texts[idx]
	}

	resolved := make(map[int][]float32) // local index -> vector
	for _, client := range c.clients {
		if len(remaining) == 0 {
			break
		}
		batch := make([]string, 0, len(remaining))
		localIdx := make([]int, 0, len(remaining))
		for j, text := range remaining {
			batch = append(batch, text)
			localIdx = append(localIdx, j)
		}

		results, err := client.EmbedBatch(ctx, batch)
		if err != nil {
			log.WithComponent("embedding").Warn().Err(err).Str("provider", client.Name()).Msg("provider batch call failed")
			continue
		}
		for i, j := range localIdx {
			if v, ok := results[i]; ok {
				resolved[j] = v
				delete(remaining, j)
			}
		}
	}

	now := c.nowMillis()
	for j, idx := range pending {
		v, ok := resolved[j]
		if !ok {
			continue // every client failed for this text; out[idx] stays nil
		}
		out[idx] = v
		c.memory.Add(hashes[idx], v)
		if err := c.cache.PutCachedEmbedding(ctx, hashes[idx], v, now); err != nil {
			log.WithComponent("embedding").Warn().Err(err).Msg("cache write failed")
		}
	}

	return out, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

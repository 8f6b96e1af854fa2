package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cuemby/engram/pkg/errs"
	"github.com/cuemby/engram/pkg/types"
)

// GetCachedEmbedding looks up an embedding by the SHA-256 of its source
// text, per the cache policy.
func (s *Store) GetCachedEmbedding(ctx context.Context, contentHash string) (*types.EmbeddingCacheEntry, error) {
	var dims int
	var updatedAt int64
	var embedding []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, dims, updated_at FROM embedding_cache WHERE content_hash = ?`, contentHash).
		Scan(&embedding, &dims, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.New(errs.Transient, "store.GetCachedEmbedding", err)
	}
	return &types.EmbeddingCacheEntry{
		ContentHash: contentHash,
		Embedding: decodeEmbedding(embedding),
		Dims: dims,
		UpdatedAt: updatedAt,
	}, nil
}

// PutCachedEmbedding upserts a cache entry. Called regardless of which
// provider in the chain produced the embedding.
func (s *Store) PutCachedEmbedding(ctx context.Context, contentHash string, embedding []float32, updatedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embedding_cache(content_hash, embedding, dims, updated_at) VALUES (?,?,?,?)
		 ON CONFLICT(content_hash) DO UPDATE SET embedding=excluded.embedding, dims=excluded.dims, updated_at=excluded.updated_at`,
		contentHash, encodeEmbedding(embedding), len(embedding), updatedAt)
	if err != nil {
		return errs.New(errs.Transient, "store.PutCachedEmbedding", err)
	}
	return nil
}

package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"

	"github.com/cuemby/engram/pkg/errs"
	"github.com/cuemby/engram/pkg/types"
)

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// UpsertChunk inserts or updates the chunk at the natural key
// (path, startLine, endLine). The embedding is only replaced when the
// content hash changes.
func (s *Store) UpsertChunk(ctx context.Context, path string, layer types.Layer, project *string, startLine, endLine int, text string, embedding []float32, updatedAt int64) (int64, error) {
	hash := contentHash(text)
	var id int64

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var existingID int64
		var existingHash string
		err := tx.QueryRowContext(ctx,
			`SELECT id, content_hash FROM chunks WHERE path = ? AND start_line = ? AND end_line = ?`,
			path, startLine, endLine).Scan(&existingID, &existingHash)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, ierr := tx.ExecContext(ctx,
				`INSERT INTO chunks(path, layer, project, start_line, end_line, content_hash, text, embedding, updated_at)
				 VALUES (?,?,?,?,?,?,?,?,?)`,
				path, string(layer), project, startLine, endLine, hash, text, encodeEmbedding(embedding), updatedAt)
			if ierr != nil {
				return ierr
			}
			id, err = res.LastInsertId()
			return err
		case err != nil:
			return err
		default:
			id = existingID
			if existingHash == hash {
				_, uerr := tx.ExecContext(ctx,
					`UPDATE chunks SET layer=?, project=?, updated_at=? WHERE id=?`,
					string(layer), project, updatedAt, id)
				return uerr
			}
			_, uerr := tx.ExecContext(ctx,
				`UPDATE chunks SET layer=?, project=?, content_hash=?, text=?, embedding=?, updated_at=? WHERE id=?`,
				string(layer), project, hash, text, encodeEmbedding(embedding), updatedAt, id)
			return uerr
		}
	})
	if err != nil {
		return 0, errs.New(errs.Transient, "store.UpsertChunk", err)
	}
	return id, nil
}

func scanChunk(row interface {
	Scan(dest...interface{}) error
}) (*types.Chunk, error) {
	var c types.Chunk
	var project sql.NullString
	var layer string
	var embedding []byte
	if err := row.Scan(&c.ID, &c.Path, &layer, &project, &c.StartLine, &c.EndLine,
		&c.ContentHash, &c.Text, &embedding, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Layer = types.Layer(layer)
	if project.Valid {
		c.Project = &project.String
	}
	c.Embedding = decodeEmbedding(embedding)
	return &c, nil
}

const chunkColumns = `id, path, layer, project, start_line, end_line, content_hash, text, embedding, updated_at`

// GetChunk fetches a single chunk by its rowid.
func (s *Store) GetChunk(ctx context.Context, id int64) (*types.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.New(errs.Transient, "store.GetChunk", err)
	}
	return c, nil
}

// GetChunksByIDs batch-fetches chunks by rowid, used to hydrate lexical
// and vector candidate sets.
func (s *Store) GetChunksByIDs(ctx context.Context, ids []int64) ([]*types.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClauseQuery(`SELECT `+chunkColumns+` FROM chunks WHERE id IN (`, ids, `)`)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.Transient, "store.GetChunksByIDs", err)
	}
	defer rows.Close()

	var out []*types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, errs.New(errs.Transient, "store.GetChunksByIDs", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListRecentChunksWithEmbedding returns up to limit chunks with a non-null
// embedding, most recently updated first — the candidate pool for the
// Retriever's vector fallback path.
func (s *Store) ListRecentChunksWithEmbedding(ctx context.Context, limit int) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE embedding IS NOT NULL ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errs.New(errs.Transient, "store.ListRecentChunksWithEmbedding", err)
	}
	defer rows.Close()

	var out []*types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, errs.New(errs.Transient, "store.ListRecentChunksWithEmbedding", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChunkFTSHit is one lexical match: a chunk rowid plus its raw bm25 score
// (negative; more negative is a better match).
type ChunkFTSHit struct {
	ChunkID int64
	Score float64
}

// SearchChunksFTS runs matchQuery (already normalized by the caller)
// against chunks_fts and returns up to limit hits ordered by bm25.
func (s *Store) SearchChunksFTS(ctx context.Context, matchQuery string, limit int) ([]ChunkFTSHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, bm25(chunks_fts) AS score FROM chunks_fts WHERE chunks_fts MATCH ? ORDER BY score LIMIT ?`,
		matchQuery, limit)
	if err != nil {
		return nil, errs.New(errs.Transient, "store.SearchChunksFTS", err)
	}
	defer rows.Close()

	var hits []ChunkFTSHit
	for rows.Next() {
		var h ChunkFTSHit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, errs.New(errs.Transient, "store.SearchChunksFTS", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func inClauseQuery(prefix string, ids []int64, suffix string) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	placeholders := make([]byte, 0, len(ids)*2)
	for i, id := range ids {
		args[i] = id
		if i > 0 {
			placeholders = append(placeholders, ',', '?')
		} else {
			placeholders = append(placeholders, '?')
		}
	}
	return prefix + string(placeholders) + suffix, args
}

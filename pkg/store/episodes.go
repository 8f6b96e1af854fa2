package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/cuemby/engram/pkg/errs"
	"github.com/cuemby/engram/pkg/types"
)

const episodeColumns = `id, session_id, project, scope, summary, entities, importance, source_type,
	full_content, embedding, created_at, accessed_at, access_count, graduated_at`

func scanEpisode(row interface {
	Scan(dest...interface{}) error
}) (*types.Episode, error) {
	var e types.Episode
	var project, fullContent sql.NullString
	var scope, importance string
	var entitiesJSON string
	var embedding []byte
	var graduatedAt sql.NullInt64

	if err := row.Scan(&e.ID, &e.SessionID, &project, &scope, &e.Summary, &entitiesJSON,
		&importance, &e.SourceType, &fullContent, &embedding, &e.CreatedAt, &e.AccessedAt,
		&e.AccessCount, &graduatedAt); err != nil {
		return nil, err
	}

	e.Scope = types.Scope(scope)
	e.Importance = types.Importance(importance)
	if project.Valid {
		e.Project = &project.String
	}
	if fullContent.Valid {
		e.FullContent = &fullContent.String
	}
	if graduatedAt.Valid {
		e.GraduatedAt = &graduatedAt.Int64
	}
	e.Embedding = decodeEmbedding(embedding)
	_ = json.Unmarshal([]byte(entitiesJSON), &e.Entities)
	return &e, nil
}

// CreateEpisode inserts a new episode row.
func (s *Store) CreateEpisode(ctx context.Context, e *types.Episode) error {
	entitiesJSON, err := json.Marshal(e.Entities)
	if err != nil {
		return errs.New(errs.Invariant, "store.CreateEpisode", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO episodes(id, session_id, project, scope, summary, entities, importance,
			source_type, full_content, embedding, created_at, accessed_at, access_count, graduated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.SessionID, e.Project, string(e.Scope), e.Summary, string(entitiesJSON),
		string(e.Importance), e.SourceType, e.FullContent, encodeEmbedding(e.Embedding),
		e.CreatedAt, e.AccessedAt, e.AccessCount, e.GraduatedAt)
	if err != nil {
		return errs.New(errs.Transient, "store.CreateEpisode", err)
	}
	return nil
}

// GetEpisode fetches a single episode by id.
func (s *Store) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	e, err := scanEpisode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.New(errs.Transient, "store.GetEpisode", err)
	}
	return e, nil
}

// UpdateEpisode replaces the mutable fields of an existing episode — used
// both by the Extractor's merge path and the Consolidator's graduation /
// compression passes.
func (s *Store) UpdateEpisode(ctx context.Context, e *types.Episode) error {
	entitiesJSON, err := json.Marshal(e.Entities)
	if err != nil {
		return errs.New(errs.Invariant, "store.UpdateEpisode", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE episodes SET project=?, scope=?, summary=?, entities=?, importance=?, source_type=?,
			full_content=?, embedding=?, accessed_at=?, access_count=?, graduated_at=?
		 WHERE id=?`,
		e.Project, string(e.Scope), e.Summary, string(entitiesJSON), string(e.Importance), e.SourceType,
		e.FullContent, encodeEmbedding(e.Embedding), e.AccessedAt, e.AccessCount, e.GraduatedAt, e.ID)
	if err != nil {
		return errs.New(errs.Transient, "store.UpdateEpisode", err)
	}
	return nil
}

// TouchEpisodeAccess advances accessed_at, optionally incrementing
// access_count (only the explicit-expand path does).
func (s *Store) TouchEpisodeAccess(ctx context.Context, id string, accessedAt int64, incrementCount bool) error {
	query := `UPDATE episodes SET accessed_at=? WHERE id=?`
	args := []interface{}{accessedAt, id}
	if incrementCount {
		query = `UPDATE episodes SET accessed_at=?, access_count=access_count+1 WHERE id=?`
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errs.New(errs.Transient, "store.TouchEpisodeAccess", err)
	}
	return nil
}

// ListEpisodesForSession returns all of a session's episodes, with or
// without an embedding, newest first.
func (s *Store) ListEpisodesForSession(ctx context.Context, sessionID string) ([]*types.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE session_id = ? ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, errs.New(errs.Transient, "store.ListEpisodesForSession", err)
	}
	defer rows.Close()

	var out []*types.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, errs.New(errs.Transient, "store.ListEpisodesForSession", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEpisodesByIDs batch-fetches episodes by id.
func (s *Store) GetEpisodesByIDs(ctx context.Context, ids []string) ([]*types.Episode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE id IN (`+string(placeholders)+`)`, args...)
	if err != nil {
		return nil, errs.New(errs.Transient, "store.GetEpisodesByIDs", err)
	}
	defer rows.Close()

	var out []*types.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, errs.New(errs.Transient, "store.GetEpisodesByIDs", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRecentlyAccessedEpisodesWithEmbedding returns up to limit episodes
// with a non-null embedding, most recently accessed first — the
// Recollector's base candidate pool.
func (s *Store) ListRecentlyAccessedEpisodesWithEmbedding(ctx context.Context, limit int) ([]*types.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE embedding IS NOT NULL ORDER BY accessed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errs.New(errs.Transient, "store.ListRecentlyAccessedEpisodesWithEmbedding", err)
	}
	defer rows.Close()

	var out []*types.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, errs.New(errs.Transient, "store.ListRecentlyAccessedEpisodesWithEmbedding", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListEpisodesWithEmbedding returns up to limit episodes with a non-null
// embedding across all scopes and projects, ordered by most recently
// created — the Extractor's merge-candidate snapshot.
func (s *Store) ListEpisodesWithEmbedding(ctx context.Context, limit int) ([]*types.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE embedding IS NOT NULL ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errs.New(errs.Transient, "store.ListEpisodesWithEmbedding", err)
	}
	defer rows.Close()

	var out []*types.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, errs.New(errs.Transient, "store.ListEpisodesWithEmbedding", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EpisodeFTSHit is one lexical episode match.
type EpisodeFTSHit struct {
	EpisodeID string
	Score float64
}

// SearchEpisodesFTS runs matchQuery against episodes_fts (summary +
// entities) and returns up to limit hits ordered by bm25.
func (s *Store) SearchEpisodesFTS(ctx context.Context, matchQuery string, limit int) ([]EpisodeFTSHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, bm25(episodes_fts) AS score
		 FROM episodes_fts
		 JOIN episodes e ON e.rowid = episodes_fts.rowid
		 WHERE episodes_fts MATCH ? ORDER BY score LIMIT ?`,
		matchQuery, limit)
	if err != nil {
		return nil, errs.New(errs.Transient, "store.SearchEpisodesFTS", err)
	}
	defer rows.Close()

	var hits []EpisodeFTSHit
	for rows.Next() {
		var h EpisodeFTSHit
		if err := rows.Scan(&h.EpisodeID, &h.Score); err != nil {
			return nil, errs.New(errs.Transient, "store.SearchEpisodesFTS", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ListGraduationCandidates returns un-graduated high-importance episodes
// that are either accessed at least 3 times or older than ageCutoffMs,
// newest-access first, capped at limit — the Consolidator's graduation
// pass.
func (s *Store) ListGraduationCandidates(ctx context.Context, ageCutoffMs int64, limit int) ([]*types.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes
		 WHERE graduated_at IS NULL AND importance = 'high' AND (access_count >= 3 OR created_at < ?)
		 ORDER BY accessed_at DESC LIMIT ?`,
		ageCutoffMs, limit)
	if err != nil {
		return nil, errs.New(errs.Transient, "store.ListGraduationCandidates", err)
	}
	defer rows.Close()

	var out []*types.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, errs.New(errs.Transient, "store.ListGraduationCandidates", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CompressStaleEpisodes nulls full_content for episodes older than
// cutoffMs with zero access, per the compression invariant.
func (s *Store) CompressStaleEpisodes(ctx context.Context, cutoffMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET full_content = NULL
		 WHERE full_content IS NOT NULL AND created_at < ? AND access_count = 0 AND importance = 'normal'`,
		cutoffMs)
	if err != nil {
		return 0, errs.New(errs.Transient, "store.CompressStaleEpisodes", err)
	}
	return res.RowsAffected()
}

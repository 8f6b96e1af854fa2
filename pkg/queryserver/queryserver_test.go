package queryserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/engram/pkg/retriever"
	"github.com/cuemby/engram/pkg/store"
	"github.com/cuemby/engram/pkg/types"
)

type stubChunkStore struct{}

func (stubChunkStore) SearchChunksFTS(ctx context.Context, matchQuery string, limit int) ([]store.ChunkFTSHit, error) {
	return nil, nil
}
func (stubChunkStore) GetChunksByIDs(ctx context.Context, ids []int64) ([]*types.Chunk, error) {
	return nil, nil
}
func (stubChunkStore) ListRecentChunksWithEmbedding(ctx context.Context, limit int) ([]*types.Chunk, error) {
	return nil, nil
}
func (stubChunkStore) ProjectFamily(ctx context.Context, projectID string) ([]string, error) {
	return nil, nil
}

type fakeEpisodeStore struct {
	episodes map[string]*types.Episode
	touched  []string
	touchErr error
	recent   []*types.Episode
	ftsHits  []store.EpisodeFTSHit
}

func (f *fakeEpisodeStore) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	return f.episodes[id], nil
}

func (f *fakeEpisodeStore) TouchEpisodeAccess(ctx context.Context, id string, accessedAt int64, incrementCount bool) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeEpisodeStore) SearchEpisodesFTS(ctx context.Context, matchQuery string, limit int) ([]store.EpisodeFTSHit, error) {
	return f.ftsHits, nil
}

func (f *fakeEpisodeStore) ListRecentlyAccessedEpisodesWithEmbedding(ctx context.Context, limit int) ([]*types.Episode, error) {
	return f.recent, nil
}

func (f *fakeEpisodeStore) GetEpisodesByIDs(ctx context.Context, ids []string) ([]*types.Episode, error) {
	var out []*types.Episode
	for _, id := range ids {
		if e, ok := f.episodes[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, es *fakeEpisodeStore, roots []string) *Server {
	t.Helper()
	r := retriever.New(stubChunkStore{})
	return New(r, es, roots)
}

func TestSearchEpisodes_RanksRecentEpisodesByHybridScore(t *testing.T) {
	es := &fakeEpisodeStore{
		recent: []*types.Episode{
			{ID: "ep-1", Embedding: []float32{1, 0}, CreatedAt: 1, AccessCount: 0},
			{ID: "ep-2", Embedding: []float32{0, 1}, CreatedAt: 1, AccessCount: 0},
		},
	}
	s := newTestServer(t, es, nil)

	results, err := s.SearchEpisodes(context.Background(), []float32{1, 0}, "", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "ep-1", results[0].Episode.ID)
}

func TestGet_ReturnsEmptySuccessForMissingFile(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, &fakeEpisodeStore{}, []string{root})

	result, err := s.Get(filepath.Join(root, "MEMORY.md"))
	require.NoError(t, err)
	assert.Equal(t, GetResult{}, result)
}

func TestGet_ReturnsFileTextWhenWithinAllowedRoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "MEMORY.md")
	require.NoError(t, os.WriteFile(path, []byte("remember this"), 0o644))

	s := newTestServer(t, &fakeEpisodeStore{}, []string{root})
	result, err := s.Get(path)
	require.NoError(t, err)
	assert.Equal(t, "remember this", result.Text)
	assert.False(t, result.Truncated)
}

func TestGet_TruncatesTextPastCap(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "MEMORY.md")
	big := make([]byte, getTextCap+100)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, os.WriteFile(path, big, 0o644))

	s := newTestServer(t, &fakeEpisodeStore{}, []string{root})
	result, err := s.Get(path)
	require.NoError(t, err)
	assert.Len(t, result.Text, getTextCap)
	assert.True(t, result.Truncated)
}

func TestGet_RefusesPathOutsideAllowedRoots(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(outside, "MEMORY.md")
	require.NoError(t, os.WriteFile(path, []byte("secret"), 0o644))

	s := newTestServer(t, &fakeEpisodeStore{}, []string{root})
	_, err := s.Get(path)
	require.Error(t, err)
}

func TestExpand_ReturnsNilForUnknownID(t *testing.T) {
	s := newTestServer(t, &fakeEpisodeStore{episodes: map[string]*types.Episode{}}, nil)
	ep, err := s.Expand(context.Background(), "missing", nil)
	require.NoError(t, err)
	assert.Nil(t, ep)
}

func TestExpand_RefusesCrossProjectScopedEpisode(t *testing.T) {
	projectA := "project-a"
	projectB := "project-b"
	es := &fakeEpisodeStore{episodes: map[string]*types.Episode{
		"ep-1": {ID: "ep-1", Scope: types.ScopeProject, Project: &projectA},
	}}
	s := newTestServer(t, es, nil)

	_, err := s.Expand(context.Background(), "ep-1", &projectB)
	require.Error(t, err)
	assert.Empty(t, es.touched)
}

func TestExpand_AllowsSameProjectAndIncrementsAccess(t *testing.T) {
	projectA := "project-a"
	es := &fakeEpisodeStore{episodes: map[string]*types.Episode{
		"ep-1": {ID: "ep-1", Scope: types.ScopeProject, Project: &projectA},
	}}
	s := newTestServer(t, es, nil)

	ep, err := s.Expand(context.Background(), "ep-1", &projectA)
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Equal(t, []string{"ep-1"}, es.touched)
}

func TestExpand_GlobalScopeIsAlwaysAccessible(t *testing.T) {
	es := &fakeEpisodeStore{episodes: map[string]*types.Episode{
		"ep-1": {ID: "ep-1", Scope: types.ScopeGlobal},
	}}
	s := newTestServer(t, es, nil)

	ep, err := s.Expand(context.Background(), "ep-1", nil)
	require.NoError(t, err)
	require.NotNil(t, ep)
}

func TestExpand_PropagatesTouchError(t *testing.T) {
	es := &fakeEpisodeStore{
		episodes: map[string]*types.Episode{"ep-1": {ID: "ep-1", Scope: types.ScopeGlobal}},
		touchErr: errors.New("disk full"),
	}
	s := newTestServer(t, es, nil)

	_, err := s.Expand(context.Background(), "ep-1", nil)
	require.Error(t, err)
}

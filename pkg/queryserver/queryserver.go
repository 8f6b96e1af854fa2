package queryserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/engram/pkg/errs"
	"github.com/cuemby/engram/pkg/retriever"
	"github.com/cuemby/engram/pkg/store"
	"github.com/cuemby/engram/pkg/types"
)

const getTextCap = 50_000

// EpisodeStore is the subset of pkg/store the query server needs for
// Expand (fetch one episode by id, advance its access stats) and
// SearchEpisodes (the agent-initiated recall variant's hybrid
// BM25/vector/recency/access pipeline).
type EpisodeStore interface {
	GetEpisode(ctx context.Context, id string) (*types.Episode, error)
	TouchEpisodeAccess(ctx context.Context, id string, accessedAt int64, incrementCount bool) error
	SearchEpisodesFTS(ctx context.Context, matchQuery string, limit int) ([]store.EpisodeFTSHit, error)
	ListRecentlyAccessedEpisodesWithEmbedding(ctx context.Context, limit int) ([]*types.Episode, error)
	GetEpisodesByIDs(ctx context.Context, ids []string) ([]*types.Episode, error)
}

// Server answers the read operations an agent tool layer needs.
type Server struct {
	retriever *retriever.Retriever
	episodeRetriever *retriever.EpisodeRetriever
	episodes EpisodeStore
	allowedRoots []string
	now func() time.Time
}

// New builds a Server. allowedRoots bounds Get's path traversal checks;
// typically cfg.ProjectRoots plus the global home directory.
func New(r *retriever.Retriever, episodes EpisodeStore, allowedRoots []string) *Server {
	return &Server{
		retriever: r,
		episodeRetriever: retriever.NewEpisodeRetriever(episodes),
		episodes: episodes,
		allowedRoots: allowedRoots,
		now: time.Now,
	}
}

// Search runs the hybrid BM25/vector pipeline (pkg/retriever) and
// returns a prefix-stable ranked result set.
func (s *Server) Search(ctx context.Context, queryEmbedding []float32, queryText string, limit int, project *string) ([]types.SearchResult, error) {
	results, err := s.retriever.Search(ctx, queryEmbedding, queryText, limit, project)
	if err != nil {
		return nil, errs.New(errs.Transient, "queryserver.Search", err)
	}
	return results, nil
}

// SearchEpisodes answers the agent-initiated recall variant: hybrid
// BM25/vector ranking over episodes directly, blended with recency and
// access-frequency rather than the chunk-level family/temporal-decay
// pipeline Search uses.
func (s *Server) SearchEpisodes(ctx context.Context, queryEmbedding []float32, queryText string, limit int) ([]types.EpisodeResult, error) {
	results, err := s.episodeRetriever.Search(ctx, queryEmbedding, queryText, limit)
	if err != nil {
		return nil, errs.New(errs.Transient, "queryserver.SearchEpisodes", err)
	}
	return results, nil
}

// GetResult is memory_get's response shape: a successful empty result
// for a missing file, never an error.
type GetResult struct {
	Text string
	Truncated bool
}

// Get reads a memory file's raw text. A non-existent path is a
// successful empty result. A path resolving outside every allowed root
// is refused with errs.Validation.
func (s *Server) Get(path string) (GetResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return GetResult{}, errs.New(errs.Validation, "queryserver.Get", err)
	}
	if !s.withinAllowedRoots(abs) {
		return GetResult{}, errs.New(errs.Validation, "queryserver.Get", errors.New("path outside allowed roots"))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return GetResult{}, nil
		}
		return GetResult{}, errs.New(errs.Transient, "queryserver.Get", err)
	}

	text := string(data)
	if len(text) > getTextCap {
		return GetResult{Text: text[:getTextCap], Truncated: true}, nil
	}
	return GetResult{Text: text}, nil
}

func (s *Server) withinAllowedRoots(abs string) bool {
	for _, root := range s.allowedRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && rel != "") {
			return true
		}
	}
	return false
}

// Expand fetches an episode's full content and advances its access
// stats. requestingProject scopes cross-project refusal: a
// scope=project episode may only be expanded by the project it belongs
// to, per the "explicit refusal message" requirement.
func (s *Server) Expand(ctx context.Context, id string, requestingProject *string) (*types.Episode, error) {
	ep, err := s.episodes.GetEpisode(ctx, id)
	if err != nil {
		return nil, errs.New(errs.Transient, "queryserver.Expand", err)
	}
	if ep == nil {
		return nil, nil
	}
	if ep.Scope == types.ScopeProject && !sameProject(ep.Project, requestingProject) {
		return nil, errs.New(errs.Validation, "queryserver.Expand",
			errors.New("this memory belongs to a different project and cannot be expanded here"))
	}

	if err := s.episodes.TouchEpisodeAccess(ctx, id, types.NowMillis(s.now()), true); err != nil {
		return nil, errs.New(errs.Transient, "queryserver.Expand", err)
	}
	return ep, nil
}

func sameProject(a, b *string) bool {
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

package retriever

import (
	"context"
	"sort"
	"time"

	"github.com/cuemby/engram/pkg/scoring"
	"github.com/cuemby/engram/pkg/store"
	"github.com/cuemby/engram/pkg/types"
)

// EpisodeStore is the subset of pkg/store the episode-retrieval variant
// depends on.
type EpisodeStore interface {
	SearchEpisodesFTS(ctx context.Context, matchQuery string, limit int) ([]store.EpisodeFTSHit, error)
	ListRecentlyAccessedEpisodesWithEmbedding(ctx context.Context, limit int) ([]*types.Episode, error)
	GetEpisodesByIDs(ctx context.Context, ids []string) ([]*types.Episode, error)
	TouchEpisodeAccess(ctx context.Context, id string, accessedAt int64, incrementCount bool) error
}

const recentAccessPoolSize = 200

// EpisodeRetriever answers the agent-initiated recall variant of search
type EpisodeRetriever struct {
	store EpisodeStore
	now func() int64
}

func NewEpisodeRetriever(s EpisodeStore) *EpisodeRetriever {
	return &EpisodeRetriever{store: s, now: func() int64 { return types.NowMillis(time.Now()) }}
}

type episodeCandidate struct {
	episode *types.Episode
	bm25Raw float64
	hasBM25 bool
	final float64
}

// Search runs the hybrid BM25/vector/recency/access-count pipeline
func (r *EpisodeRetriever) Search(ctx context.Context, queryEmbedding []float32, queryText string, limit int) ([]types.EpisodeResult, error) {
	matchQuery := normalizeQuery(queryText)

	var bm25Hits []store.EpisodeFTSHit
	if matchQuery != "" {
		hits, err := r.store.SearchEpisodesFTS(ctx, matchQuery, 50)
		if err != nil {
			return nil, err
		}
		bm25Hits = hits
	}

	recent, err := r.store.ListRecentlyAccessedEpisodesWithEmbedding(ctx, recentAccessPoolSize)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*episodeCandidate, len(recent)+len(bm25Hits))
	for _, e := range recent {
		byID[e.ID] = &episodeCandidate{episode: e}
	}

	var missingIDs []string
	bm25ByID := make(map[string]float64, len(bm25Hits))
	for _, h := range bm25Hits {
		bm25ByID[h.EpisodeID] = h.Score
		if _, ok := byID[h.EpisodeID]; !ok {
			missingIDs = append(missingIDs, h.EpisodeID)
		}
	}
	if len(missingIDs) > 0 {
		extra, err := r.store.GetEpisodesByIDs(ctx, missingIDs)
		if err != nil {
			return nil, err
		}
		for _, e := range extra {
			byID[e.ID] = &episodeCandidate{episode: e}
		}
	}
	for id, score := range bm25ByID {
		if c, ok := byID[id]; ok {
			c.bm25Raw = score
			c.hasBM25 = true
		}
	}

	candidates := make([]*episodeCandidate, 0, len(byID))
	for _, c := range byID {
		candidates = append(candidates, c)
	}

	normalizedBM25 := normalizeEpisodeBM25(candidates)

	maxAccess := 0
	for _, c := range candidates {
		if c.episode.AccessCount > maxAccess {
			maxAccess = c.episode.AccessCount
		}
	}

	now := r.now()
	for i, c := range candidates {
		vector := scoring.Cosine(queryEmbedding, c.episode.Embedding)
		relevance := 0.7*vector + 0.3*normalizedBM25[i]
		effectiveRelevance := relevance
		if c.episode.Importance == types.ImportanceHigh && effectiveRelevance < 0.3 {
			effectiveRelevance = 0.3
		}
		recency := scoring.TemporalDecay(now, c.episode.CreatedAt, false)
		accessFreq := float64(c.episode.AccessCount+1) / float64(maxAccess+1)
		c.final = 0.5*effectiveRelevance + 0.3*recency + 0.2*accessFreq
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].final > candidates[j].final })
	if limit > len(candidates) {
		limit = len(candidates)
	}
	top := candidates[:limit]

	out := make([]types.EpisodeResult, len(top))
	for i, c := range top {
		out[i] = types.EpisodeResult{Episode: c.episode, FinalScore: c.final}
		_ = r.store.TouchEpisodeAccess(ctx, c.episode.ID, now, false)
	}
	return out, nil
}

// normalizeEpisodeBM25 normalizes only the candidates with a BM25 hit; a
// lone hit gets 0.5 rather than 1.0, to avoid inflating a single keyword
// match.
func normalizeEpisodeBM25(candidates []*episodeCandidate) []float64 {
	out := make([]float64, len(candidates))
	var scores []float64
	var indices []int
	for i, c := range candidates {
		if c.hasBM25 {
			scores = append(scores, c.bm25Raw)
			indices = append(indices, i)
		}
	}
	if len(scores) == 0 {
		return out
	}
	if len(scores) == 1 {
		out[indices[0]] = 0.5
		return out
	}
	normalized := scoring.MinMaxNormalizeBM25(scores)
	for j, idx := range indices {
		out[idx] = normalized[j]
	}
	return out
}

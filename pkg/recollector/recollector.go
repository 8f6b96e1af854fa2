package recollector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/engram/pkg/scoring"
	"github.com/cuemby/engram/pkg/store"
	"github.com/cuemby/engram/pkg/types"
)

// Store is the subset of pkg/store the Recollector depends on.
type Store interface {
	SearchEpisodesFTS(ctx context.Context, matchQuery string, limit int) ([]store.EpisodeFTSHit, error)
	ListRecentlyAccessedEpisodesWithEmbedding(ctx context.Context, limit int) ([]*types.Episode, error)
	GetEpisodesByIDs(ctx context.Context, ids []string) ([]*types.Episode, error)
	TouchEpisodeAccess(ctx context.Context, id string, accessedAt int64, incrementCount bool) error
}

// Embedder is the single-text embedding seam the Recollector needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const (
	defaultTopicThreshold = 0.85
	maxMessageChars = 6000
	bm25PoolSize = 50
	recentPoolSize = 200
	maxFTSTerms = 20
	rrfK = 60.0
	topK = 3
	similarityFloor = 0.25
)

var rrfWeights = struct{ bm25, vector, recency, access float64 }{0.4, 1.0, 0.6, 0.4}

// Recollector pre-computes and persists per-session recollection bites.
type Recollector struct {
	store Store
	embedder Embedder
	dir string
	topicThreshold float64
	now func() int64

	mu sync.Mutex
	lastEmbedded map[string][]float32 // sessionID -> last embedded message
}

// New builds a Recollector writing recollection files under dir.
func New(s Store, embedder Embedder, dir string, topicThreshold float64) *Recollector {
	if topicThreshold <= 0 {
		topicThreshold = defaultTopicThreshold
	}
	return &Recollector{
		store: s,
		embedder: embedder,
		dir: dir,
		topicThreshold: topicThreshold,
		now: func() int64 { return types.NowMillis(time.Now()) },
		lastEmbedded: make(map[string][]float32),
	}
}

// Recompute runs the full algorithm documented here for one session.
// force=true (e.g. right after an extraction) bypasses the topic gate.
func (r *Recollector) Recompute(ctx context.Context, sessionID, message, messageUUID string, force bool) error {
	truncated := message
	if len(truncated) > maxMessageChars {
		truncated = truncated[:maxMessageChars]
	}

	embeddings, err := r.embedder.Embed(ctx, []string{truncated})
	if err != nil {
		return err
	}
	queryEmbedding := embeddings[0]

	if !force && queryEmbedding != nil {
		r.mu.Lock()
		prev := r.lastEmbedded[sessionID]
		r.mu.Unlock()
		if prev != nil && scoring.Cosine(prev, queryEmbedding) > r.topicThreshold {
			return nil // same topic as last time, skip the rebuild
		}
	}
	if queryEmbedding != nil {
		r.mu.Lock()
		r.lastEmbedded[sessionID] = queryEmbedding
		r.mu.Unlock()
	}

	candidates, err := r.gatherCandidates(ctx, truncated)
	if err != nil {
		return err
	}

	scored := r.scoreCandidates(candidates, queryEmbedding)
	sort.Slice(scored, func(i, j int) bool { return scored[i].fused > scored[j].fused })

	var surfaced []*scoredEpisode
	for _, c := range scored {
		if c.vectorSim < similarityFloor {
			continue
		}
		surfaced = append(surfaced, c)
		if len(surfaced) == topK {
			break
		}
	}

	bites := make([]types.Bite, len(surfaced))
	now := r.now()
	for i, c := range surfaced {
		bites[i] = types.Bite{ID: c.episode.ID, Text: c.episode.Summary, Date: c.episode.CreatedAt, Importance: c.episode.Importance}
		_ = r.store.TouchEpisodeAccess(ctx, c.episode.ID, now, false)
	}

	return r.writeRecollectionFile(sessionID, types.Recollection{MessageUUID: messageUUID, Timestamp: now, Bites: bites})
}

type scoredEpisode struct {
	episode *types.Episode
	bm25Raw float64
	hasBM25 bool
	vectorSim float64
	fused float64
}

func (r *Recollector) gatherCandidates(ctx context.Context, message string) (map[string]*scoredEpisode, error) {
	matchQuery := buildFTSQuery(message)

	var bm25Hits []store.EpisodeFTSHit
	if matchQuery != "" {
		hits, err := r.store.SearchEpisodesFTS(ctx, matchQuery, bm25PoolSize)
		if err != nil {
			return nil, err
		}
		bm25Hits = hits
	}

	recent, err := r.store.ListRecentlyAccessedEpisodesWithEmbedding(ctx, recentPoolSize)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*scoredEpisode, len(recent)+len(bm25Hits))
	for _, e := range recent {
		byID[e.ID] = &scoredEpisode{episode: e}
	}

	var missingIDs []string
	for _, h := range bm25Hits {
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
			byID[e.ID] = &scoredEpisode{episode: e}
		}
	}
	for _, h := range bm25Hits {
		if c, ok := byID[h.EpisodeID]; ok {
			c.bm25Raw = h.Score
			c.hasBM25 = true
		}
	}
	return byID, nil
}

func (r *Recollector) scoreCandidates(byID map[string]*scoredEpisode, queryEmbedding []float32) []*scoredEpisode {
	candidates := make([]*scoredEpisode, 0, len(byID))
	for _, c := range byID {
		c.vectorSim = scoring.Cosine(queryEmbedding, c.episode.Embedding)
		candidates = append(candidates, c)
	}

	bm25Rank := denseRankBM25(candidates)
	vectorRank := denseRankBy(candidates, func(c *scoredEpisode) float64 { return c.vectorSim }, true)
	recencyRank := denseRankBy(candidates, func(c *scoredEpisode) float64 { return float64(c.episode.CreatedAt) }, true)
	accessRank := denseRankBy(candidates, func(c *scoredEpisode) float64 { return float64(c.episode.AccessCount) }, true)

	// The "~10 rank positions" importance bonus,
	// expressed as the marginal RRF value a candidate gains moving from
	// rank 11 to rank 1 on the heaviest-weighted (vector) list.
	importanceBonus := rrfWeights.vector * (scoring.RRF(1, rrfK) - scoring.RRF(11, rrfK))

	for i, c := range candidates {
		fused := rrfWeights.bm25*scoring.RRF(bm25Rank[i], rrfK) +
			rrfWeights.vector*scoring.RRF(vectorRank[i], rrfK) +
			rrfWeights.recency*scoring.RRF(recencyRank[i], rrfK) +
			rrfWeights.access*scoring.RRF(accessRank[i], rrfK)
		if c.episode.Importance == types.ImportanceHigh {
			fused += importanceBonus
		}
		c.fused = fused
	}
	return candidates
}

// denseRankBM25 ranks only candidates with a BM25 hit, ascending by raw
// score (more negative = better); candidates without a hit get rank 0,
// contributing nothing to their RRF term.
func denseRankBM25(candidates []*scoredEpisode) []int {
	type idxScore struct {
		idx int
		score float64
	}
	var withHit []idxScore
	for i, c := range candidates {
		if c.hasBM25 {
			withHit = append(withHit, idxScore{i, c.bm25Raw})
		}
	}
	sort.Slice(withHit, func(i, j int) bool { return withHit[i].score < withHit[j].score })

	ranks := make([]int, len(candidates))
	rank := 0
	for i, e := range withHit {
		if i == 0 || e.score != withHit[i-1].score {
			rank = i + 1
		}
		ranks[e.idx] = rank
	}
	return ranks
}

// denseRankBy ranks all candidates by key, descending when higherIsBetter.
func denseRankBy(candidates []*scoredEpisode, key func(*scoredEpisode) float64, higherIsBetter bool) []int {
	type idxScore struct {
		idx int
		score float64
	}
	ordered := make([]idxScore, len(candidates))
	for i, c := range candidates {
		ordered[i] = idxScore{i, key(c)}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if higherIsBetter {
			return ordered[i].score > ordered[j].score
		}
		return ordered[i].score < ordered[j].score
	})

	ranks := make([]int, len(candidates))
	rank := 0
	for i, e := range ordered {
		if i == 0 || e.score != ordered[i-1].score {
			rank = i + 1
		}
		ranks[e.idx] = rank
	}
	return ranks
}

var (
	ftsNonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	ftsReserved = map[string]bool{"AND": true, "OR": true, "NOT": true, "NEAR": true}
	ftsStopwords = map[string]bool{
		"the": true, "a": true, "an": true, "is": true, "are": true, "was": true, "were": true,
		"and": true, "or": true, "but": true, "of": true, "to": true, "in": true, "on": true,
		"for": true, "with": true, "that": true, "this": true, "it": true, "i": true, "you": true,
	}
)

// buildFTSQuery mirrors retriever.normalizeQuery but additionally strips a
// stop-word list and caps the term count.
func buildFTSQuery(message string) string {
	cleaned := ftsNonAlnum.ReplaceAllString(message, " ")
	fields := strings.Fields(cleaned)

	var terms []string
	for _, f := range fields {
		upper := strings.ToUpper(f)
		lower := strings.ToLower(f)
		if ftsReserved[upper] || ftsStopwords[lower] {
			continue
		}
		terms = append(terms, f)
		if len(terms) == maxFTSTerms {
			break
		}
	}
	return strings.Join(terms, " OR ")
}

func (r *Recollector) writeRecollectionFile(sessionID string, rec types.Recollection) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", " ")
	if err != nil {
		return err
	}
	path := filepath.Join(r.dir, sessionID+".json")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

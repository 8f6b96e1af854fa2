package retriever

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/engram/pkg/scoring"
	"github.com/cuemby/engram/pkg/store"
	"github.com/cuemby/engram/pkg/types"
)

// ChunkStore is the subset of pkg/store the Retriever depends on.
type ChunkStore interface {
	SearchChunksFTS(ctx context.Context, matchQuery string, limit int) ([]store.ChunkFTSHit, error)
	GetChunksByIDs(ctx context.Context, ids []int64) ([]*types.Chunk, error)
	ListRecentChunksWithEmbedding(ctx context.Context, limit int) ([]*types.Chunk, error)
	ProjectFamily(ctx context.Context, projectID string) ([]string, error)
}

// Retriever answers hybrid search queries over indexed chunks.
type Retriever struct {
	store ChunkStore
	now func() int64
}

// New builds a Retriever over store.
func New(s ChunkStore) *Retriever {
	return &Retriever{store: s, now: func() int64 { return types.NowMillis(time.Now()) }}
}

var reservedTokens = map[string]bool{"AND": true, "OR": true, "NOT": true, "NEAR": true}
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// normalizeQuery strips punctuation and collapses whitespace before FTS matching.
func normalizeQuery(queryText string) string {
	cleaned := nonAlphanumeric.ReplaceAllString(queryText, " ")
	fields := strings.Fields(cleaned)
	var terms []string
	for _, f := range fields {
		if reservedTokens[strings.ToUpper(f)] {
			continue
		}
		terms = append(terms, f)
	}
	return strings.Join(terms, " OR ")
}

type candidate struct {
	chunk *types.Chunk
	vectorSim float64
	bm25Raw float64
	hasBM25 bool
	finalScore float64
}

// Search implements the full pipeline documented here
func (r *Retriever) Search(ctx context.Context, queryEmbedding []float32, queryText string, limit int, project *string) ([]types.SearchResult, error) {
	candidateCount := limit * 3
	matchQuery := normalizeQuery(queryText)

	var candidates []*candidate
	usedLexical := false

	if matchQuery != "" {
		hits, err := r.store.SearchChunksFTS(ctx, matchQuery, candidateCount)
		if err != nil {
			return nil, err
		}
		if len(hits) > 0 {
			usedLexical = true
			candidates, err = r.hydrateLexicalCandidates(ctx, hits, project)
			if err != nil {
				return nil, err
			}
		}
	}

	if !usedLexical {
		return r.vectorFallback(ctx, queryEmbedding, candidateCount, limit)
	}

	r.scoreHybrid(candidates, queryEmbedding)
	return r.finalize(candidates, limit), nil
}

func (r *Retriever) hydrateLexicalCandidates(ctx context.Context, hits []store.ChunkFTSHit, project *string) ([]*candidate, error) {
	ids := make([]int64, len(hits))
	scoreByID := make(map[int64]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
		scoreByID[h.ChunkID] = h.Score
	}

	chunks, err := r.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var family map[string]bool
	if project != nil {
		ids, ferr := r.store.ProjectFamily(ctx, *project)
		if ferr != nil {
			return nil, ferr
		}
		family = make(map[string]bool, len(ids))
		for _, id := range ids {
			family[id] = true
		}
	}

	out := make([]*candidate, 0, len(chunks))
	for _, c := range chunks {
		if family != nil {
			if c.Project != nil && !family[*c.Project] {
				continue
			}
		}
		out = append(out, &candidate{chunk: c, bm25Raw: scoreByID[c.ID], hasBM25: true})
	}
	return out, nil
}

func (r *Retriever) scoreHybrid(candidates []*candidate, queryEmbedding []float32) {
	bm25Scores := make([]float64, len(candidates))
	for i, c := range candidates {
		bm25Scores[i] = c.bm25Raw
	}
	normalized := scoring.MinMaxNormalizeBM25(bm25Scores)

	now := r.now()
	for i, c := range candidates {
		c.vectorSim = scoring.Cosine(queryEmbedding, c.chunk.Embedding)
		raw := 0.7*c.vectorSim + 0.3*normalized[i]
		decay := scoring.TemporalDecay(now, c.chunk.UpdatedAt, scoring.IsEvergreen(filepath.Base(c.chunk.Path)))
		c.finalScore = raw * decay
	}
}

func (r *Retriever) vectorFallback(ctx context.Context, queryEmbedding []float32, candidateCount, limit int) ([]types.SearchResult, error) {
	chunks, err := r.store.ListRecentChunksWithEmbedding(ctx, candidateCount)
	if err != nil {
		return nil, err
	}
	candidates := make([]*candidate, len(chunks))
	now := r.now()
	for i, c := range chunks {
		sim := scoring.Cosine(queryEmbedding, c.Embedding)
		decay := scoring.TemporalDecay(now, c.UpdatedAt, scoring.IsEvergreen(filepath.Base(c.Path)))
		candidates[i] = &candidate{chunk: c, vectorSim: sim, finalScore: sim * decay}
	}
	return r.finalize(candidates, limit), nil
}

func (r *Retriever) finalize(candidates []*candidate, limit int) []types.SearchResult {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].finalScore > candidates[j].finalScore })

	mmrCandidates := make([]scoring.MMRCandidate, len(candidates))
	for i, c := range candidates {
		mmrCandidates[i] = scoring.MMRCandidate{Relevance: c.finalScore, Text: c.chunk.Text}
	}
	selected := scoring.MMRRerank(mmrCandidates, limit)

	out := make([]types.SearchResult, len(selected))
	for i, idx := range selected {
		c := candidates[idx]
		out[i] = types.SearchResult{
			ChunkID: c.chunk.ID,
			Path: c.chunk.Path,
			Layer: c.chunk.Layer,
			Project: c.chunk.Project,
			StartLine: c.chunk.StartLine,
			EndLine: c.chunk.EndLine,
			Text: c.chunk.Text,
			FinalScore: c.finalScore,
		}
	}
	return out
}

package extractor

import (
	"context"

	"github.com/cuemby/engram/pkg/scoring"
	"github.com/cuemby/engram/pkg/types"
)

// upsert implements the per-candidate upsert: embed, find the
// best compatible match in the pre-fetched snapshot, merge above the
// similarity threshold or insert fresh otherwise.
func (x *Extractor) upsert(ctx context.Context, sessionID string, c types.CandidateMemory, sourceType string, snapshot []*types.Episode) error {
	embeddings, err := x.embedder.Embed(ctx, []string{c.Summary})
	if err != nil {
		return err
	}
	embedding := embeddings[0]
	if embedding == nil {
		return errInvalidCandidate("extractor.upsert") // skip on embed failure
	}

	best, bestScore := bestMatch(c, embedding, snapshot)
	if best != nil && bestScore > mergeThreshold {
		return x.merge(ctx, best, c, embedding)
	}
	return x.insert(ctx, sessionID, c, sourceType, embedding)
}

// bestMatch finds the highest-cosine existing episode compatible with c's
// scope/project.
func bestMatch(c types.CandidateMemory, embedding []float32, snapshot []*types.Episode) (*types.Episode, float64) {
	var best *types.Episode
	bestScore := -2.0 // below any valid cosine value

	for _, e := range snapshot {
		if !compatible(c, e) {
			continue
		}
		score := scoring.Cosine(embedding, e.Embedding)
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	return best, bestScore
}

func compatible(c types.CandidateMemory, e *types.Episode) bool {
	if c.Scope == types.ScopeGlobal {
		return e.Scope == types.ScopeGlobal
	}
	return e.Scope == types.ScopeProject && e.Project != nil && c.Project != nil && *e.Project == *c.Project
}

// merge folds a new candidate into an existing episode rather than
// inserting a duplicate.
func (x *Extractor) merge(ctx context.Context, existing *types.Episode, c types.CandidateMemory, _ []float32) error {
	mergedSummary := existing.Summary + " | " + c.Summary
	if len(mergedSummary) > maxSummaryChars {
		mergedSummary = truncate(c.Summary, maxSummaryChars)
	}

	mergedFull := mergedFullContent(existing, c)

	// Re-embed the merged summary text itself, rather than reusing the
	// candidate's raw embedding: the stored summary is the old and new
	// summaries joined by " | " (or, when that exceeds the limit, the
	// candidate's summary alone), so the embedding must track whatever
	// text actually ends up persisted.
	embeddings, err := x.embedder.Embed(ctx, []string{mergedSummary})
	if err != nil {
		return err
	}
	mergedEmbedding := embeddings[0]
	if mergedEmbedding == nil {
		mergedEmbedding = existing.Embedding
	}

	existing.Summary = mergedSummary
	existing.FullContent = &mergedFull
	existing.Entities = mergeEntities(existing.Entities, c.Entities)
	existing.Importance = c.Importance
	existing.AccessedAt = x.now()
	existing.AccessCount++
	existing.Embedding = mergedEmbedding

	return x.store.UpdateEpisode(ctx, existing)
}

func mergedFullContent(existing *types.Episode, c types.CandidateMemory) string {
	oldContent := ""
	if existing.FullContent != nil {
		oldContent = *existing.FullContent
	}
	combined := oldContent + "\n---\n" + c.FullContent
	if len(combined) > maxFullContentChars {
		// Tail-truncate: keep the most recent content.
		combined = combined[len(combined)-maxFullContentChars:]
	}
	return combined
}

func mergeEntities(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, e := range append(append([]string{}, existing...), incoming...) {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
		if len(out) == maxEntities {
			break
		}
	}
	return out
}

// insert writes a new episode row for a candidate that matched nothing existing.
func (x *Extractor) insert(ctx context.Context, sessionID string, c types.CandidateMemory, sourceType string, embedding []float32) error {
	scope := c.Scope
	project := c.Project
	if project == nil {
		scope = types.ScopeGlobal
	}

	now := x.now()
	e := &types.Episode{
		ID: x.newID(),
		SessionID: sessionID,
		Project: project,
		Scope: scope,
		Summary: c.Summary,
		Entities: c.Entities,
		Importance: c.Importance,
		SourceType: sourceType,
		FullContent: &c.FullContent,
		Embedding: embedding,
		CreatedAt: now,
		AccessedAt: now,
		AccessCount: 0,
	}
	return x.store.CreateEpisode(ctx, e)
}

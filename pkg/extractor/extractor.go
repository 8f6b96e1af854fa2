package extractor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/engram/pkg/errs"
	"github.com/cuemby/engram/pkg/llm"
	"github.com/cuemby/engram/pkg/log"
	"github.com/cuemby/engram/pkg/types"
)

// Store is the subset of pkg/store the Extractor depends on.
type Store interface {
	ListEpisodesWithEmbedding(ctx context.Context, limit int) ([]*types.Episode, error)
	CreateEpisode(ctx context.Context, e *types.Episode) error
	UpdateEpisode(ctx context.Context, e *types.Episode) error
}

// Embedder is the single-batch embedding seam the Extractor needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const (
	maxSummaryChars = 500
	maxFullContentChars = 4000
	maxEntities = 20
	mergeThreshold = 0.92
	snapshotSize = 1000
)

// Extractor turns new session messages into episodes.
type Extractor struct {
	llm llm.Client
	store Store
	embedder Embedder
	now func() int64
	newID func() string
}

func New(client llm.Client, s Store, embedder Embedder) *Extractor {
	return &Extractor{
		llm: client,
		store: s,
		embedder: embedder,
		now: func() int64 { return types.NowMillis(time.Now()) },
		newID: newEpisodeID,
	}
}

func newEpisodeID() string {
	return "ep_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Run calls the LLM, validates its response, and upserts every candidate
// against a snapshot of existing episodes fetched once for the whole
// batch. Returns the updated rolling summary.
func (x *Extractor) Run(ctx context.Context, sessionID string, previousSummary string, messages []types.Message, project *string, sourceType string, isRoot bool) (string, error) {
	req := llm.ExtractionRequest{PreviousSummary: previousSummary, Messages: messages, IsRoot: isRoot}
	if project != nil {
		req.Project = *project
	}

	raw, err := x.llm.Extract(ctx, req)
	if err != nil {
		return previousSummary, err
	}

	candidates, updatedSummary := validate(raw, previousSummary, project)

	if len(candidates) == 0 {
		return updatedSummary, nil
	}

	snapshot, err := x.store.ListEpisodesWithEmbedding(ctx, snapshotSize)
	if err != nil {
		return updatedSummary, err
	}

	for _, c := range candidates {
		if err := x.upsert(ctx, sessionID, c, sourceType, snapshot); err != nil {
			log.WithComponent("extractor").Warn().Err(err).Str("session_id", sessionID).Msg("candidate upsert failed")
		}
	}

	return updatedSummary, nil
}

// validate implements the response validation: each memory
// needs a non-empty summary; fields are truncated/clamped with defined
// fallbacks rather than rejecting the whole batch.
func validate(raw *llm.RawExtraction, previousSummary string, project *string) ([]types.CandidateMemory, string) {
	if raw == nil {
		return nil, previousSummary
	}

	updatedSummary := raw.UpdatedSummary
	if updatedSummary == "" {
		updatedSummary = previousSummary
	}

	var candidates []types.CandidateMemory
	for _, m := range raw.Memories {
		if m.Summary == "" {
			continue
		}
		summary := truncate(m.Summary, maxSummaryChars)
		fullContent := truncate(m.FullContent, maxFullContentChars)

		entities := m.Entities
		if len(entities) > maxEntities {
			entities = entities[:maxEntities]
		}

		importance := types.Importance(m.Importance)
		if importance != types.ImportanceNormal && importance != types.ImportanceHigh {
			importance = types.ImportanceNormal
		}

		scope := types.Scope(m.Scope)
		if scope != types.ScopeGlobal && scope != types.ScopeProject {
			scope = types.ScopeGlobal
		}

		candidateProject := project
		if scope == types.ScopeGlobal {
			candidateProject = nil
		} else if candidateProject == nil {
			// scope='project' with no project context to attach to; per
			// the invariant (scope=project => project non-null),
			// fall back to global rather than emit an inconsistent row.
			scope = types.ScopeGlobal
		}

		candidates = append(candidates, types.CandidateMemory{
			Summary: summary,
			FullContent: fullContent,
			Entities: entities,
			Importance: importance,
			Scope: scope,
			Project: candidateProject,
		})
	}
	return candidates, updatedSummary
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func errInvalidCandidate(op string) error {
	return errs.New(errs.Validation, op, errInvalid)
}

var errInvalid = errValidationSentinel("invalid candidate")

type errValidationSentinel string

func (e errValidationSentinel) Error() string { return string(e) }

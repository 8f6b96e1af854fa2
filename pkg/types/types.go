package types

import "time"

// Layer classifies where a Chunk was indexed from.
type Layer string

const (
	LayerGlobal  Layer = "global"
	LayerProject Layer = "project"
)

// Scope classifies an Episode as cross-project or project-bound.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// Importance marks an Episode for graduation priority.
type Importance string

const (
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// Chunk is a passage indexed from a memory document (MEMORY.md, a daily
// log, or any other indexed file). The natural key is (Path, StartLine,
// EndLine); updates re-hash the content and replace the embedding only
// when the hash changes.
type Chunk struct {
	ID          int64
	Path        string
	Layer       Layer
	Project     *string
	StartLine   int
	EndLine     int
	ContentHash string
	Text        string
	Embedding   []float32 // nil means "no semantic signal"
	UpdatedAt   int64     // ms epoch
}

// Episode is a distilled memory candidate produced by the Extractor.
type Episode struct {
	ID           string
	SessionID    string
	Project      *string
	Scope        Scope
	Summary      string // <= 500 chars
	Entities     []string
	Importance   Importance
	SourceType   string
	FullContent  *string // nil once compressed
	Embedding    []float32
	CreatedAt    int64
	AccessedAt   int64
	AccessCount  int
	GraduatedAt  *int64
}

// Compressed reports whether the episode's full content has been nulled
// out by the Consolidator after the 30-day zero-access window.
func (e *Episode) Compressed() bool {
	return e.FullContent == nil
}

// EmbeddingCacheEntry maps a content hash to its cached embedding.
type EmbeddingCacheEntry struct {
	ContentHash string
	Embedding   []float32
	Dims        int
	UpdatedAt   int64
}

// Project is a registered project root, used to resolve the "family"
// (self + descendants) that the Retriever's scope filter matches against.
type Project struct {
	ID       string
	Name     string
	RootPath string
	ParentID *string
}

// SessionState is the per-session tailer cursor, persisted by StateStore.
type SessionState struct {
	SessionID             string `json:"-"`
	ByteOffset             int64  `json:"byteOffset"`
	LastExtractedAt        int64  `json:"lastExtractedAt"`
	MessagesSinceExtraction int   `json:"messagesSinceExtraction"`
	RollingSummary         string `json:"rollingSummary"`         // <= 1000 chars
	LastUserMessageUUID    string `json:"lastUserMessageUuid"`
	CreatedAt              int64  `json:"createdAt"`
	LastBufferSummary      string `json:"lastBufferSummary"` // <= 200 chars
}

// Bite is a short recollection surfaced to the host assistant.
type Bite struct {
	ID         string     `json:"id"`
	Text       string     `json:"bite"`
	Date       int64      `json:"date"`
	Importance Importance `json:"importance"`
}

// Recollection is the pre-computed top-K set of bites for one session and
// user message, written atomically to recollections/<sessionId>.json.
type Recollection struct {
	MessageUUID string `json:"messageUuid"`
	Timestamp   int64  `json:"timestamp"`
	Bites       []Bite `json:"bites"`
}

// Message is a single turn read from a session transcript after role and
// content-block filtering.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
	UUID    string
}

// CandidateMemory is one distillation proposed by the Extractor's LLM call,
// validated before it reaches the upsert path.
type CandidateMemory struct {
	Summary     string
	FullContent string
	Entities    []string
	Importance  Importance
	Scope       Scope
	Project     *string
}

// SearchResult is one hit returned by the Retriever's hybrid search.
type SearchResult struct {
	ChunkID    int64
	Path       string
	Layer      Layer
	Project    *string
	StartLine  int
	EndLine    int
	Text       string
	FinalScore float64
}

// EpisodeResult is one hit returned by the episode-retrieval variant,
// used for agent-initiated recall.
type EpisodeResult struct {
	Episode    *Episode
	FinalScore float64
}

// NowMillis is a small seam so callers needing "now" can be swapped in
// tests without reaching for a global clock package.
func NowMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

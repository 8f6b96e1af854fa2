package tailer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/cuemby/engram/pkg/types"
)

type fakeStateStore struct {
	mu    sync.Mutex
	state types.SessionState
}

// newFakeStateStore mirrors pkg/statestore.Store's behavior of defaulting
// a fresh session's LastExtractedAt to "now" rather than the zero epoch,
// so warm-window elapsed checks don't trivially trip for a brand new session.
func newFakeStateStore() *fakeStateStore {
	now := types.NowMillis(time.Now())
	return &fakeStateStore{state: types.SessionState{SessionID: "s1", CreatedAt: now, LastExtractedAt: now}}
}

func (f *fakeStateStore) Get(sessionID string) *types.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state
	return &s
}

func (f *fakeStateStore) Update(sessionID string, mutate func(*types.SessionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(&f.state)
}

func (f *fakeStateStore) SaveSoon() {}

type fakeExtractor struct {
	mu       sync.Mutex
	calls    int
	received [][]types.Message
	err      error
	onCall   func()
}

func (f *fakeExtractor) Run(ctx context.Context, sessionID string, previousSummary string, messages []types.Message, project *string, sourceType string, isRoot bool) (string, error) {
	f.mu.Lock()
	f.calls++
	f.received = append(f.received, messages)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return "", f.err
	}
	return "updated summary", nil
}

type fakeRecollector struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRecollector) Recompute(ctx context.Context, sessionID, message, messageUUID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func writeTranscriptLine(t *testing.T, f *os.File, role, text, uuid string) {
	t.Helper()
	line := `{"type":"` + role + `","uuid":"` + uuid + `","message":{"role":"` + role + `","content":"` + text + `"}}` + "\n"
	_, err := f.WriteString(line)
	require.NoError(t, err)
}

func newTestTailer(t *testing.T, path string, state StateStore, ex Extractor, rc Recollector) *Tailer {
	sem := semaphore.NewWeighted(3)
	return New(path, "s1", nil, "claude_code", state, ex, rc, sem)
}

func TestDrain_ParsesUserAndAssistantLinesIntoExtractionBuffer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)

	writeTranscriptLine(t, f, "user", "hello there", "u1")
	writeTranscriptLine(t, f, "assistant", "hi, how can I help", "a1")
	require.NoError(t, f.Close())

	state := newFakeStateStore()
	ex := &fakeExtractor{}
	rc := &fakeRecollector{}
	tl := newTestTailer(t, path, state, ex, rc)

	require.NoError(t, tl.drain(context.Background()))

	assert.Equal(t, 2, tl.extractBuf.Len())
	assert.Equal(t, 2, tl.ring.Len())
	assert.Equal(t, 1, state.Get("s1").MessagesSinceExtraction)
}

func TestDrain_SkipsNonUserAssistantAndEmptyContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)

	_, err = f.WriteString(`{"type":"system","message":{"role":"system","content":"noop"}}` + "\n")
	require.NoError(t, err)
	writeTranscriptLine(t, f, "user", "  ", "u-empty")
	writeTranscriptLine(t, f, "user", "real message", "u-real")
	require.NoError(t, f.Close())

	state := newFakeStateStore()
	tl := newTestTailer(t, path, state, &fakeExtractor{}, &fakeRecollector{})

	require.NoError(t, tl.drain(context.Background()))

	assert.Equal(t, 1, tl.extractBuf.Len())
}

func TestDrain_HoldsBackTrailingPartialLineAcrossReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	writeTranscriptLine(t, f, "user", "first message", "u1")
	// Partial line without trailing newline, simulating an in-progress write.
	_, err = f.WriteString(`{"type":"user","uuid":"u2","message":{"role":"user","content":"cut of`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	state := newFakeStateStore()
	tl := newTestTailer(t, path, state, &fakeExtractor{}, &fakeRecollector{})
	require.NoError(t, tl.drain(context.Background()))

	assert.Equal(t, 1, tl.extractBuf.Len())
	assert.NotEmpty(t, tl.pendingLine)

	f, err = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`f"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, tl.drain(context.Background()))
	assert.Equal(t, 2, tl.extractBuf.Len())
	assert.Empty(t, tl.pendingLine)
}

func TestDrain_TruncationResetsCursorAndDecoderState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	writeTranscriptLine(t, f, "user", "message one", "u1")
	writeTranscriptLine(t, f, "user", "message two", "u2")
	require.NoError(t, f.Close())

	state := newFakeStateStore()
	tl := newTestTailer(t, path, state, &fakeExtractor{}, &fakeRecollector{})
	require.NoError(t, tl.drain(context.Background()))
	assert.Equal(t, 2, tl.extractBuf.Len())

	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
	f, err = os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(t, err)
	writeTranscriptLine(t, f, "user", "fresh start", "u3")
	require.NoError(t, f.Close())

	require.NoError(t, tl.drain(context.Background()))
	assert.Equal(t, int64(len(`{"type":"user","uuid":"u3","message":{"role":"user","content":"fresh start"}}`)+1), tl.cursor)
}

func TestExtract_SplicesOnlySnapshottedPrefixOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	writeTranscriptLine(t, f, "user", "one", "u1")
	require.NoError(t, f.Close())

	state := newFakeStateStore()
	rc := &fakeRecollector{}
	ex := &fakeExtractor{}
	tl := newTestTailer(t, path, state, ex, rc)
	require.NoError(t, tl.drain(context.Background()))

	// Simulate a message arriving while the extraction call is in flight:
	// the snapshot was already taken, so this append must survive DropPrefix.
	ex.onCall = func() {
		tl.mu.Lock()
		tl.extractBuf.Append(types.Message{Role: "user", Content: "appended mid-extraction", UUID: "u-late"})
		tl.mu.Unlock()
	}

	tl.extract(context.Background(), false)

	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, 1, len(ex.received[0]))
	assert.Equal(t, 1, tl.extractBuf.Len())
	assert.Equal(t, "updated summary", state.Get("s1").RollingSummary)
	assert.Equal(t, 1, rc.calls)
}

func TestExtract_FailureAdvancesBackoffAndKeepsBuffer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	writeTranscriptLine(t, f, "user", "one", "u1")
	require.NoError(t, f.Close())

	state := newFakeStateStore()
	ex := &fakeExtractor{err: assertErr{}}
	tl := newTestTailer(t, path, state, ex, &fakeRecollector{})
	require.NoError(t, tl.drain(context.Background()))

	tl.extract(context.Background(), false)

	assert.Equal(t, 1, tl.extractBuf.Len())
	assert.Equal(t, backoffBase, tl.backoff)
}

func TestExtract_ForcedBypassesBackoffGate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	writeTranscriptLine(t, f, "user", "one", "u1")
	require.NoError(t, f.Close())

	state := newFakeStateStore()
	ex := &fakeExtractor{}
	tl := newTestTailer(t, path, state, ex, &fakeRecollector{})
	require.NoError(t, tl.drain(context.Background()))

	tl.backoff = backoffMax
	tl.lastFailureAt = time.Now()

	tl.extract(context.Background(), true)
	assert.Equal(t, 1, ex.calls)
}

func TestStop_ForceFlushesNonEmptyBufferWithinTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	writeTranscriptLine(t, f, "user", "one", "u1")
	require.NoError(t, f.Close())

	state := newFakeStateStore()
	ex := &fakeExtractor{}
	tl := newTestTailer(t, path, state, ex, &fakeRecollector{})
	require.NoError(t, tl.Start(context.Background()))

	require.NoError(t, tl.Stop(context.Background()))

	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, 0, tl.extractBuf.Len())
}

func TestDrain_BacklogMessagesDoNotTriggerRecollection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	writeTranscriptLine(t, f, "user", "replayed from backlog", "u1")
	require.NoError(t, f.Close())

	state := newFakeStateStore()
	rc := &fakeRecollector{}
	tl := newTestTailer(t, path, state, &fakeExtractor{}, rc)

	// A direct drain() call before Start/caughtUp simulates backlog replay.
	require.NoError(t, tl.drain(context.Background()))

	rc.mu.Lock()
	calls := rc.calls
	rc.mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestStart_MarksCaughtUpAfterInitialDrainSoLiveMessagesTriggerRecollection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	writeTranscriptLine(t, f, "user", "backlog message", "u1")
	require.NoError(t, f.Close())

	state := newFakeStateStore()
	rc := &fakeRecollector{}
	tl := newTestTailer(t, path, state, &fakeExtractor{}, rc)

	require.NoError(t, tl.Start(context.Background()))
	defer tl.Stop(context.Background())

	rc.mu.Lock()
	backlogCalls := rc.calls
	rc.mu.Unlock()
	assert.Equal(t, 0, backlogCalls, "backlog replay during Start must not trigger recollection")

	assert.True(t, tl.caughtUp)

	f, err = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	writeTranscriptLine(t, f, "user", "live message", "u2")
	require.NoError(t, f.Close())

	require.NoError(t, tl.drain(context.Background()))

	rc.mu.Lock()
	liveCalls := rc.calls
	rc.mu.Unlock()
	assert.Equal(t, 1, liveCalls, "a message observed after catch-up must trigger recollection")
}

func TestExtractText_HandlesPlainStringAndContentBlockArray(t *testing.T) {
	assert.Equal(t, "hi", extractText([]byte(`"hi"`)))
	assert.Equal(t, "hello world", extractText([]byte(`[{"type":"text","text":"hello "},{"type":"tool_use","text":"ignored"},{"type":"text","text":"world"}]`)))
	assert.Equal(t, "", extractText([]byte(`null`)))
}

func TestMaybeTriggerExtraction_FiresAtInitialThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < thresholdInitial; i++ {
		writeTranscriptLine(t, f, "user", "msg "+strings.Repeat("x", i+1), "u"+string(rune('a'+i)))
	}
	require.NoError(t, f.Close())

	state := newFakeStateStore()
	ex := &fakeExtractor{}
	tl := newTestTailer(t, path, state, ex, &fakeRecollector{})
	require.NoError(t, tl.drain(context.Background()))

	require.Eventually(t, func() bool {
		ex.mu.Lock()
		defer ex.mu.Unlock()
		return ex.calls == 1
	}, time.Second, 10*time.Millisecond)
}

type assertErr struct{}

func (assertErr) Error() string { return "extraction failed" }

package tailer

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/cuemby/engram/pkg/log"
	"github.com/cuemby/engram/pkg/types"
)

const (
	maxChunkBytes = 4 << 20 // 4 MiB
	maxDrainIterations = 10
	ringBufferCap = 50
	extractionBufferCap = 100
	thresholdInitial = 5
	thresholdAfterFirst = 15
	warmWindow = 20 * time.Minute
	debounceWindow = 200 * time.Millisecond
	warmTickInterval = 60 * time.Second
	backoffBase = 15 * time.Second
	backoffMax = 120 * time.Second
	stopDrainTimeout = 10 * time.Second
	stopExtractTimeout = 10 * time.Second
)

// StateStore is the subset of pkg/statestore the Tailer depends on.
type StateStore interface {
	Get(sessionID string) *types.SessionState
	Update(sessionID string, mutate func(*types.SessionState))
	SaveSoon()
}

// Extractor is the subset of pkg/extractor the Tailer depends on.
type Extractor interface {
	Run(ctx context.Context, sessionID string, previousSummary string, messages []types.Message, project *string, sourceType string, isRoot bool) (string, error)
}

// Recollector is the subset of pkg/recollector the Tailer depends on.
type Recollector interface {
	Recompute(ctx context.Context, sessionID, message, messageUUID string, force bool) error
}

// transcriptEntry is one raw line of a session JSONL transcript.
type transcriptEntry struct {
	Type string `json:"type"`
	UUID string `json:"uuid"`
	Message struct {
		Role string `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// Tailer incrementally reads one session transcript file and drives
// extraction and recollection as new turns arrive.
type Tailer struct {
	path string
	sessionID string
	project *string
	sourceType string

	state StateStore
	extractor Extractor
	recollector Recollector
	sem *semaphore.Weighted
	now func() time.Time
	logger zerolog.Logger

	mu sync.Mutex
	ring *ringBuffer
	extractBuf *ringBuffer
	pendingLine []byte
	pendingUTF8 []byte
	cursor int64

	extracting bool
	extractionPending bool
	everExtracted bool
	caughtUp bool
	backoff time.Duration
	lastFailureAt time.Time
	lastExtractAt time.Time

	watcher *fsnotify.Watcher
	debounceTimer *time.Timer
	warmTicker *time.Ticker
	stopCh chan struct{}
	watchDone sync.WaitGroup
}

func New(path, sessionID string, project *string, sourceType string, state StateStore, extractor Extractor, recollector Recollector, sem *semaphore.Weighted) *Tailer {
	return &Tailer{
		path: path,
		sessionID: sessionID,
		project: project,
		sourceType: sourceType,
		state: state,
		extractor: extractor,
		recollector: recollector,
		sem: sem,
		now: time.Now,
		logger: log.WithSession(log.WithComponent("tailer"), sessionID),
		ring: newRingBuffer(ringBufferCap),
		extractBuf: newRingBuffer(extractionBufferCap),
		stopCh: make(chan struct{}),
	}
}

// Path returns the transcript file this tailer watches.
func (t *Tailer) Path() string { return t.path }

// SessionID returns the session this tailer is attributing messages to.
func (t *Tailer) SessionID() string { return t.sessionID }

// Start catches the file up to EOF from the saved cursor, then begins
// watching it for further writes.
func (t *Tailer) Start(ctx context.Context) error {
	st := t.state.Get(t.sessionID)
	t.cursor = st.ByteOffset

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(t.path); err != nil {
		watcher.Close()
		return err
	}
	t.watcher = watcher
	t.warmTicker = time.NewTicker(warmTickInterval)

	if err := t.drain(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("initial catch-up read failed")
	}
	t.mu.Lock()
	t.caughtUp = true
	t.mu.Unlock()

	t.watchDone.Add(1)
	go t.watchLoop(ctx)
	return nil
}

func (t *Tailer) watchLoop(ctx context.Context) {
	defer t.watchDone.Done()
	for {
		select {
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.scheduleDebouncedDrain(ctx)
			}
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
		case <-t.warmTicker.C:
			t.handleWarmTick(ctx)
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tailer) scheduleDebouncedDrain(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.debounceTimer != nil {
		t.debounceTimer.Reset(debounceWindow)
		return
	}
	t.debounceTimer = time.AfterFunc(debounceWindow, func() {
		if err := t.drain(ctx); err != nil {
			t.logger.Warn().Err(err).Msg("watch-triggered drain failed")
		}
	})
}

func (t *Tailer) handleWarmTick(ctx context.Context) {
	t.mu.Lock()
	bufferNonEmpty := t.extractBuf.Len() > 0
	t.mu.Unlock()

	st := t.state.Get(t.sessionID)
	elapsed := t.now().Sub(time.UnixMilli(st.LastExtractedAt))

	if bufferNonEmpty && elapsed >= warmWindow {
		go t.extract(ctx, false)
	}
}

// drain reads up to maxDrainIterations chunks of at most 4 MiB each,
// stopping early at EOF, per the "start"/per-entry steps.
func (t *Tailer) drain(ctx context.Context) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	t.mu.Lock()
	if info.Size() < t.cursor {
		// Truncation: restart from the top, discard in-flight decode state.
		t.cursor = 0
		t.pendingLine = nil
		t.pendingUTF8 = nil
	}
	cursor := t.cursor
	t.mu.Unlock()

	buf := make([]byte, maxChunkBytes)
	for i := 0; i < maxDrainIterations; i++ {
		n, err := f.ReadAt(buf, cursor)
		if n > 0 {
			t.processChunk(ctx, buf[:n])
			cursor += int64(n)
			t.mu.Lock()
			t.cursor = cursor
			t.mu.Unlock()
		}
		if err != nil || n < len(buf) {
			break // EOF or short read: caught up for this pass
		}
	}

	t.state.Update(t.sessionID, func(s *types.SessionState) { s.ByteOffset = cursor })
	t.state.SaveSoon()
	return nil
}

func (t *Tailer) processChunk(ctx context.Context, data []byte) {
	t.mu.Lock()
	combinedUTF8 := append(t.pendingUTF8, data...)
	complete, remainder := splitCompleteUTF8(combinedUTF8)
	t.pendingUTF8 = append([]byte(nil), remainder...)

	combinedLines := append(t.pendingLine, complete...)
	idx := bytes.LastIndexByte(combinedLines, '\n')
	if idx == -1 {
		t.pendingLine = combinedLines
		t.mu.Unlock()
		return
	}
	toProcess := combinedLines[:idx]
	t.pendingLine = append([]byte(nil), combinedLines[idx+1:]...)
	t.mu.Unlock()

	for _, line := range bytes.Split(toProcess, []byte("\n")) {
		t.handleLine(ctx, line)
	}
}

func (t *Tailer) handleLine(ctx context.Context, line []byte) {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return
	}

	var entry transcriptEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return
	}
	role := entry.Message.Role
	if role != "user" && role != "assistant" {
		return
	}

	text := strings.TrimSpace(extractText(entry.Message.Content))
	if text == "" {
		return
	}

	msg := types.Message{Role: role, Content: text, UUID: entry.UUID}

	t.mu.Lock()
	t.ring.Append(msg)
	t.extractBuf.Append(msg)
	caughtUp := t.caughtUp
	t.mu.Unlock()

	if role == "user" {
		t.state.Update(t.sessionID, func(s *types.SessionState) {
			s.MessagesSinceExtraction++
			s.LastUserMessageUUID = entry.UUID
		})
		t.state.SaveSoon()

		if caughtUp && t.recollector != nil {
			if err := t.recollector.Recompute(ctx, t.sessionID, text, entry.UUID, false); err != nil {
				t.logger.Warn().Err(err).Msg("recollection recompute failed")
			}
		}
		t.maybeTriggerExtraction(ctx)
	}
}

// extractText concatenates "text" blocks of an array-shaped content
// field, or returns the content directly if it's already a plain string.
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}
	return ""
}

func (t *Tailer) maybeTriggerExtraction(ctx context.Context) {
	t.mu.Lock()
	threshold := thresholdInitial
	if t.everExtracted {
		threshold = thresholdAfterFirst
	}
	t.mu.Unlock()

	st := t.state.Get(t.sessionID)
	elapsed := t.now().Sub(time.UnixMilli(st.LastExtractedAt))

	if st.MessagesSinceExtraction >= threshold || elapsed >= warmWindow {
		go t.extract(ctx, false)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur <= 0 {
		return backoffBase
	}
	next := cur * 2
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// extract runs one batched extraction call. forced=true (from an explicit
// flush request or graceful stop) bypasses the backoff gate but still
// advances the backoff counter on failure like a normal attempt.
func (t *Tailer) extract(ctx context.Context, forced bool) {
	t.mu.Lock()
	if t.extracting {
		t.extractionPending = true
		t.mu.Unlock()
		return
	}
	if !forced && !t.lastFailureAt.IsZero() && t.now().Sub(t.lastFailureAt) < t.backoff {
		t.mu.Unlock()
		return
	}
	n := t.extractBuf.Len()
	if n == 0 {
		t.mu.Unlock()
		return
	}
	snapshot := t.extractBuf.Snapshot(n)
	t.extracting = true
	isRoot := !t.everExtracted
	t.mu.Unlock()

	st := t.state.Get(t.sessionID)

	if err := t.sem.Acquire(ctx, 1); err != nil {
		t.mu.Lock()
		t.extracting = false
		t.mu.Unlock()
		return
	}
	updatedSummary, err := t.extractor.Run(ctx, t.sessionID, st.RollingSummary, snapshot, t.project, t.sourceType, isRoot)
	t.sem.Release(1)

	t.mu.Lock()
	if err != nil {
		t.backoff = nextBackoff(t.backoff)
		t.lastFailureAt = t.now()
		t.extracting = false
		pending := t.extractionPending
		t.extractionPending = false
		t.mu.Unlock()

		t.logger.Warn().Err(err).Msg("extraction failed")
		if pending {
			t.extract(ctx, false)
		}
		return
	}

	t.extractBuf.DropPrefix(n)
	t.backoff = 0
	t.lastFailureAt = time.Time{}
	t.lastExtractAt = t.now()
	t.everExtracted = true
	remaining := t.extractBuf.Len()
	pending := t.extractionPending
	t.extractionPending = false
	t.extracting = false
	lastUUID := ""
	if len(snapshot) > 0 {
		lastUUID = snapshot[len(snapshot)-1].UUID
	}
	t.mu.Unlock()

	t.state.Update(t.sessionID, func(s *types.SessionState) {
		s.RollingSummary = updatedSummary
		s.LastExtractedAt = types.NowMillis(t.now())
		s.MessagesSinceExtraction = remaining
	})
	t.state.SaveSoon()

	if t.recollector != nil && lastUUID != "" {
		if err := t.recollector.Recompute(ctx, t.sessionID, updatedSummary, lastUUID, true); err != nil {
			t.logger.Warn().Err(err).Msg("post-extraction recollection failed")
		}
	}

	if pending {
		t.extract(ctx, false)
	}
}

// Flush forces an immediate extraction attempt, bypassing the backoff
// gate — used by the Daemon's UDS "flush" event handler.
func (t *Tailer) Flush(ctx context.Context) {
	t.extract(ctx, true)
}

// Stop drains any remaining decoder state, waits for an in-flight
// extraction, force-flushes a non-empty buffer, and persists the final
// cursor — all bounded so shutdown never hangs.
func (t *Tailer) Stop(ctx context.Context) error {
	close(t.stopCh)
	if t.watcher != nil {
		t.watcher.Close()
	}
	if t.warmTicker != nil {
		t.warmTicker.Stop()
	}
	t.watchDone.Wait()

	t.mu.Lock()
	if len(t.pendingLine) > 0 {
		final := t.pendingLine
		t.pendingLine = nil
		t.mu.Unlock()
		t.handleLine(ctx, final)
	} else {
		t.mu.Unlock()
	}

	waitCtx, cancel := context.WithTimeout(ctx, stopDrainTimeout)
	t.waitForExtraction(waitCtx)
	cancel()

	t.mu.Lock()
	nonEmpty := t.extractBuf.Len() > 0
	t.mu.Unlock()
	if nonEmpty {
		flushCtx, cancel2 := context.WithTimeout(ctx, stopExtractTimeout)
		t.extract(flushCtx, true)
		cancel2()
	}

	t.mu.Lock()
	cursor := t.cursor
	t.mu.Unlock()
	t.state.Update(t.sessionID, func(s *types.SessionState) { s.ByteOffset = cursor })
	t.state.SaveSoon()
	return nil
}

func (t *Tailer) waitForExtraction(ctx context.Context) {
	for {
		t.mu.Lock()
		inFlight := t.extracting
		t.mu.Unlock()
		if !inFlight {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

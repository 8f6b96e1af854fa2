package statestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/engram/pkg/log"
	"github.com/cuemby/engram/pkg/types"
)

const (
	saveSoonDebounce = 5 * time.Second
	periodicInterval = 30 * time.Second
)

// Store holds every session's cursor state in memory, debouncing disk
// writes.
type Store struct {
	mu sync.Mutex
	path string
	sessions map[string]*types.SessionState
	dirty bool

	saveSoonTimer *time.Timer
}

type document struct {
	Sessions map[string]json.RawMessage `json:"sessions"`
}

// Load reads path, falling back to a sibling.tmp file and then to an
// empty document if both are unreadable or malformed.
func Load(path string) (*Store, error) {
	s := &Store{path: path, sessions: make(map[string]*types.SessionState)}

	data, err := os.ReadFile(path)
	var doc document
	if err != nil || json.Unmarshal(data, &doc) != nil {
		tmp, tmpErr := os.ReadFile(path + ".tmp")
		if tmpErr != nil {
			return s, nil // start fresh
		}
		doc = document{}
		if err := json.Unmarshal(tmp, &doc); err != nil {
			return s, nil
		}
	}

	now := types.NowMillis(time.Now())
	for id, raw := range doc.Sessions {
		s.sessions[id] = decodeSession(id, raw, now)
	}
	return s, nil
}

func decodeSession(id string, raw json.RawMessage, now int64) *types.SessionState {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return &types.SessionState{SessionID: id, CreatedAt: now, LastExtractedAt: now}
	}

	st := &types.SessionState{SessionID: id}
	st.ByteOffset = coerceInt64(m["byteOffset"], 0)
	st.LastExtractedAt = coerceInt64(m["lastExtractedAt"], now)
	st.MessagesSinceExtraction = int(coerceInt64(m["messagesSinceExtraction"], 0))
	st.RollingSummary = coerceString(m["rollingSummary"])
	st.LastUserMessageUUID = coerceString(m["lastUserMessageUuid"])
	st.CreatedAt = coerceInt64(m["createdAt"], now)
	st.LastBufferSummary = coerceString(m["lastBufferSummary"])
	return st
}

func coerceInt64(v interface{}, fallback int64) int64 {
	f, ok := v.(float64)
	if !ok {
		return fallback
	}
	return int64(f)
}

func coerceString(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// Get returns a copy of the session's state, or a freshly initialized one
// if it doesn't exist yet.
func (s *Store) Get(sessionID string) *types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		now := types.NowMillis(time.Now())
		st = &types.SessionState{SessionID: sessionID, CreatedAt: now, LastExtractedAt: now}
		s.sessions[sessionID] = st
	}
	cp := *st
	return &cp
}

// Update applies mutate to the session's state under lock and marks the
// store dirty.
func (s *Store) Update(sessionID string, mutate func(*types.SessionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		now := types.NowMillis(time.Now())
		st = &types.SessionState{SessionID: sessionID, CreatedAt: now, LastExtractedAt: now}
		s.sessions[sessionID] = st
	}
	mutate(st)
	s.dirty = true
}

// SaveSoon debounces writes to at most one per 5 seconds.
func (s *Store) SaveSoon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveSoonTimer != nil {
		return
	}
	s.saveSoonTimer = time.AfterFunc(saveSoonDebounce, func() {
		s.mu.Lock()
		s.saveSoonTimer = nil
		s.mu.Unlock()
		if err := s.Save(); err != nil {
			log.WithComponent("statestore").Error().Err(err).Msg("debounced save failed")
		}
	})
}

// StartPeriodicSave flushes every 30 seconds while the in-memory copy is
// dirty, returning a stop function.
func (s *Store) StartPeriodicSave(ctx context.Context) func() {
	ticker := time.NewTicker(periodicInterval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				dirty := s.dirty
				s.mu.Unlock()
				if dirty {
					if err := s.Save(); err != nil {
						log.WithComponent("statestore").Error().Err(err).Msg("periodic save failed")
					}
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// Save writes the full document to a.tmp sibling then renames it over the
// target path, guaranteeing atomic visibility.
func (s *Store) Save() error {
	s.mu.Lock()
	doc := document{Sessions: make(map[string]json.RawMessage, len(s.sessions))}
	for id, st := range s.sessions {
		raw, err := json.Marshal(st)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		doc.Sessions[id] = raw
	}
	s.dirty = false
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// PruneStale removes sessions whose LastExtractedAt is older than
// maxAgeDays and whose id is not in activeSessionIds. Future-dated
// timestamps are clamped to "now" first so a post-failure backoff never
// blocks pruning.
func (s *Store) PruneStale(maxAgeDays int, activeSessionIds map[string]bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := types.NowMillis(time.Now())
	cutoff := now - int64(maxAgeDays)*24*60*60*1000

	var removed []string
	for id, st := range s.sessions {
		if activeSessionIds[id] {
			continue
		}
		last := st.LastExtractedAt
		if last > now {
			last = now
		}
		if last < cutoff {
			delete(s.sessions, id)
			removed = append(removed, id)
			s.dirty = true
		}
	}
	return removed
}

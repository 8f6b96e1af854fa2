package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/engram/pkg/types"
)

func TestIsStale_FreshRecollectionIsNeverStale(t *testing.T) {
	rec := types.Recollection{Timestamp: time.Now().UnixMilli()}
	assert.False(t, isStale(rec, filepath.Join(t.TempDir(), "engram.pid")))
}

func TestIsStale_OldRecollectionWithNoLiveDaemonIsStale(t *testing.T) {
	rec := types.Recollection{Timestamp: time.Now().Add(-10 * time.Minute).UnixMilli()}
	assert.True(t, isStale(rec, filepath.Join(t.TempDir(), "missing-engram.pid")))
}

func TestIsStale_OldRecollectionWithLiveDaemonIsNotStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.pid")
	contents := fmt.Sprintf("%d\n%d\n", os.Getpid(), time.Now().UnixMilli())
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	rec := types.Recollection{Timestamp: time.Now().Add(-10 * time.Minute).UnixMilli()}
	assert.False(t, isStale(rec, path))
}

func TestReadRecollection_MissingFileIsNotOK(t *testing.T) {
	_, ok := readRecollection(filepath.Join(t.TempDir(), "nope.json"))
	assert.False(t, ok)
}

func TestReadRecollection_EmptyBitesIsNotOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"messageUuid":"u1","timestamp":1,"bites":[]}`), 0o644))
	_, ok := readRecollection(path)
	assert.False(t, ok)
}

func TestReadRecollection_ValidFileIsOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.json")
	content := `{"messageUuid":"u1","timestamp":1700000000000,"bites":[{"id":"b1","bite":"remember X","date":1,"importance":"normal"}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rec, ok := readRecollection(path)
	require.True(t, ok)
	assert.Equal(t, "u1", rec.MessageUUID)
	assert.Len(t, rec.Bites, 1)
}

func TestInjectionState_RoundTripsThroughAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.json.state")
	writeInjectionState(path, injectionState{LastInjectedMessageUUID: "u1"})

	got := readInjectionState(path)
	assert.Equal(t, "u1", got.LastInjectedMessageUUID)
}

func TestInjectionState_MissingFileYieldsZeroValue(t *testing.T) {
	got := readInjectionState(filepath.Join(t.TempDir(), "nope.state"))
	assert.Equal(t, injectionState{}, got)
}

func TestReadInput_RejectsMissingSessionID(t *testing.T) {
	old := os.Stdin
	defer func() { os.Stdin = old }()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdin = r
	w.WriteString(`{}`)
	w.Close()

	_, ok := readInput()
	assert.False(t, ok)
}

func TestReadInput_ParsesSessionID(t *testing.T) {
	old := os.Stdin
	defer func() { os.Stdin = old }()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdin = r
	w.WriteString(`{"session_id":"sess-42"}`)
	w.Close()

	in, ok := readInput()
	require.True(t, ok)
	assert.Equal(t, "sess-42", in.SessionID)
}

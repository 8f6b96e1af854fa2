package uds

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushEvent_InvokesHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.sock")

	var mu sync.Mutex
	var gotSessionID string
	done := make(chan struct{})

	srv, err := Listen(path, Handlers{
		Flush: func(sessionID string) {
			mu.Lock()
			gotSessionID = sessionID
			mu.Unlock()
			close(done)
		},
	})
	require.NoError(t, err)
	defer srv.Close()

	client, err := Dial(path)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Flush("sess-1"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "sess-1", gotSessionID)
}

func TestUnknownEvent_IsSilentlyIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.sock")

	called := false
	srv, err := Listen(path, Handlers{
		Flush: func(sessionID string) { called = true },
	})
	require.NoError(t, err)
	defer srv.Close()

	client, err := Dial(path)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.send(envelope{Event: "totally-unknown"}))
	require.NoError(t, client.Ping())

	// Give the server a moment to process, then confirm flush never fired.
	time.Sleep(100 * time.Millisecond)
	assert.False(t, called)
}

func TestClose_RemovesSocketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.sock")

	srv, err := Listen(path, Handlers{})
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	_, err = Dial(path)
	assert.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

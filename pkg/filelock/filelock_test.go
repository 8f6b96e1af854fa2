package filelock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithFileLock_NeverLeavesFileBehind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	err := WithFileLock(context.Background(), path, func() error {
		_, statErr := os.Stat(path)
		require.NoError(t, statErr, "lock file must exist while held")
		return nil
	})
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "lock file must be gone after successful release")
}

func TestWithFileLock_ReleasesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	boom := fmt.Errorf("boom")

	err := WithFileLock(context.Background(), path, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "lock file must be gone even when body errors")
}

func TestAcquire_ReclaimsStaleLockFromDeadProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	// A PID that is reliably not alive: not reusable within a test run.
	deadPID := 999999
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(deadPID)+":dead-token"), 0o600))

	// Shorten the deadline so the test doesn't wait out the real 15s.
	orig := acquireDeadline
	acquireDeadline = 50 * time.Millisecond
	defer func() { acquireDeadline = orig }()

	lock, err := Acquire(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, lock)
	require.NoError(t, lock.Release())
}

func TestAcquire_HeldByLiveProcessFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+":self"), 0o600))

	orig := acquireDeadline
	acquireDeadline = 50 * time.Millisecond
	defer func() { acquireDeadline = orig }()

	_, err := Acquire(context.Background(), path)
	require.Error(t, err)
}

package pidguard

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/engram/pkg/errs"
)

const (
	maxAttempts = 3
	maxAgeDays = 30
)

// Guard holds an acquired PID file. The zero value is not usable;
// construct one via Acquire.
type Guard struct {
	path string
}

// Acquire creates path exclusively and writes "pid\ncreatedAtMs\n". If the
// file already exists, it reads the recorded owner: a live process within
// MAX_AGE_DAYS refuses acquisition outright; otherwise the file is treated
// as stale, removed, and creation is tried again, up to 3 attempts in all.
func Acquire(path string) (*Guard, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := createExclusive(path); err == nil {
			return &Guard{path: path}, nil
		} else if !os.IsExist(err) {
			return nil, errs.New(errs.Transient, "pidguard.Acquire", err)
		}

		stale, err := isStale(path)
		if err != nil {
			lastErr = err
			continue
		}
		if !stale {
			return nil, errs.New(errs.LockContention, "pidguard.Acquire",
				fmt.Errorf("engram is already running (%s)", path))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			lastErr = errs.New(errs.Transient, "pidguard.Acquire", err)
			continue
		}
		lastErr = nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errs.New(errs.LockContention, "pidguard.Acquire",
		fmt.Errorf("could not acquire pid file after %d attempts: %s", maxAttempts, path))
}

func createExclusive(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	now := time.Now().UnixMilli()
	_, err = fmt.Fprintf(f, "%d\n%d\n", os.Getpid(), now)
	return err
}

// isStale reports whether the PID file at path names a dead process, or a
// live one recorded too long ago to trust (possible PID reuse).
func isStale(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Raced with the owner's release; caller's retry will recreate it.
			return true, nil
		}
		return false, errs.New(errs.Transient, "pidguard.isStale", err)
	}

	pid, createdAt, ok := parse(string(data))
	if !ok {
		return true, nil
	}

	if processAlive(pid) {
		ageDays := float64(time.Now().UnixMilli()-createdAt) / float64(24*60*60*1000)
		if ageDays < maxAgeDays {
			return false, nil
		}
		return true, nil
	}
	return true, nil
}

func parse(contents string) (pid int, createdAtMs int64, ok bool) {
	lines := strings.Split(strings.TrimSpace(contents), "\n")
	if len(lines) < 2 {
		return 0, 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, 0, false
	}
	createdAtMs, err = strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return pid, createdAtMs, true
}

// processAlive reports whether pid names a live process. EPERM is treated
// as alive: if we can't signal it we can't safely reclaim it.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// IsLive reports whether path names a pid file owned by a running
// process, for read-only callers (cmd/engramd's status/stop, the
// pre-tool-use hook's staleness check) that must not attempt to acquire
// or reclaim it themselves.
func IsLive(path string) (pid int, alive bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, err
	}
	pid, _, ok := parse(string(data))
	if !ok {
		return 0, false, fmt.Errorf("malformed pid file: %s", path)
	}
	return pid, processAlive(pid), nil
}

// Release removes the PID file. Safe to call even if the file was already
// removed by someone else.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return errs.New(errs.Transient, "pidguard.Release", err)
	}
	return nil
}

package filelock

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/engram/pkg/errs"
)

const retryInterval = 50 * time.Millisecond

// acquireDeadline is how long Acquire waits for contention to clear before
// inspecting the existing lock file for staleness. It's a var, not a
// const, so tests can shrink it instead of waiting out the real 15s.
var acquireDeadline = 15 * time.Second

// Lock represents a held advisory lock. The zero value is not usable;
// construct one via Acquire.
type Lock struct {
	path string
	token string
	file *os.File
}

// Acquire creates path exclusively, writing a unique "pid:uuid" token that
// proves ownership across the lifetime of the returned Lock. If the file
// already exists, Acquire retries every 50ms; after a 15s deadline with no
// progress it inspects the existing file and either reports contention
// (the recorded owner is a live process) or reclaims a stale lock left
// behind by a dead one.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	token := fmt.Sprintf("%d:%s", os.Getpid(), uuid.NewString())
	deadline := time.Now().Add(acquireDeadline)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			if _, werr := f.WriteString(token); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, errs.New(errs.Transient, "filelock.Acquire", werr)
			}
			return &Lock{path: path, token: token, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, errs.New(errs.Transient, "filelock.Acquire", err)
		}

		if time.Now().After(deadline) {
			reclaimed, rerr := reclaimStale(path)
			if rerr != nil {
				return nil, rerr
			}
			if !reclaimed {
				return nil, errs.New(errs.LockContention, "filelock.Acquire",
					fmt.Errorf("held by live process: %s", path))
			}
			deadline = time.Now().Add(acquireDeadline)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, errs.New(errs.Transient, "filelock.Acquire", ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

// reclaimStale reads the existing lock file. If its recorded owner is
// dead, the file is removed and reclaimed is true. If the owner is live
// (or liveness can't be determined, e.g. EPERM), reclaimed is false.
func reclaimStale(path string) (reclaimed bool, err error) {
	data, rerr := os.ReadFile(path)
	if rerr != nil {
		if os.IsNotExist(rerr) {
			// Raced with the owner's release; caller will retry Acquire.
			return true, nil
		}
		return false, errs.New(errs.Transient, "filelock.reclaimStale", rerr)
	}

	pid, ok := parsePID(string(data))
	if ok && processAlive(pid) {
		return false, nil
	}

	if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
		return false, errs.New(errs.Transient, "filelock.reclaimStale", rerr)
	}
	return true, nil
}

func parsePID(token string) (int, bool) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) == 0 {
		return 0, false
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether pid names a live process, probed via
// signal 0 (no-op delivery, standard liveness-check idiom on Unix).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but we can't signal it: treat as
	// live per the "cannot reclaim" rule.
	return err == syscall.EPERM
}

// Release closes the lock's file handle and unlinks path only if its
// contents still match this acquisition's token — a lagging owner must
// never delete a lock another process has since reclaimed.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	closeErr := l.file.Close()

	data, rerr := os.ReadFile(l.path)
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return closeErr
		}
		return errs.New(errs.Transient, "filelock.Release", rerr)
	}
	if string(data) != l.token {
		// Someone else reclaimed this lock after our deadline passed;
		// leave their file alone.
		return closeErr
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errs.New(errs.Transient, "filelock.Release", err)
	}
	return closeErr
}

// WithFileLock acquires path, runs fn, and releases the lock regardless of
// whether fn returns an error or panics.
func WithFileLock(ctx context.Context, path string, fn func() error) error {
	lock, err := Acquire(ctx, path)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

package consolidator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cuemby/engram/pkg/filelock"
	"github.com/cuemby/engram/pkg/log"
	"github.com/cuemby/engram/pkg/types"
)

// Store is the subset of pkg/store the Consolidator depends on.
type Store interface {
	ListGraduationCandidates(ctx context.Context, ageCutoffMs int64, limit int) ([]*types.Episode, error)
	UpdateEpisode(ctx context.Context, e *types.Episode) error
	CompressStaleEpisodes(ctx context.Context, cutoffMs int64) (int64, error)
	GetProjectByID(ctx context.Context, projectID string) (*types.Project, error)
}

const (
	interval = 4 * time.Hour
	graduationAgeDays = 14
	compressionAgeDays = 30
	maxGraduationsPerRun = 10
	memoryFileName = "MEMORY.md"
	projectMemorySubdir = ".claude/memory"
)

// Consolidator runs the periodic graduation/compression pass under an
// advisory lock.
type Consolidator struct {
	store Store
	lockPath string
	globalMemoryPath string
	now func() int64
	running atomic.Bool
	stopCh chan struct{}
}

func New(store Store, lockPath, globalMemoryDir string) *Consolidator {
	return &Consolidator{
		store: store,
		lockPath: lockPath,
		globalMemoryPath: filepath.Join(globalMemoryDir, memoryFileName),
		now: func() int64 { return types.NowMillis(time.Now()) },
		stopCh: make(chan struct{}),
	}
}

// Start launches the 4-hour ticker loop, single-runner guarded so an
// overrunning pass never overlaps the next tick.
func (c *Consolidator) Start(ctx context.Context) {
	go c.loop(ctx)
}

func (c *Consolidator) Stop() {
	close(c.stopCh)
}

func (c *Consolidator) loop(ctx context.Context) {
	logger := log.WithComponent("consolidator")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !c.running.CompareAndSwap(false, true) {
				logger.Warn().Msg("previous consolidation pass still running, skipping tick")
				continue
			}
			if err := c.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("consolidation pass failed")
			}
			c.running.Store(false)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Run performs one graduation + compression pass under the advisory lock.
// Exported so the Daemon can trigger an out-of-band pass (e.g. on shutdown).
func (c *Consolidator) Run(ctx context.Context) error {
	return filelock.WithFileLock(ctx, c.lockPath, func() error {
		if err := c.graduate(ctx); err != nil {
			return fmt.Errorf("graduation pass: %w", err)
		}
		if err := c.compress(ctx); err != nil {
			return fmt.Errorf("compression pass: %w", err)
		}
		return nil
	})
}

func (c *Consolidator) graduate(ctx context.Context) error {
	logger := log.WithComponent("consolidator")
	now := c.now()
	ageCutoff := now - int64(graduationAgeDays)*24*60*60*1000

	candidates, err := c.store.ListGraduationCandidates(ctx, ageCutoff, maxGraduationsPerRun)
	if err != nil {
		return err
	}

	for _, e := range candidates {
		elog := log.WithEpisode(logger, e.ID)

		path, err := c.memoryPathFor(ctx, e)
		if err != nil {
			elog.Error().Err(err).Msg("failed to resolve memory path")
			continue
		}
		if err := appendMemoryEntry(path, e); err != nil {
			elog.Error().Err(err).Msg("failed to append graduation entry")
			continue
		}
		e.GraduatedAt = &now
		if err := c.store.UpdateEpisode(ctx, e); err != nil {
			elog.Error().Err(err).Msg("failed to mark episode graduated")
			continue
		}
	}
	return nil
}

func (c *Consolidator) compress(ctx context.Context) error {
	cutoff := c.now() - int64(compressionAgeDays)*24*60*60*1000
	n, err := c.store.CompressStaleEpisodes(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithComponent("consolidator").Info().Int64("count", n).Msg("compressed stale episodes")
	}
	return nil
}

// memoryPathFor resolves the per-project MEMORY.md for scope='project'
// episodes, or the global MEMORY.md otherwise.
func (c *Consolidator) memoryPathFor(ctx context.Context, e *types.Episode) (string, error) {
	if e.Scope == types.ScopeGlobal || e.Project == nil {
		return c.globalMemoryPath, nil
	}
	project, err := c.store.GetProjectByID(ctx, *e.Project)
	if err != nil {
		return "", err
	}
	if project == nil {
		return c.globalMemoryPath, nil
	}
	return filepath.Join(project.RootPath, projectMemorySubdir, memoryFileName), nil
}

// appendMemoryEntry appends one Markdown bullet describing the episode,
// creating the file and its parent directory if needed.
func appendMemoryEntry(path string, e *types.Episode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	date := time.UnixMilli(e.CreatedAt).UTC().Format("2006-01-02")
	_, err = fmt.Fprintf(f, "- [%s] %s\n", date, e.Summary)
	return err
}

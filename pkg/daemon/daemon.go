package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cuemby/engram/pkg/config"
	"github.com/cuemby/engram/pkg/consolidator"
	"github.com/cuemby/engram/pkg/embedding"
	"github.com/cuemby/engram/pkg/extractor"
	"github.com/cuemby/engram/pkg/health"
	"github.com/cuemby/engram/pkg/llm"
	"github.com/cuemby/engram/pkg/log"
	"github.com/cuemby/engram/pkg/metrics"
	"github.com/cuemby/engram/pkg/pidguard"
	"github.com/cuemby/engram/pkg/queryserver"
	"github.com/cuemby/engram/pkg/recollector"
	"github.com/cuemby/engram/pkg/retriever"
	"github.com/cuemby/engram/pkg/statestore"
	"github.com/cuemby/engram/pkg/store"
	"github.com/cuemby/engram/pkg/tailer"
	"github.com/cuemby/engram/pkg/uds"
)

const (
	transcriptExt = ".jsonl"
	spawnBatchSize = 3
	spawnBatchDelay = 3 * time.Second
	maintenanceInterval = 60 * time.Second
	maxFileAgeDays = 30
	globalSemaphoreCap = 3
	tailerStopTimeout = 10 * time.Second
	memoryWarnBytes = 300 << 20
	memoryShutdownBytes = 400 << 20
	remoteCallsPerSecond = 3
	remoteCallBurst = 5
)

// RestartRequested is returned by Stop when the soft memory guard tripped
// the shutdown-with-restart-code path.
var RestartRequested = fmt.Errorf("daemon: memory guard requested restart")

// Daemon orchestrates every Engram component for the lifetime of one
// long-running process.
type Daemon struct {
	cfg *config.Config

	pid *pidguard.Guard
	store *store.Store
	states *statestore.Store
	embedder *embedding.Chain
	extractor *extractor.Extractor
	recollector *recollector.Recollector
	consolidator *consolidator.Consolidator
	query *queryserver.Server
	udsServer *uds.Server
	sem *semaphore.Weighted

	metricsCollector *metrics.Collector
	metricsServer *http.Server
	llmChecker health.Checker
	embeddingChecker health.Checker

	rootWatcher *fsnotify.Watcher

	mu sync.Mutex
	tailers map[string]*tailer.Tailer

	maintenanceRunning atomic.Bool
	stopPeriodicSave func()
	stopCh chan struct{}
	wg sync.WaitGroup
	restart atomic.Bool
}

// New wires every component from cfg without starting any background
// work; call Start to begin serving.
func New(cfg *config.Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create home dir: %w", err)
	}

	pid, err := pidguard.Acquire(cfg.PidPath())
	if err != nil {
		return nil, fmt.Errorf("daemon: acquire pid guard: %w", err)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		pid.Release()
		return nil, fmt.Errorf("daemon: open store: %w", err)
	}

	states, err := statestore.Load(cfg.StatePath())
	if err != nil {
		st.Close()
		pid.Release()
		return nil, fmt.Errorf("daemon: load state store: %w", err)
	}

	var clients []embedding.ModelClient
	if cfg.EmbeddingLocalURL != "" {
		// A locally-run model has no metered rate limit worth respecting.
		clients = append(clients, embedding.NewHTTPClient("local-embedding", cfg.EmbeddingLocalURL, "", "local-embed"))
	}
	if cfg.HasLLM() {
		clients = append(clients, embedding.NewHTTPClient("remote-embedding", cfg.LLMBaseURL, cfg.OpenAIAPIKey, "text-embedding-3-small").
			WithRateLimit(remoteCallsPerSecond, remoteCallBurst))
	}
	embedder := embedding.NewChain(st, clients...)

	var llmClient llm.Client
	if cfg.HasLLM() {
		llmClient = llm.NewHTTPClient(cfg.LLMBaseURL, cfg.OpenAIAPIKey, "gpt-4o-mini").
			WithRateLimit(remoteCallsPerSecond, remoteCallBurst)
	} else {
		llmClient = noopLLMClient{}
	}

	ex := extractor.New(llmClient, st, embedder)
	rc := recollector.New(st, embedder, cfg.RecollectionsDir(), cfg.TopicThreshold)
	cons := consolidator.New(st, filepath.Join(cfg.HomeDir, "consolidator.lock"), cfg.GlobalMemoryDir())
	allowedRoots := append(append([]string{}, cfg.ProjectRoots...), cfg.GlobalMemoryDir())
	qs := queryserver.New(retriever.New(st), st, allowedRoots)

	d := &Daemon{
		cfg: cfg,
		pid: pid,
		store: st,
		states: states,
		embedder: embedder,
		extractor: ex,
		recollector: rc,
		consolidator: cons,
		query: qs,
		sem: semaphore.NewWeighted(globalSemaphoreCap),
		tailers: make(map[string]*tailer.Tailer),
		stopCh: make(chan struct{}),
	}

	udsServer, err := uds.Listen(cfg.SocketPath(), uds.Handlers{
		Flush: d.handleFlush,
		Recollect: d.handleRecollect,
	})
	if err != nil {
		st.Close()
		pid.Release()
		return nil, fmt.Errorf("daemon: listen on uds: %w", err)
	}
	d.udsServer = udsServer
	d.metricsCollector = metrics.NewCollector(st, d.tailerCount)

	metrics.RegisterComponent("store", true, "")
	if cfg.HasLLM() {
		d.llmChecker = health.NewHTTPChecker(cfg.LLMBaseURL + "/models").
			WithHeader("Authorization", "Bearer "+cfg.OpenAIAPIKey).
			WithTimeout(5 * time.Second)
	}
	if cfg.EmbeddingLocalURL != "" {
		d.embeddingChecker = health.NewHTTPChecker(cfg.EmbeddingLocalURL).WithTimeout(5 * time.Second)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		d.metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	return d, nil
}

func (d *Daemon) tailerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tailers)
}

// noopLLMClient is wired when no OPENAI_API_KEY is configured: every
// batch produces zero memories rather than blocking extraction on an
// external call that was never going to succeed.
type noopLLMClient struct{}

func (noopLLMClient) Extract(ctx context.Context, req llm.ExtractionRequest) (*llm.RawExtraction, error) {
	return &llm.RawExtraction{UpdatedSummary: req.PreviousSummary}, nil
}

// Query exposes the search/get/expand operations for an in-process tool
// layer (the MCP framing itself lives outside this daemon).
func (d *Daemon) Query() *queryserver.Server { return d.query }

func (d *Daemon) handleFlush(sessionID string) {
	d.mu.Lock()
	t, ok := d.tailers[sessionID]
	d.mu.Unlock()
	if !ok {
		return
	}
	t.Flush(context.Background())
}

func (d *Daemon) handleRecollect(sessionID, message, messageUUID string) {
	if err := d.recollector.Recompute(context.Background(), sessionID, message, messageUUID, true); err != nil {
		log.WithComponent("daemon").Warn().Err(err).Str("session_id", sessionID).Msg("explicit recollect request failed")
	}
}

// Start discovers existing transcripts, spawns their tailers in staggered
// batches, begins watching the transcripts root for new ones, and starts
// the periodic maintenance and consolidation passes.
func (d *Daemon) Start(ctx context.Context) error {
	d.stopPeriodicSave = d.states.StartPeriodicSave(ctx)
	d.consolidator.Start(ctx)
	d.metricsCollector.Start()

	if d.metricsServer != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithComponent("daemon").Warn().Err(err).Msg("metrics server stopped unexpectedly")
			}
		}()
	}

	for _, p := range discoverProjects(d.cfg.ProjectRoots) {
		if err := d.store.UpsertProject(ctx, p); err != nil {
			log.WithProject(log.WithComponent("daemon"), p.ID).Warn().Err(err).Str("root_path", p.RootPath).Msg("failed to register discovered project")
		}
	}

	sessions, err := discoverSessions(d.cfg.TranscriptsRoot())
	if err != nil {
		log.WithComponent("daemon").Warn().Err(err).Msg("session discovery failed")
	}
	sortSessionsByMtimeDesc(sessions)

	d.wg.Add(1)
	go d.spawnStaggered(ctx, sessions)

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		root := d.cfg.TranscriptsRoot()
		if err := watcher.Add(root); err == nil {
			d.rootWatcher = watcher
			for _, dir := range projectDirs(root) {
				watcher.Add(dir)
			}
			d.wg.Add(1)
			go d.watchRoot(ctx)
		} else {
			watcher.Close()
		}
	}

	d.wg.Add(1)
	go d.maintenanceLoop(ctx)

	return nil
}

func (d *Daemon) spawnStaggered(ctx context.Context, sessions []sessionFile) {
	defer d.wg.Done()
	for i, sf := range sessions {
		if i > 0 && i%spawnBatchSize == 0 {
			select {
			case <-time.After(spawnBatchDelay):
			case <-d.stopCh:
				return
			}
		}
		d.startTailer(ctx, sf)
	}
}

func (d *Daemon) startTailer(ctx context.Context, sf sessionFile) {
	d.mu.Lock()
	if _, exists := d.tailers[sf.sessionID]; exists {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	project := resolveProject(sf.projectDirName)
	t := tailer.New(sf.path, sf.sessionID, project, "claude_code", d.states, d.extractor, d.recollector, d.sem)
	if err := t.Start(ctx); err != nil {
		log.WithComponent("daemon").Warn().Err(err).Str("session_id", sf.sessionID).Msg("failed to start tailer")
		return
	}

	d.mu.Lock()
	d.tailers[sf.sessionID] = t
	d.mu.Unlock()
}

// resolveProject maps a transcript's escaped project directory name to a
// project scope. The transcript producer's escaping scheme isn't
// reversed back into a filesystem path; the escaped directory name
// itself is used as the project identity.
func resolveProject(projectDirName string) *string {
	if projectDirName == "" {
		return nil
	}
	name := projectDirName
	return &name
}

func (d *Daemon) watchRoot(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case event, ok := <-d.rootWatcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if strings.HasSuffix(event.Name, transcriptExt) {
				sf, err := newSessionFile(event.Name)
				if err == nil {
					d.startTailer(ctx, sf)
				}
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				d.rootWatcher.Add(event.Name)
			}
		case _, ok := <-d.rootWatcher.Errors:
			if !ok {
				return
			}
		case <-d.stopCh:
			return
		}
	}
}

func (d *Daemon) maintenanceLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if d.maintenanceRunning.CompareAndSwap(false, true) {
				d.runMaintenance(ctx)
				d.maintenanceRunning.Store(false)
			}
		case <-d.stopCh:
			return
		}
	}
}

func (d *Daemon) runMaintenance(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MaintenanceDuration)

	d.evictStaleTailers(ctx)

	d.mu.Lock()
	active := make(map[string]bool, len(d.tailers))
	for id := range d.tailers {
		active[id] = true
	}
	d.mu.Unlock()
	removed := d.states.PruneStale(maxFileAgeDays, active)
	if len(removed) > 0 {
		log.WithComponent("daemon").Info().Int("count", len(removed)).Msg("pruned stale session state")
	}

	d.checkDependencyHealth(ctx)
	d.checkMemory()
}

// checkDependencyHealth probes the LLM and embedding endpoints, if
// configured, and reflects the result into the metrics health registry so
// /health degrades instead of just going quiet when a key expires or an
// endpoint moves.
func (d *Daemon) checkDependencyHealth(ctx context.Context) {
	if d.llmChecker != nil {
		result := d.llmChecker.Check(ctx)
		metrics.RegisterComponent("llm", result.Healthy, result.Message)
	}
	if d.embeddingChecker != nil {
		result := d.embeddingChecker.Check(ctx)
		metrics.RegisterComponent("embedding", result.Healthy, result.Message)
	}
}

func (d *Daemon) evictStaleTailers(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -maxFileAgeDays)

	d.mu.Lock()
	ids := make([]string, 0, len(d.tailers))
	for id := range d.tailers {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		d.mu.Lock()
		t, ok := d.tailers[id]
		d.mu.Unlock()
		if !ok {
			continue
		}
		info, err := os.Stat(t.Path())
		if err != nil {
			metrics.TailerEvictionsTotal.WithLabelValues("file_missing").Inc()
		} else if info.ModTime().Before(cutoff) {
			metrics.TailerEvictionsTotal.WithLabelValues("stale").Inc()
		} else {
			continue
		}

		stopCtx, cancel := context.WithTimeout(ctx, tailerStopTimeout)
		t.Stop(stopCtx)
		cancel()
		d.mu.Lock()
		delete(d.tailers, id)
		d.mu.Unlock()
	}
}

func (d *Daemon) checkMemory() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	switch {
	case m.Sys >= memoryShutdownBytes:
		log.WithComponent("daemon").Warn().Uint64("sys_bytes", m.Sys).Msg("memory guard tripped shutdown threshold")
		d.restart.Store(true)
		close(d.stopCh)
	case m.Sys >= memoryWarnBytes:
		log.WithComponent("daemon").Warn().Uint64("sys_bytes", m.Sys).Msg("memory guard warning threshold")
	}
}

// Done is closed when the daemon decides to shut down on its own — the
// soft memory guard tripping — as opposed to an external signal. The
// caller (cmd/engramd) should select on Done alongside os/signal and
// call Stop either way.
func (d *Daemon) Done() <-chan struct{} { return d.stopCh }

// Stop stops every tailer in parallel (each bounded), closes the UDS
// listener, flushes state, closes the store, and releases the PID file —
// the SIGTERM/SIGINT sequence.
func (d *Daemon) Stop(ctx context.Context) error {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}

	d.mu.Lock()
	tailers := make([]*tailer.Tailer, 0, len(d.tailers))
	for _, t := range d.tailers {
		tailers = append(tailers, t)
	}
	d.mu.Unlock()

	var eg errgroup.Group
	for _, t := range tailers {
		t := t
		eg.Go(func() error {
			stopCtx, cancel := context.WithTimeout(ctx, tailerStopTimeout)
			defer cancel()
			return t.Stop(stopCtx)
		})
	}
	eg.Wait()

	if d.rootWatcher != nil {
		d.rootWatcher.Close()
	}
	d.consolidator.Stop()
	if d.stopPeriodicSave != nil {
		d.stopPeriodicSave()
	}
	d.metricsCollector.Stop()
	if d.metricsServer != nil {
		d.metricsServer.Close()
	}
	d.udsServer.Close()
	d.states.Save()
	d.store.Close()
	d.pid.Release()

	d.wg.Wait()

	if d.restart.Load() {
		return RestartRequested
	}
	return nil
}

type sessionFile struct {
	path string
	sessionID string
	projectDirName string
	modTime time.Time
}

func newSessionFile(path string) (sessionFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return sessionFile{}, err
	}
	sessionID := strings.TrimSuffix(filepath.Base(path), transcriptExt)
	projectDir := filepath.Base(filepath.Dir(path))
	return sessionFile{path: path, sessionID: sessionID, projectDirName: projectDir, modTime: info.ModTime()}, nil
}

// projectDirs lists root's immediate subdirectories, the level fsnotify
// must watch individually since it does not recurse.
func projectDirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs
}

// discoverSessions walks root one level of project directories deep,
// collecting every *.jsonl transcript file found inside them. A broken
// project directory is logged and skipped rather than failing discovery
// for every other session.
func discoverSessions(root string) ([]sessionFile, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []sessionFile
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projectDir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(projectDir)
		if err != nil {
			log.WithComponent("daemon").Warn().Err(err).Str("dir", projectDir).Msg("skipping unreadable project directory")
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), transcriptExt) {
				continue
			}
			sf, err := newSessionFile(filepath.Join(projectDir, f.Name()))
			if err != nil {
				continue
			}
			sessions = append(sessions, sf)
		}
	}
	return sessions, nil
}

func sortSessionsByMtimeDesc(sessions []sessionFile) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].modTime.After(sessions[j].modTime)
	})
}

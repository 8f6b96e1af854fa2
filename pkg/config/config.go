package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is Engram's resolved runtime configuration.
type Config struct {
	// HomeDir is ~/.claude-memory (or $ENGRAM_HOME if set).
	HomeDir string

	// ProjectRoots is the ":"-separated CLAUDE_MEMORY_PROJECT_ROOTS list,
	// each root walked to depth 4 for.claude/memory directories.
	ProjectRoots []string

	// TopicThreshold overrides the Recollector's 0.85 topic-gate cosine
	// cutoff; defaults to 0.85 when ENGRAM_TOPIC_THRESHOLD is unset or
	// fails to parse as a float in [0, 1].
	TopicThreshold float64

	// OpenAIAPIKey enables the LLM and a remote embedding provider. Its
	// absence forces BM25-only retrieval unless EmbeddingLocalURL is set.
	OpenAIAPIKey string

	// EmbeddingLocalURL, when set, points the embedding chain's first
	// client at a locally-run embedding server instead of (or ahead of)
	// the remote one. Optional; no default, since no such server is
	// assumed to exist.
	EmbeddingLocalURL string

	// LLMBaseURL overrides the chat-completions endpoint used once
	// OpenAIAPIKey is set; defaults to the OpenAI API.
	LLMBaseURL string

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint. Empty disables it entirely.
	MetricsAddr string
}

const (
	defaultTopicThreshold = 0.85
	defaultLLMBaseURL = "https://api.openai.com/v1"
	envHome = "ENGRAM_HOME"
	envProjectRoots = "CLAUDE_MEMORY_PROJECT_ROOTS"
	envTopicThreshold = "ENGRAM_TOPIC_THRESHOLD"
	envOpenAIKey = "OPENAI_API_KEY"
	envEmbeddingLocalURL = "ENGRAM_EMBEDDING_URL"
	envLLMBaseURL = "ENGRAM_LLM_BASE_URL"
	envMetricsAddr = "ENGRAM_METRICS_ADDR"

	defaultMetricsAddr = "127.0.0.1:9477"
)

// Load resolves Config from the process environment.
func Load() (*Config, error) {
	home := os.Getenv(envHome)
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		home = filepath.Join(dir, ".claude-memory")
	}

	llmBaseURL := os.Getenv(envLLMBaseURL)
	if llmBaseURL == "" {
		llmBaseURL = defaultLLMBaseURL
	}

	metricsAddr, explicit := os.LookupEnv(envMetricsAddr)
	if !explicit {
		metricsAddr = defaultMetricsAddr
	}

	cfg := &Config{
		HomeDir: home,
		ProjectRoots: splitRoots(os.Getenv(envProjectRoots)),
		TopicThreshold: parseThreshold(os.Getenv(envTopicThreshold)),
		OpenAIAPIKey: os.Getenv(envOpenAIKey),
		EmbeddingLocalURL: os.Getenv(envEmbeddingLocalURL),
		LLMBaseURL: llmBaseURL,
		MetricsAddr: metricsAddr,
	}
	return cfg, nil
}

// HasLLM reports whether the LLM/remote-embedding path is enabled.
func (c *Config) HasLLM() bool { return c.OpenAIAPIKey != "" }

// DBPath returns the primary SQLite store path.
func (c *Config) DBPath() string { return filepath.Join(c.HomeDir, "memory.db") }

// PidPath returns the daemon PID file path.
func (c *Config) PidPath() string { return filepath.Join(c.HomeDir, "engram.pid") }

// SocketPath returns the UDS listener path.
func (c *Config) SocketPath() string { return filepath.Join(c.HomeDir, "engram.sock") }

// StatePath returns the StateStore document path.
func (c *Config) StatePath() string { return filepath.Join(c.HomeDir, "engram-state.json") }

// RecollectionsDir returns the per-session recollection directory.
func (c *Config) RecollectionsDir() string { return filepath.Join(c.HomeDir, "recollections") }

// GlobalMemoryDir returns the global human-readable log directory.
func (c *Config) GlobalMemoryDir() string { return c.HomeDir }

// TranscriptsRoot returns the root the Daemon walks to discover session
// transcript files, following the host's own "~/.claude/projects/<escaped
// path>/<sessionId>.jsonl" convention (out of scope to redefine — the
// transcript producer is an external collaborator, only its on-disk
// location is needed here).
func (c *Config) TranscriptsRoot() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".claude", "projects")
}

func splitRoots(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseThreshold(v string) float64 {
	if v == "" {
		return defaultTopicThreshold
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		return defaultTopicThreshold
	}
	return f
}

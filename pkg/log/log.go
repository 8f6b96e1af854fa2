package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child of the global logger scoped to one
// subsystem (tailer, extractor, consolidator, ...). Callers that also
// need a session/project/episode field should chain it onto the result
// with WithSession/WithProject/WithEpisode rather than starting over
// from Logger, so a single log line carries every scope it was built
// under instead of just the last one applied.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithSession scopes an existing logger to one session. Tailers and
// extractors hold the result for the lifetime of the session instead
// of re-attaching session_id at every call site.
func WithSession(base zerolog.Logger, sessionID string) zerolog.Logger {
	return base.With().Str("session_id", sessionID).Logger()
}

// WithProject scopes an existing logger to one project.
func WithProject(base zerolog.Logger, project string) zerolog.Logger {
	return base.With().Str("project", project).Logger()
}

// WithEpisode scopes an existing logger to one episode.
func WithEpisode(base zerolog.Logger, episodeID string) zerolog.Logger {
	return base.With().Str("episode_id", episodeID).Logger()
}

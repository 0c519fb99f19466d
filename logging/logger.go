// Package logging configures the process-wide zerolog logger and keeps the
// recent log tail that the control surface shows.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level    string    // optional log level ("debug", "info", etc.)
	Output   io.Writer // optional console writer (defaults to os.Stdout)
	FilePath string    // optional persistent log file, trimmed to MaxLines
	MaxLines int       // lines kept in memory and on disk (default 1000)
	Service  string    // service name attached to every entry
}

const defaultMaxLines = 1000

var (
	mu   sync.Mutex
	base zerolog.Logger
	tail *Ring
	file *TrimmedFile
)

// Configure (re)initialises the global logger. It is safe to call more than
// once; the last call wins.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	maxLines := cfg.MaxLines
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}

	console := cfg.Output
	if console == nil {
		console = os.Stdout
	}

	tail = NewRing(maxLines)
	writers := []io.Writer{console, tail}

	if file != nil {
		_ = file.Close()
		file = nil
	}
	if cfg.FilePath != "" {
		f, err := OpenTrimmed(cfg.FilePath, maxLines)
		if err == nil {
			file = f
			writers = append(writers, f)
		} else {
			defer func() {
				base.Warn().Err(err).Str("path", cfg.FilePath).Msg("log file unavailable, logging to console only")
			}()
		}
	}

	service := cfg.Service
	if service == "" {
		service = "pict-recorder"
	}

	base = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

// Tail returns the most recent log lines, oldest first.
func Tail() []string {
	mu.Lock()
	r := tail
	mu.Unlock()
	if r == nil {
		return nil
	}
	return r.Lines()
}

// Close flushes and closes the persistent log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

func init() {
	Configure(Config{})
}

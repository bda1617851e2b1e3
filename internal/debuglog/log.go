package debuglog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff // Disables all logging
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

// ParseLogLevel parses a string into a LogLevel. Unknown values default to INFO.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "OFF", "NONE", "DISABLED":
		return LevelOff
	default:
		return LevelInfo
	}
}

// Config captures options for configuring the global logger.
type Config struct {
	Level   LogLevel
	File    string    // log file path; empty means ~/.fitlist/fitlist.log unless Output is set
	Output  io.Writer // explicit writer, takes precedence over File
	Console bool      // human readable output instead of JSON lines
	Service string
}

var (
	mu      sync.RWMutex
	base    = zerolog.Nop()
	level   = LevelOff
	logFile *os.File
)

// DefaultLogPath returns ~/.fitlist/fitlist.log, creating the directory.
func DefaultLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".fitlist")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return filepath.Join(dir, "fitlist.log"), nil
}

// Configure replaces the global logger. The FITLIST_LOG_LEVEL environment
// variable overrides cfg.Level when set.
func Configure(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	closeFileLocked()

	lvl := cfg.Level
	if env := os.Getenv("FITLIST_LOG_LEVEL"); env != "" {
		lvl = ParseLogLevel(env)
	}
	level = lvl
	if lvl == LevelOff {
		base = zerolog.Nop()
		return nil
	}

	writer := cfg.Output
	if writer == nil {
		path := cfg.File
		if path == "" {
			p, err := DefaultLogPath()
			if err != nil {
				return err
			}
			path = p
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		logFile = f
		writer = f
	}
	if cfg.Console {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339, NoColor: logFile != nil}
	}

	service := cfg.Service
	if service == "" {
		service = "fitlist"
	}

	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(writer).Level(lvl.zerolog()).With().
		Timestamp().
		Str("service", service).
		Logger()
	return nil
}

// Setup configures file logging at the given level. If filePath is empty,
// defaults to ~/.fitlist/fitlist.log.
func Setup(lvl LogLevel, filePath ...string) error {
	cfg := Config{Level: lvl}
	if len(filePath) > 0 {
		cfg.File = filePath[0]
	}
	return Configure(cfg)
}

// SetLevel changes the current logging level without touching the output.
func SetLevel(lvl LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	level = lvl
	base = base.Level(lvl.zerolog())
}

// GetLevel returns the current logging level
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// Close closes the log file if open and disables logging.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	err := closeFileLocked()
	base = zerolog.Nop()
	level = LevelOff
	return err
}

func closeFileLocked() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

// Derive attaches arbitrary fields to a child logger using the provided builder function.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := Base().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}

func Debugf(format string, args ...any) {
	l := Base()
	l.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	l := Base()
	l.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	l := Base()
	l.Warn().Msgf(format, args...)
}

func Errorf(format string, args ...any) {
	l := Base()
	l.Error().Msgf(format, args...)
}

// WithFields returns a logger carrying the given key/value pairs.
func WithFields(fields map[string]any) zerolog.Logger {
	return Base().With().Fields(fields).Logger()
}

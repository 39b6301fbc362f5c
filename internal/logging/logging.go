package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls where and how docindex writes its structured logs.
type Config struct {
	// Level is the minimum level that reaches the handler (debug, info, warn, error).
	Level string
	// FilePath is the rotating log file's path. Empty disables file logging.
	FilePath string
	// MaxSizeMB caps a single log file's size before it rotates.
	MaxSizeMB int
	// MaxFiles caps how many rotated files are retained.
	MaxFiles int
	// WriteToStderr additionally mirrors every record to stderr.
	WriteToStderr bool
}

// DefaultConfig writes info-level logs to the default server log path,
// mirrored to stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig with the level lowered to debug, used when
// the CLI's --debug flag is set.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup builds a JSON slog.Logger backed by a RotatingWriter (and stderr,
// if cfg.WriteToStderr) and returns it alongside a cleanup func that
// flushes and closes the underlying file. The caller owns calling
// cleanup before the process exits. With an empty cfg.FilePath no file
// is opened and records go to stderr only (or nowhere, if
// cfg.WriteToStderr is false).
func Setup(cfg Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: strings.EqualFold(cfg.Level, "debug"),
	}

	if cfg.FilePath == "" {
		var out io.Writer = io.Discard
		if cfg.WriteToStderr {
			out = os.Stderr
		}
		return slog.New(slog.NewJSONHandler(out, opts)), func() {}, nil
	}

	if err := EnsureLogDir(); err != nil {
		return nil, nil, err
	}

	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	handler := slog.NewJSONHandler(destination(writer, cfg.WriteToStderr), opts)

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}

	return slog.New(handler), cleanup, nil
}

// destination returns writer alone, or writer fanned out to stderr as
// well when mirror is requested.
func destination(writer io.Writer, mirror bool) io.Writer {
	if !mirror {
		return writer
	}
	return io.MultiWriter(writer, os.Stderr)
}

// SetupDefault installs a debug-level logger built from DebugConfig as
// the process-wide slog default and returns its cleanup func.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DebugConfig())
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}

// parseLevel maps a case-insensitive level name to slog.Level, defaulting
// to info for anything unrecognized.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString exports parseLevel for callers outside this package
// that need to compare levels (e.g. a log-level flag parser).
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}

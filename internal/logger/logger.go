package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the daemon's structured logger. It owns the rotating file
// sink and the redactor in front of it.
type Logger struct {
	logger   zerolog.Logger
	sink     io.Closer
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error; empty means info
	File      string // log file path; empty disables the file sink
	Console   bool   // mirror log lines to stderr
	Pretty    bool   // human console format instead of JSON
	Redaction bool   // scrub credentials before lines reach any sink
	MaxSize   int    // megabytes before the file rotates
	MaxAge    int    // days rotated files are kept
	Compress  bool   // gzip rotated files
}

// New builds a logger from cfg. The file sink rotates and is opened
// owner-only; log lines carry command argv and tool arguments.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	writer, sink, err := buildSink(cfg)
	if err != nil {
		return nil, err
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		writer = redactor.Wrap(writer)
	}

	return &Logger{
		logger:   zerolog.New(writer).Level(level).With().Timestamp().Logger(),
		sink:     sink,
		redactor: redactor,
	}, nil
}

// parseLevel maps a configured name to a zerolog level. An unknown name
// is a configuration error, not a silent fallback.
func parseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// buildSink assembles the writer stack: console, rotating file, or both.
// With neither configured, lines go to stderr.
func buildSink(cfg Config) (io.Writer, io.Closer, error) {
	var writers []io.Writer

	if cfg.Console {
		// Stderr keeps daemon logs out of command output.
		var console io.Writer = os.Stderr
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		writers = append(writers, console)
	}

	var sink io.Closer
	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = 100
		}
		rw, err := NewRotatingWriter(cfg.File, maxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, rw)
		sink = rw
	}

	switch len(writers) {
	case 0:
		return os.Stderr, nil, nil
	case 1:
		return writers[0], sink, nil
	default:
		return io.MultiWriter(writers...), sink, nil
	}
}

// Close flushes and releases the file sink, if any.
func (l *Logger) Close() error {
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

// Debug starts a debug-level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

// Info starts an info-level event.
func (l *Logger) Info() *zerolog.Event {
	return l.logger.Info()
}

// Warn starts a warn-level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

// Error starts an error-level event.
func (l *Logger) Error() *zerolog.Event {
	return l.logger.Error()
}

// With creates a child logger context
func (l *Logger) With() zerolog.Context {
	return l.logger.With()
}

// Component returns a child logger tagged with a component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

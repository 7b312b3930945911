package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process logger. It owns the rotating log file, if any.
type Logger struct {
	zerolog.Logger
	file     io.WriteCloser
	redactor *Redactor
}

// Rotation bounds a log file on disk
type Rotation struct {
	MaxSize  int // MB
	MaxAge   int // days
	Compress bool
}

// Config holds logger configuration
type Config struct {
	Level     string    // debug, info, warn, error
	File      string    // rotated log file, empty for none
	Console   io.Writer // console sink, nil for none
	Pretty    bool      // human-readable console lines
	Redaction bool      // scrub tokens and cookies before writing
	// RedactPatterns extend the default redaction set
	RedactPatterns []string
	Rotation       Rotation
}

// RotatingFile opens path as a size and age bounded file
func RotatingFile(path string, r Rotation) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename: path,
		MaxSize:  r.MaxSize,
		MaxAge:   r.MaxAge,
		Compress: r.Compress,
	}, nil
}

// New builds a logger and installs it as the global zerolog logger.
// An unknown or empty level falls back to info.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	l := &Logger{}
	var sinks []io.Writer

	if cfg.Console != nil {
		console := cfg.Console
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: cfg.Console, TimeFormat: time.RFC3339}
		}
		sinks = append(sinks, console)
	}

	if cfg.File != "" {
		l.file, err = RotatingFile(cfg.File, cfg.Rotation)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, l.file)
	}

	out := io.Discard
	if len(sinks) == 1 {
		out = sinks[0]
	} else if len(sinks) > 1 {
		out = io.MultiWriter(sinks...)
	}

	if cfg.Redaction {
		l.redactor = NewRedactor()
		for _, pattern := range cfg.RedactPatterns {
			if err := l.redactor.AddPattern(pattern); err != nil {
				if l.file != nil {
					_ = l.file.Close()
				}
				return nil, fmt.Errorf("invalid redact pattern %q: %w", pattern, err)
			}
		}
		out = l.redactor.Wrap(out)
	}

	l.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = l.Logger
	return l, nil
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close closes the log file. The global logger is pointed back at stderr
// so late writers do not hit a closed file.
func (l *Logger) Close() error {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

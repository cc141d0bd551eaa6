package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Rotation describes a rotated log file. Parameters follow lumberjack
// semantics; zero values take the defaults above.
type Rotation struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Writer returns a rotating writer for r.Path, or nil when Path is empty.
func (r Rotation) Writer() io.WriteCloser {
	if r.Path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   r.Path,
		MaxSize:    valOr(r.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(r.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(r.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   r.Compress,
	}
}

// ServiceLogPath is where the built-in shipper writes a service's output.
func ServiceLogPath(dir, name string) string {
	return filepath.Join(dir, name+".log")
}

// Options selects the supervisor's own log handler.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json, color
	File   Rotation
	// Console receives logs when File.Path is empty. Defaults to stderr.
	Console io.Writer
}

// New builds a logger from opts. The returned closer releases the log file
// and is never nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	var w io.Writer = opts.Console
	if w == nil {
		w = os.Stderr
	}
	var closer io.Closer = nopCloser{}
	if f := opts.File.Writer(); f != nil {
		w, closer = f, f
	}
	ho := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, ho)
	case "json":
		h = slog.NewJSONHandler(w, ho)
	case "color":
		h = NewColorTextHandler(w, ho)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(h), closer, nil
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

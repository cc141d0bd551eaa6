package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestRotationDefaults(t *testing.T) {
	assert.Nil(t, Rotation{}.Writer())

	w := Rotation{Path: "/tmp/x.log"}.Writer()
	l, ok := w.(*lj.Logger)
	require.True(t, ok)
	assert.Equal(t, DefaultMaxSizeMB, l.MaxSize)
	assert.Equal(t, DefaultMaxBackups, l.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, l.MaxAge)
	assert.False(t, l.Compress)
}

func TestRotationOverrides(t *testing.T) {
	w := Rotation{Path: "/tmp/y.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 2, Compress: true}.Writer()
	l := w.(*lj.Logger)
	assert.Equal(t, 1, l.MaxSize)
	assert.Equal(t, 9, l.MaxBackups)
	assert.Equal(t, 2, l.MaxAge)
	assert.True(t, l.Compress)
}

func TestNewJSONToConsole(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Options{Level: "warn", Format: "json", Console: &buf})
	require.NoError(t, err)
	defer func() { _ = closer.Close() }()

	log.Info("hidden")
	log.Warn("shown", "service", "web")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "web", rec["service"])
}

func TestNewWritesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "d.log")
	log, closer, err := New(Options{File: Rotation{Path: p}})
	require.NoError(t, err)
	log.Info("to file")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), "to file")
}

func TestNewRejectsUnknown(t *testing.T) {
	_, _, err := New(Options{Format: "xml"})
	assert.Error(t, err)
	_, _, err = New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	log.With("service", "web").Error("boom")
	out := buf.String()
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "service=web")
}

func TestServiceLogPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/var/log/d", "web.log"), ServiceLogPath("/var/log/d", "web"))
}

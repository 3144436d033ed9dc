package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestWriter_StderrWhenNoFile(t *testing.T) {
	w, c := Config{}.Writer()
	if w != os.Stderr {
		t.Fatalf("expected stderr writer")
	}
	if c != nil {
		t.Fatalf("expected nil closer for stderr")
	}
}

func TestWriter_FileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serverctl.log")
	w, c := Config{File: path}.Writer()
	require.NotNil(t, c)
	l, ok := w.(*lj.Logger)
	require.True(t, ok, "expected lumberjack logger")
	assert.Equal(t, DefaultMaxSizeMB, l.MaxSize)
	assert.Equal(t, DefaultMaxBackups, l.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, l.MaxAge)

	_, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestWriter_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	w, c := Config{File: path, MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 2, Compress: true}.Writer()
	defer func() { _ = c.Close() }()
	l := w.(*lj.Logger)
	assert.Equal(t, 1, l.MaxSize)
	assert.Equal(t, 9, l.MaxBackups)
	assert.Equal(t, 2, l.MaxAge)
	assert.True(t, l.Compress)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "json"}, &buf)
	l.Info("scan finished", "count", 3)
	out := buf.String()
	assert.Contains(t, out, `"msg":"scan finished"`)
	assert.Contains(t, out, `"count":3`)
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn"}, &buf)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestColorTextHandler_PrefixesLevelAndDropsTime(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil, false))
	l.Error("boom", "port", 8080)
	out := buf.String()
	assert.Contains(t, out, "\033[31mERROR\033[0m")
	assert.Contains(t, out, "port=8080")
	assert.False(t, strings.Contains(out, "time="), "time attribute should be dropped: %s", out)
	assert.True(t, strings.HasPrefix(out, "\033[31mERROR\033[0m  msg=boom"), out)
	assert.NotContains(t, out, `\x1b`)
	assert.NotContains(t, out, "level=")
}

func TestColorTextHandler_ConcurrentRecordsStayWhole(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil, false))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.With("worker", 1).Info("tick")
		}()
	}
	wg.Wait()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.Equal(t, "\033[32mINFO\033[0m  msg=tick worker=1", line)
	}
}

func TestColorTextHandler_WithAttrsKeepsColor(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil, true)).With("component", "control")
	l.Warn("stage timed out")
	out := buf.String()
	assert.Contains(t, out, "\033[33mWARN\033[0m")
	assert.Contains(t, out, "component=control")
	assert.Contains(t, out, "time=")
}

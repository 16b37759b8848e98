package log

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatterPattern(t *testing.T) {
	f := &formatter{
		pattern: "%time [%level] %msg%n",
		time:    "2006-01-02 15:04:05",
	}
	entry := &logrus.Entry{
		Time:    time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "device connected",
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01 12:30:00 [info] device connected\n", string(out))
}

func TestFormatterFieldsSorted(t *testing.T) {
	f := &formatter{pattern: "%field %msg", time: time.RFC3339}
	entry := &logrus.Entry{
		Level:   logrus.WarnLevel,
		Message: "m",
		Data: logrus.Fields{
			"z": "last",
			"a": 1,
		},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "a=1,z=last m", string(out))
}

func TestCallerResolvesToLogSite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pattern = "%caller %func %msg%n"
	l, err := newAdapter(cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	l.(*logrusAdapter).entry.Logger.SetOutput(&buf)

	l.WithField("k", "v").Info("locating")

	out := buf.String()
	assert.Contains(t, out, "log/logger_test.go:", "caller must name the log site, got %q", out)
	assert.Contains(t, out, "TestCallerResolvesToLogSite", "func must name the log site, got %q", out)
	assert.NotContains(t, out, "logger_adapter.go", "adapter wrapper frame leaked into %%caller: %q", out)
}

func TestBuildAppendersConsoleDefault(t *testing.T) {
	w, err := buildAppenders(nil)
	require.NoError(t, err)
	assert.Len(t, w.writers, 1)
}

func TestBuildAppendersFile(t *testing.T) {
	dir := t.TempDir()
	w, err := buildAppenders([]AppenderConfig{
		{Type: "console"},
		{Type: "file", Options: map[string]interface{}{
			"filename":    filepath.Join(dir, "textcast.log"),
			"max_size":    10,
			"max_backups": 3,
			"compress":    true,
		}},
	})
	require.NoError(t, err)
	assert.Len(t, w.writers, 2)
}

func TestBuildAppendersRejectsUnknownType(t *testing.T) {
	_, err := buildAppenders([]AppenderConfig{{Type: "syslog"}})
	assert.Error(t, err)
}

func TestBuildAppendersFileRequiresFilename(t *testing.T) {
	_, err := buildAppenders([]AppenderConfig{{Type: "file"}})
	assert.Error(t, err)
}

func TestNewAdapterRejectsBadLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	_, err := newAdapter(cfg)
	assert.Error(t, err)
}

func TestAdapterLevelGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "info"
	l, err := newAdapter(cfg)
	require.NoError(t, err)
	assert.False(t, l.IsDebugEnabled())

	cfg2 := DefaultConfig()
	cfg2.Level = "debug"
	l2, err := newAdapter(cfg2)
	require.NoError(t, err)
	assert.True(t, l2.IsDebugEnabled())
}

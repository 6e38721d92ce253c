package logging_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtutil/virtutil/pkg/virtutil/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    logging.Level
		wantErr bool
	}{
		{"debug", logging.LevelDebug, false},
		{"INFO", logging.LevelInfo, false},
		{"warn", logging.LevelWarn, false},
		{"warning", logging.LevelWarn, false},
		{" error ", logging.LevelError, false},
		{"loud", logging.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, logging.ErrInvalidLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInitRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  logging.Config
		want error
	}{
		{"bad level", logging.Config{Level: "nope", Path: filepath.Join(dir, "a.log")}, logging.ErrInvalidLevel},
		{"bad component level", logging.Config{Level: "info", Path: filepath.Join(dir, "b.log"), Components: map[string]string{"loader": "x"}}, logging.ErrInvalidLevel},
		{"bad format", logging.Config{Level: "info", Path: filepath.Join(dir, "c.log"), Format: "xml"}, logging.ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := logging.Init(tt.cfg)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "virtutil.log")
	require.NoError(t, logging.Init(logging.Config{
		Level:      "info",
		Path:       path,
		Components: map[string]string{"isql": "debug"},
	}))
	t.Cleanup(func() { _ = logging.Close() })

	logging.Get("loader").Info("worker finished", "worker", 2)
	logging.Get("loader").Debug("hidden detail")
	logging.Get("isql").Debug("exec", "sql", "checkpoint;")
	require.NoError(t, logging.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "worker finished")
	assert.Contains(t, out, "loader")
	assert.NotContains(t, out, "hidden detail")
	assert.Contains(t, out, "checkpoint;")
}

func TestJSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "virtutil.log")
	require.NoError(t, logging.Init(logging.Config{Level: "info", Path: path, Format: "json"}))
	logging.Get("dump").Warn("procedure missing", "name", "DB.DBA.dump_nquads")
	require.NoError(t, logging.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "procedure missing", rec["msg"])
	assert.Equal(t, "DB.DBA.dump_nquads", rec["name"])
}

func TestLoggerCreatedBeforeInitIsReconfigured(t *testing.T) {
	early := logging.Get("early")
	path := filepath.Join(t.TempDir(), "virtutil.log")
	require.NoError(t, logging.Init(logging.Config{Level: "info", Path: path}))
	early.Info("after init")
	require.NoError(t, logging.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "after init")
}

func TestSubscribeAndRing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "virtutil.log")
	require.NoError(t, logging.Init(logging.Config{Level: "info", Path: path, Interactive: true}))
	t.Cleanup(func() { _ = logging.Close() })

	ch := logging.Subscribe()
	logging.Get("docker").Info("container started")
	logging.Get("docker").Debug("below threshold")

	select {
	case e := <-ch:
		assert.Equal(t, "docker", e.Component)
		assert.Equal(t, "container started", e.Message)
		assert.Equal(t, logging.LevelInfo, e.Level)
	case <-time.After(time.Second):
		t.Fatal("no entry delivered")
	}

	ring := logging.Recent()
	require.NotNil(t, ring)
	assert.Equal(t, 1, ring.Len())

	logging.Unsubscribe(ch)
}

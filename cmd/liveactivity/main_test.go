package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveactivity/internal/storage"
	"liveactivity/pkg/logx"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("backend:\n  name: unsupported\nstorage:\n  driver: file\n  path: j\n"), 0o600))
	out, err := run(t, "", "check-config", "--config", good)
	require.NoError(t, err)
	assert.Contains(t, out, "backend=unsupported storage=file")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"backend": {"name": "beos"}}`), 0o600))
	_, err = run(t, "", "check-config", "--config", bad)
	assert.ErrorContains(t, err, "backend.name")

	_, err = run(t, "", "check-config", "--backend", "nope")
	assert.ErrorContains(t, err, "unknown backend")
}

func TestServeOverStdio(t *testing.T) {
	input := strings.Join([]string{
		`{"id":1,"method":"status"}`,
		`{"id":2,"method":"createLiveActivity","params":{"activityContentVersion":1,"activityContent":{"type":"TaskQueue","data":{"id":"a1"}}}}`,
	}, "\n")
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("logging:\n  level: error\nbackend:\n  cleanup_delay: 10ms\n"), 0o600))

	out, err := run(t, input, "serve", "--config", cfg, "--backend", "unsupported", "--stop-timeout", "2s")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"backend":"unsupported"`)
	assert.Contains(t, lines[1], `"code":"backend_unavailable"`)
}

func TestHistoryPrintsJournal(t *testing.T) {
	dir := t.TempDir()
	journal := filepath.Join(dir, "la")
	st, err := storage.Open(storage.Config{Driver: "file", Path: journal}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Append(ctx, storage.Entry{At: time.Now(), Type: "activity.created", ActivityID: "a1"}))
	require.NoError(t, st.Append(ctx, storage.Entry{At: time.Now(), Type: "activity.completed", ActivityID: "a1", ProgressText: "100%"}))
	require.NoError(t, st.Close())

	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("storage:\n  driver: file\n  path: "+journal+"\n"), 0o600))

	out, err := run(t, "", "history", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "activity.created")
	assert.Contains(t, out, "a1 100%")

	out, err = run(t, "", "history", "--config", cfg, "--json", "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, `"type":"activity.completed"`)

	_, err = run(t, "", "history")
	assert.ErrorIs(t, err, storage.ErrDisabled)
}

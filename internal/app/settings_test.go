package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveactivity/internal/backend"
	"liveactivity/internal/cleanup"
	"liveactivity/internal/config"
	"liveactivity/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	cfg := config.Default()
	_, _, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.Storage = &config.StorageConfig{Driver: " None "}
	_, _, enabled, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: " ./la.db ", Retention: "24h", PruneSchedule: "@daily"}
	sc, hc, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "./la.db", sc.Path)
	assert.Equal(t, time.Second, sc.BusyTimeout)
	assert.Equal(t, 24*time.Hour, hc.Retention)
	assert.Equal(t, "@daily", hc.PruneSchedule)

	cfg.Storage.Retention = "forever"
	_, _, _, err = mapStorageConfig(cfg)
	assert.ErrorContains(t, err, "storage.retention")
}

func TestMapDispatchAndDelay(t *testing.T) {
	cfg := config.Default()
	dc, err := mapDispatchConfig(cfg)
	require.NoError(t, err)
	assert.Zero(t, dc)

	cfg.Dispatch = &config.DispatchConfig{RatePerSec: 3, RetryMax: 2, RetryBase: "50ms", DedupWindow: "1s", CallTimeout: "2s"}
	dc, err = mapDispatchConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, dc.RatePerSec)
	assert.Equal(t, 50*time.Millisecond, dc.RetryBase)
	assert.Equal(t, time.Second, dc.DedupWindow)
	assert.Equal(t, 2*time.Second, dc.CallTimeout)

	d, err := mapCleanupDelay(cfg)
	require.NoError(t, err)
	assert.Equal(t, cleanup.DefaultDelay, d)

	cfg.Backend.CleanupDelay = "250ms"
	d, err = mapCleanupDelay(cfg)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
}

func TestMapLabelsFillsDefaults(t *testing.T) {
	l := mapLabels(config.LabelsConfig{Completed: "Fertig"})
	assert.Equal(t, "Fertig", l.Completed)
	assert.Equal(t, backend.DefaultLabels.Started, l.Started)
}

func TestNewBackend(t *testing.T) {
	cfg := config.Default().Backend

	be, closer, err := newBackend(cfg, backend.NameUnsupported, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, backend.NameUnsupported, be.Name())
	assert.NoError(t, closer())

	be, _, err = newBackend(config.BackendConfig{Name: "mac"}, "", logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, backend.NameMacOS, be.Name())

	be, _, err = newBackend(config.BackendConfig{Name: backend.NameWindows, Windows: config.WindowsConfig{AppID: "Acme.LiveActivity"}}, "", logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, backend.NameWindows, be.Name())

	_, closer, err = newBackend(cfg, "beos", logx.Nop())
	assert.ErrorContains(t, err, "backend.name")
	assert.NotNil(t, closer)

	_, _, err = newBackend(config.BackendConfig{Name: backend.NameMacOS, MacOS: config.MacOSConfig{StatusTimeout: "-1s"}}, "", logx.Nop())
	assert.ErrorContains(t, err, "status_timeout")
}

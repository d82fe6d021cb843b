package app

import (
	"strings"
	"time"

	"liveactivity/internal/backend"
	"liveactivity/internal/backend/freedesktop"
	"liveactivity/internal/backend/macos"
	"liveactivity/internal/backend/telegram"
	"liveactivity/internal/backend/windows"
	"liveactivity/internal/cleanup"
	"liveactivity/internal/config"
	"liveactivity/internal/dispatch"
	"liveactivity/internal/history"
	"liveactivity/internal/metrics"
	"liveactivity/internal/storage"
	"liveactivity/pkg/logx"
)

// Mapping from the file format to runtime configs. Inputs are validated
// first, so parse errors here only surface for unvalidated configs.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapLabels(l config.LabelsConfig) backend.Labels {
	return backend.Labels{
		Started:    l.Started,
		InProgress: l.InProgress,
		Completed:  l.Completed,
		Ended:      l.Ended,
	}.WithDefaults()
}

func mapCleanupDelay(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("backend.cleanup_delay", cfg.Backend.CleanupDelay, cleanup.DefaultDelay)
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	if cfg.Dispatch == nil {
		return dispatch.Config{}, nil
	}
	d := cfg.Dispatch
	out := dispatch.Config{
		RatePerSec:      d.RatePerSec,
		RetryMax:        d.RetryMax,
		DedupMaxEntries: d.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("dispatch.retry_base", d.RetryBase); err != nil {
		return dispatch.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("dispatch.retry_max_delay", d.RetryMaxDelay); err != nil {
		return dispatch.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("dispatch.dedup_window", d.DedupWindow); err != nil {
		return dispatch.Config{}, err
	}
	if out.CallTimeout, err = config.ParseDurationField("dispatch.call_timeout", d.CallTimeout); err != nil {
		return dispatch.Config{}, err
	}
	return out, nil
}

// mapStorageConfig reports enabled=false when the journal is off.
func mapStorageConfig(cfg *config.Config) (storage.Config, history.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, history.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, history.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, history.Config{}, false, err
	}
	hc, err := mapHistoryConfig(sc)
	if err != nil {
		return storage.Config{}, history.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, hc, true, nil
}

func mapHistoryConfig(sc *config.StorageConfig) (history.Config, error) {
	if sc == nil {
		return history.Config{}, nil
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return history.Config{}, err
	}
	return history.Config{Retention: retention, PruneSchedule: sc.PruneSchedule}, nil
}

func mapMetricsConfig(cfg *config.Config) metrics.ServerConfig {
	m := cfg.Metrics
	return metrics.ServerConfig{
		Enabled:       m.Enabled,
		Addr:          strings.TrimSpace(m.Addr),
		Token:         strings.TrimSpace(m.Token),
		AllowInsecure: m.AllowInsecure,
		Pprof:         m.Pprof,
	}
}

func mapMacOSConfig(c config.MacOSConfig) (macos.Config, error) {
	status, err := config.ParseDurationField("backend.macos.status_timeout", c.StatusTimeout)
	if err != nil {
		return macos.Config{}, err
	}
	request, err := config.ParseDurationField("backend.macos.request_timeout", c.RequestTimeout)
	if err != nil {
		return macos.Config{}, err
	}
	return macos.Config{
		Sender:         strings.TrimSpace(c.Sender),
		SettingsURLs:   c.SettingsURLs,
		StatusTimeout:  status,
		RequestTimeout: request,
	}, nil
}

func mapWindowsConfig(c config.WindowsConfig) (windows.Config, error) {
	expire, err := config.ParseDurationField("backend.windows.expire_after", c.ExpireAfter)
	if err != nil {
		return windows.Config{}, err
	}
	return windows.Config{
		AppID:       strings.TrimSpace(c.AppID),
		DisplayName: strings.TrimSpace(c.DisplayName),
		IconPath:    strings.TrimSpace(c.IconPath),
		Shortcut:    c.Shortcut,
		ExpireAfter: expire,
	}, nil
}

func mapFreedesktopConfig(c config.FreedesktopConfig) (freedesktop.Config, error) {
	expire, err := config.ParseDurationField("backend.freedesktop.expire_timeout", c.ExpireTimeout)
	if err != nil {
		return freedesktop.Config{}, err
	}
	return freedesktop.Config{AppName: strings.TrimSpace(c.AppName), ExpireTimeout: expire}, nil
}

func mapTelegramConfig(c config.TelegramConfig) telegram.Config {
	return telegram.Config{Token: strings.TrimSpace(c.Token), ChatID: c.ChatID, ThreadID: c.ThreadID}
}

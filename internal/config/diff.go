package config

import (
	"reflect"
	"sort"
	"strings"

	"liveactivity/pkg/logx"
)

// RestartSections change nothing until the process restarts.
var RestartSections = map[string]bool{"backend.target": true, "storage": true}

// SummarizeConfigChange returns the changed sections and safe structured
// fields for logging. Secrets (tokens) are never included, only whether
// they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Backend selection and per-surface settings are fixed at startup;
	// labels and the cleanup delay apply live.
	ob, nb := oldCfg.Backend, newCfg.Backend
	if !strings.EqualFold(strings.TrimSpace(ob.Name), strings.TrimSpace(nb.Name)) ||
		!reflect.DeepEqual(ob.MacOS, nb.MacOS) ||
		!reflect.DeepEqual(ob.Windows, nb.Windows) ||
		!reflect.DeepEqual(ob.Freedesktop, nb.Freedesktop) ||
		ob.Telegram.ChatID != nb.Telegram.ChatID ||
		ob.Telegram.ThreadID != nb.Telegram.ThreadID ||
		ob.Telegram.Token != nb.Telegram.Token {
		changed = append(changed, "backend.target")
		attrs = append(attrs,
			logx.String("backend.name", nb.Name),
			logx.Bool("backend.telegram.token_set", strings.TrimSpace(nb.Telegram.Token) != ""),
		)
	}
	if ob.Labels != nb.Labels || strings.TrimSpace(ob.CleanupDelay) != strings.TrimSpace(nb.CleanupDelay) {
		changed = append(changed, "backend.presentation")
		attrs = append(attrs, logx.String("backend.cleanup_delay", strings.TrimSpace(nb.CleanupDelay)))
	}

	od, nd := derefDispatch(oldCfg.Dispatch), derefDispatch(newCfg.Dispatch)
	if od != nd {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.rate_per_sec", nd.RatePerSec),
			logx.Int("dispatch.retry_max", nd.RetryMax),
			logx.String("dispatch.dedup_window", strings.TrimSpace(nd.DedupWindow)),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if !strings.EqualFold(strings.TrimSpace(oldS.Driver), strings.TrimSpace(newS.Driver)) ||
		strings.TrimSpace(oldS.Path) != strings.TrimSpace(newS.Path) ||
		strings.TrimSpace(oldS.BusyTimeout) != strings.TrimSpace(newS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}
	if strings.TrimSpace(oldS.Retention) != strings.TrimSpace(newS.Retention) ||
		strings.TrimSpace(oldS.PruneSchedule) != strings.TrimSpace(newS.PruneSchedule) {
		changed = append(changed, "storage.prune")
		attrs = append(attrs,
			logx.String("storage.retention", strings.TrimSpace(newS.Retention)),
			logx.String("storage.prune_schedule", strings.TrimSpace(newS.PruneSchedule)),
		)
	}

	om, nm := oldCfg.Metrics, newCfg.Metrics
	if om.Enabled != nm.Enabled ||
		strings.TrimSpace(om.Addr) != strings.TrimSpace(nm.Addr) ||
		om.AllowInsecure != nm.AllowInsecure ||
		om.Pprof != nm.Pprof ||
		om.Token != nm.Token {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(nm.Addr)),
			logx.Bool("metrics.token_set", strings.TrimSpace(nm.Token) != ""),
			logx.Bool("metrics.pprof", nm.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefDispatch(d *DispatchConfig) DispatchConfig {
	if d == nil {
		return DispatchConfig{}
	}
	return *d
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

package config

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"liveactivity/internal/backend"
	"liveactivity/internal/history"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validator adapts Validate to ConfigManager.SetValidator.
func Validator(_ context.Context, cfg *Config) error { return Validate(cfg) }

// Validate rejects configs that cannot be applied. It is safe for hot
// reload: nothing is opened or started.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}

	if err := validateBackend(cfg.Backend); err != nil {
		return err
	}
	if cfg.Dispatch != nil {
		if err := validateDispatch(*cfg.Dispatch); err != nil {
			return err
		}
	}
	if cfg.Storage != nil {
		if err := validateStorage(*cfg.Storage); err != nil {
			return err
		}
	}
	return validateMetrics(cfg.Metrics)
}

func validateBackend(b BackendConfig) error {
	name, err := backend.Resolve(b.Name)
	if err != nil {
		return fmt.Errorf("backend.name: %w", err)
	}
	for _, f := range []struct{ path, raw string }{
		{"backend.cleanup_delay", b.CleanupDelay},
		{"backend.macos.status_timeout", b.MacOS.StatusTimeout},
		{"backend.macos.request_timeout", b.MacOS.RequestTimeout},
		{"backend.windows.expire_after", b.Windows.ExpireAfter},
		{"backend.freedesktop.expire_timeout", b.Freedesktop.ExpireTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if name == backend.NameTelegram {
		if strings.TrimSpace(b.Telegram.Token) == "" {
			return fmt.Errorf("backend.telegram.token is required when backend.name=telegram")
		}
		if b.Telegram.ChatID == 0 {
			return fmt.Errorf("backend.telegram.chat_id is required when backend.name=telegram")
		}
	}
	return nil
}

func validateDispatch(d DispatchConfig) error {
	if d.RatePerSec < 0 {
		return fmt.Errorf("dispatch.rate_per_sec must be >= 0")
	}
	if d.RetryMax < 0 {
		return fmt.Errorf("dispatch.retry_max must be >= 0")
	}
	if d.DedupMaxEntries < 0 {
		return fmt.Errorf("dispatch.dedup_max_entries must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"dispatch.retry_base", d.RetryBase},
		{"dispatch.retry_max_delay", d.RetryMaxDelay},
		{"dispatch.dedup_window", d.DedupWindow},
		{"dispatch.call_timeout", d.CallTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	switch driver {
	case "", "none":
		return nil
	case "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
	}
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.retention", s.Retention); err != nil {
		return err
	}
	if err := history.ValidateSchedule(s.PruneSchedule); err != nil {
		return fmt.Errorf("storage.prune_schedule: %w", err)
	}
	return nil
}

func validateMetrics(m MetricsConfig) error {
	addr := strings.TrimSpace(m.Addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("metrics.addr: %w", err)
	}
	if !m.Enabled || isLoopbackHost(host) {
		return nil
	}
	if strings.TrimSpace(m.Token) == "" && !m.AllowInsecure {
		return fmt.Errorf("metrics.addr %q is not loopback: set metrics.token or metrics.allow_insecure", addr)
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Backend BackendConfig `json:"backend"`

	// Dispatch controls delivery policy around the backend. If omitted,
	// runtime defaults apply.
	Dispatch *DispatchConfig `json:"dispatch,omitempty"`
	// Storage enables the lifecycle journal. Nil means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`
	Metrics MetricsConfig  `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// BackendConfig selects and configures the notification surface.
//
// Name is one of "auto", "macos", "windows", "freedesktop", "telegram" or
// "unsupported". Only the matching subsection is read.
type BackendConfig struct {
	Name string `json:"name"`
	// CleanupDelay is how long a finished notification stays visible
	// before it is cleared (Go duration string, default "3s").
	CleanupDelay string       `json:"cleanup_delay,omitempty"`
	Labels       LabelsConfig `json:"labels"`

	MacOS       MacOSConfig       `json:"macos"`
	Windows     WindowsConfig     `json:"windows"`
	Freedesktop FreedesktopConfig `json:"freedesktop"`
	Telegram    TelegramConfig    `json:"telegram"`
}

// LabelsConfig holds the localized phase captions. Empty values use the
// built-in English labels.
type LabelsConfig struct {
	Started    string `json:"started,omitempty"`
	InProgress string `json:"in_progress,omitempty"`
	Completed  string `json:"completed,omitempty"`
	Ended      string `json:"ended,omitempty"`
}

type MacOSConfig struct {
	Sender         string   `json:"sender,omitempty"`
	SettingsURLs   []string `json:"settings_urls,omitempty"`
	StatusTimeout  string   `json:"status_timeout,omitempty"`
	RequestTimeout string   `json:"request_timeout,omitempty"`
}

type WindowsConfig struct {
	AppID       string `json:"app_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	IconPath    string `json:"icon_path,omitempty"`
	// Shortcut creates a Start menu shortcut for the app identity.
	Shortcut    bool   `json:"shortcut,omitempty"`
	ExpireAfter string `json:"expire_after,omitempty"`
}

type FreedesktopConfig struct {
	AppName       string `json:"app_name,omitempty"`
	ExpireTimeout string `json:"expire_timeout,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// DispatchConfig controls rate limiting, retries and duplicate suppression.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
// dedup_window "0s" (the default) disables duplicate suppression.
type DispatchConfig struct {
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	CallTimeout     string `json:"call_timeout"`
}

// StorageConfig controls the lifecycle journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./liveactivity.db", "retention": "168h" }
type StorageConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // sqlite only
	Retention     string `json:"retention,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"` // cron spec, default "@hourly"
}

// MetricsConfig controls the Prometheus scrape endpoint.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Backend: BackendConfig{Name: "auto"},
	}
}

package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

// Config is the runtime form of the `logging` config section.
type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig enables a JSON log file next to the console output.
type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultFilePath = "./liveactivity.log"

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// ParseLevel maps a config level name to a zerolog level; unknown names
// yield def. "warning" is accepted for "warn".
func ParseLevel(s string, def Level) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

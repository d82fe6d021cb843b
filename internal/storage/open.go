package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"liveactivity/pkg/logx"
)

// Store is the journal persistence API.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns up to limit newest entries, oldest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// Prune deletes entries older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

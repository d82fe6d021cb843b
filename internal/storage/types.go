package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one journal record: a lifecycle transition or a render failure.
// Keep it compact and schema-stable.
type Entry struct {
	At           time.Time `json:"at"`
	Type         string    `json:"type"`
	ActivityID   string    `json:"activity_id,omitempty"`
	Tag          string    `json:"tag,omitempty"`
	Backend      string    `json:"backend,omitempty"`
	Op           string    `json:"op,omitempty"`
	Title        string    `json:"title,omitempty"`
	Progress     float32   `json:"progress"`
	ProgressText string    `json:"progress_text,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Package backend defines the capability interface every platform
// notification backend implements, plus the render model handed to it.
//
// Backends own no activity state beyond their own bookkeeping (permission
// latches, per-tag sequence numbers, native ids). The controller decides
// what to render; a backend decides how.
package backend

import (
	"context"
	"strings"
)

// Backend renders the live activity on one notification surface.
//
// Show must be idempotent under the same tag: re-showing replaces the
// notification instead of adding a second one. Update may fall back to a
// full re-show when the surface has no partial updates; n always carries
// the cached metadata for that purpose. Clear is best-effort.
type Backend interface {
	Name() string
	// NewTag returns the OS-facing identity for a new activity created from id.
	NewTag(id string) string
	Show(ctx context.Context, tag string, n Notification) error
	Update(ctx context.Context, tag string, n Notification) error
	Complete(ctx context.Context, tag string, n Notification) error
	Clear(ctx context.Context, tag string) error
}

// Phase identifies which transition a render belongs to.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseProgress  Phase = "progress"
	PhaseCompleted Phase = "completed"
	PhaseEnded     Phase = "ended"
)

// Finished reports whether the phase is terminal.
func (p Phase) Finished() bool { return p == PhaseCompleted || p == PhaseEnded }

// Notification is everything a backend needs to render one state.
type Notification struct {
	Phase Phase
	// Label is the localized caption for Phase (e.g. "Completed").
	Label string

	Title    string
	Text     string
	Icon     string
	BundleID string
	TaskName string
	TaskType string

	Progress     float32
	ProgressText string
}

// Labels are the localized captions used for each phase.
type Labels struct {
	Started    string
	InProgress string
	Completed  string
	Ended      string
}

// DefaultLabels are used for any label left empty in configuration.
var DefaultLabels = Labels{
	Started:    "Started",
	InProgress: "In progress...",
	Completed:  "Completed",
	Ended:      "Ended",
}

// WithDefaults fills empty labels from DefaultLabels.
func (l Labels) WithDefaults() Labels {
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	return Labels{
		Started:    pick(l.Started, DefaultLabels.Started),
		InProgress: pick(l.InProgress, DefaultLabels.InProgress),
		Completed:  pick(l.Completed, DefaultLabels.Completed),
		Ended:      pick(l.Ended, DefaultLabels.Ended),
	}
}

// For returns the label for a phase.
func (l Labels) For(p Phase) string {
	switch p {
	case PhaseStarted:
		return l.Started
	case PhaseProgress:
		return l.InProgress
	case PhaseCompleted:
		return l.Completed
	case PhaseEnded:
		return l.Ended
	default:
		return ""
	}
}

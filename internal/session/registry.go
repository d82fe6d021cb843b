// Package session holds the process-wide live-activity slot.
package session

import (
	"sync"
	"time"
)

// Metadata is the immutable display snapshot captured at creation time.
// It holds everything a backend needs to re-render the activity.
type Metadata struct {
	ID        string
	Title     string
	Text      string
	Icon      string
	BundleID  string
	TaskName  string
	TaskType  string
	CreatedAt time.Time
}

// Session is a copy of the active activity. Tag is the identity used with
// the OS and may differ from Metadata.ID.
type Session struct {
	Tag      string
	Metadata Metadata
}

// Registry is a lock-protected slot holding at most one Session.
//
// Tag and metadata live under one mutex so no caller can observe one
// without the other. Methods only copy small structs while locked.
type Registry struct {
	mu     sync.Mutex
	active bool
	cur    Session
}

func NewRegistry() *Registry { return &Registry{} }

// Set replaces the current session (last writer wins).
func (r *Registry) Set(tag string, meta Metadata) {
	r.mu.Lock()
	r.cur = Session{Tag: tag, Metadata: meta}
	r.active = true
	r.mu.Unlock()
}

// Get returns a copy of the current session.
func (r *Registry) Get() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return Session{}, false
	}
	return r.cur, true
}

// Clear drops the current session, if any.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.cur = Session{}
	r.active = false
	r.mu.Unlock()
}

// Take atomically returns and clears the current session.
func (r *Registry) Take() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return Session{}, false
	}
	s := r.cur
	r.cur = Session{}
	r.active = false
	return s, true
}

// ClearIf clears the session only if it still carries tag. It reports
// whether a session was cleared. A completion that raced with a newer
// create must not wipe the newer session.
func (r *Registry) ClearIf(tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.cur.Tag != tag {
		return false
	}
	r.cur = Session{}
	r.active = false
	return true
}

// Active reports whether a session is set.
func (r *Registry) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

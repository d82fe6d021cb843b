// Package backendtest provides a recording fake backend for tests.
package backendtest

import (
	"context"
	"sync"

	"liveactivity/internal/backend"
)

// Call is one recorded backend invocation.
type Call struct {
	Method string // Show, Update, Complete, Clear
	Tag    string
	N      backend.Notification
}

// Recorder implements backend.Backend and records every call.
// Per-method errors can be injected with Fail.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	errs  map[string]error

	// TagFunc overrides NewTag; default returns the id unchanged.
	TagFunc func(id string) string
}

var _ backend.Backend = (*Recorder)(nil)

func New() *Recorder { return &Recorder{errs: map[string]error{}} }

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) NewTag(id string) string {
	if r.TagFunc != nil {
		return r.TagFunc(id)
	}
	return id
}

// Fail makes method return err until cleared with Fail(method, nil).
func (r *Recorder) Fail(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.errs, method)
		return
	}
	r.errs[method] = err
}

func (r *Recorder) record(method, tag string, n backend.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Tag: tag, N: n})
	return r.errs[method]
}

func (r *Recorder) Show(_ context.Context, tag string, n backend.Notification) error {
	return r.record("Show", tag, n)
}

func (r *Recorder) Update(_ context.Context, tag string, n backend.Notification) error {
	return r.record("Update", tag, n)
}

func (r *Recorder) Complete(_ context.Context, tag string, n backend.Notification) error {
	return r.record("Complete", tag, n)
}

func (r *Recorder) Clear(_ context.Context, tag string) error {
	return r.record("Clear", tag, backend.Notification{})
}

// Calls returns a copy of all recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Methods returns the recorded method names in order.
func (r *Recorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.Method)
	}
	return out
}

// Last returns the most recent call, if any.
func (r *Recorder) Last() (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return Call{}, false
	}
	return r.calls[len(r.calls)-1], true
}

// Reset forgets all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

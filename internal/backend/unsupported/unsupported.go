// Package unsupported is the backend for desktop targets without a native
// live-activity surface (Linux and anything else that is not macOS or
// Windows).
//
// The policy is a hard failure: every render fails with
// activity.ErrBackendUnavailable so callers can tell "not supported" apart
// from "worked". Clear is a no-op because there is nothing to remove, and
// remove never surfaces backend errors anyway.
package unsupported

import (
	"context"
	"fmt"
	"runtime"

	"liveactivity/internal/activity"
	"liveactivity/internal/backend"
)

type Backend struct {
	goos string
}

var _ backend.Backend = (*Backend)(nil)

func New() *Backend { return &Backend{goos: runtime.GOOS} }

func (b *Backend) Name() string { return backend.NameUnsupported }

func (b *Backend) NewTag(id string) string { return id }

func (b *Backend) err() error {
	return fmt.Errorf("%w: desktop live activity is not supported on %s", activity.ErrBackendUnavailable, b.goos)
}

func (b *Backend) Show(context.Context, string, backend.Notification) error     { return b.err() }
func (b *Backend) Update(context.Context, string, backend.Notification) error   { return b.err() }
func (b *Backend) Complete(context.Context, string, backend.Notification) error { return b.err() }
func (b *Backend) Clear(context.Context, string) error                          { return nil }

package activity

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveSession is returned by update while no activity is active.
	ErrNoActiveSession = errors.New("no active live activity")
	// ErrBackendUnavailable means the platform does not support live activities.
	ErrBackendUnavailable = errors.New("live activity backend unavailable")
	// ErrMetadataMissing is an internal invariant violation: a tag without metadata.
	ErrMetadataMissing = errors.New("live activity metadata missing")
	// ErrPermissionDenied is a BackendError cause when the OS refused to notify.
	ErrPermissionDenied = errors.New("notification permission denied")
	ErrInvalidRequest   = errors.New("invalid live activity request")
)

// BackendError wraps a failed native render/update call with the operation
// that triggered it.
type BackendError struct {
	Op      string // e.g. "create live activity"
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsBackendError reports whether err carries a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

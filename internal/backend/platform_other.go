//go:build !darwin && !windows

package backend

// Linux and every other desktop target have no native live-activity
// surface; see the unsupported backend for the failure policy.
const platformDefault = NameUnsupported

// Package activity defines the live-activity wire models, the progress
// normalization rules and the error taxonomy shared by the controller and
// the platform backends.
//
// # Progress
//
// Progress is read from a loosely-typed state map. The "progress" key
// (fraction 0..1) wins over "percent" (0..100); missing or unparsable input
// falls back to 0. The result is always clamped to [0,1], so malformed input
// never aborts a session.
//
// # Completion
//
// An activity is complete when its fraction is within float32 machine
// epsilon of 1.0 (see CompletionEpsilon). Values above 1 are clamped first
// and therefore also complete.
package activity

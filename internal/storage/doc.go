// Package storage persists the live-activity lifecycle journal so recent
// activity survives a restart.
//
// Drivers:
//   - "file": JSON Lines journal next to the configured path
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage

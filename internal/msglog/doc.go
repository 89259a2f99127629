// Package msglog is the message log used to resolve messages the live store no longer holds.
//
// It is written by whoever logs messages (the built-in Recorder, or an external logger sharing
// the same file/database) and read by the fallback resolver when a delete event arrives.
//
// Drivers:
//   - "file": JSON Lines journal, replayed into memory on open
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package msglog

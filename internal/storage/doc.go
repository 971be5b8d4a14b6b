// Package storage persists the reminder set.
//
// Two drivers are available:
//   - "file": one JSON snapshot, replaced atomically on every save
//   - "sqlite": a SQLite database (modernc.org/sqlite, pure Go)
//
// Both treat missing or unreadable data as an empty set on load.
package storage

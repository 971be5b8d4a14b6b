package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store keeps the ordered reminder set.
type Store interface {
	// LoadAll returns the saved reminders in order. Missing or malformed
	// data yields an empty slice and a nil error.
	LoadAll(ctx context.Context) ([]reminder.Reminder, error)
	// SaveAll replaces the saved set with items.
	SaveAll(ctx context.Context, items []reminder.Reminder) error
	Close() error
}

package registry

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("reminder not found")
	ErrDuplicateID   = errors.New("reminder id already exists")
	ErrInvalidID     = errors.New("invalid reminder id")
	ErrInvalidRule   = errors.New("invalid recurrence rule")
	ErrInvalidSnooze = errors.New("snooze minutes must be positive")
	ErrStore         = errors.New("store failed")
)

// StoreError reports a failed load or save. The in-memory registry is never
// rolled back because of it.
type StoreError struct {
	Op  string // "load" | "save"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

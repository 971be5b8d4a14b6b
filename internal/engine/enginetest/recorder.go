// Package enginetest provides an in-memory Notifier for tests.
package enginetest

import (
	"context"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"remindbot/internal/engine"
)

// Recorder is a Notifier that keeps the currently armed alerts in memory.
type Recorder struct {
	mu      sync.Mutex
	armed   map[string]engine.Alert
	arms    int
	cancels int

	// ArmErr / CancelErr, when set, are returned by every call after the
	// state change has been applied (the alert is still recorded).
	ArmErr    error
	CancelErr error
}

func NewRecorder() *Recorder {
	return &Recorder{armed: map[string]engine.Alert{}}
}

func (r *Recorder) Arm(_ context.Context, a engine.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arms++
	r.armed[a.ID] = a
	return r.ArmErr
}

func (r *Recorder) Cancel(_ context.Context, ids mapset.Set[string]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels++
	for id := range ids.Iter() {
		delete(r.armed, id)
	}
	return r.CancelErr
}

// Armed returns the alert armed under id.
func (r *Recorder) Armed(id string) (engine.Alert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.armed[id]
	return a, ok
}

// IDs returns the sorted ids of every armed alert.
func (r *Recorder) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.armed))
	for id := range r.armed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Counts returns how many Arm and Cancel calls were made.
func (r *Recorder) Counts() (arms, cancels int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.arms, r.cancels
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"remindbot/internal/engine"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Store is the durability port. LoadAll treats missing or malformed data as
// empty; only I/O failures are reported.
type Store interface {
	LoadAll(ctx context.Context) ([]reminder.Reminder, error)
	SaveAll(ctx context.Context, items []reminder.Reminder) error
}

// Scheduler computes and arms a reminder's alerts.
type Scheduler interface {
	Schedule(ctx context.Context, r *reminder.Reminder, now time.Time) (*time.Time, error)
	CancelAll(ctx context.Context, reminderID string) error
}

type Option func(*Registry)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides the id assigned to reminders added without one.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// Registry is the in-memory, insertion-ordered set of reminders.
//
// Every mutation holds mu for its whole duration (apply, schedule, save), so
// the registry is the single writer for reminder state.
type Registry struct {
	mu    sync.Mutex
	items *orderedmap.OrderedMap[string, *reminder.Reminder]

	sched Scheduler
	store Store
	log   logx.Logger

	now   func() time.Time
	newID func() string
}

func New(sched Scheduler, store Store, log logx.Logger, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		items: orderedmap.New[string, *reminder.Reminder](),
		sched: sched,
		store: store,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Restore loads the persisted reminders and schedules each of them.
// Stale snoozes are cleared and past one-time reminders stay unarmed.
func (r *Registry) Restore(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	var loaded []reminder.Reminder
	if r.store != nil {
		items, err := r.store.LoadAll(ctx)
		if err != nil {
			r.log.Warn("load reminders failed; starting empty", logx.Err(err))
			errs = append(errs, &StoreError{Op: "load", Err: err})
		}
		loaded = items
	}

	now := r.now()
	restored := 0
	for i := range loaded {
		it := loaded[i].Clone()
		if it.Rule == "" {
			it.Rule = reminder.RuleNone
		}
		if !engine.ValidReminderID(it.ID) || !it.Rule.Valid() {
			r.log.Warn("skipping invalid stored reminder", logx.String("id", it.ID), logx.String("rule", string(it.Rule)))
			continue
		}
		if _, dup := r.items.Get(it.ID); dup {
			r.log.Warn("skipping duplicate stored reminder", logx.String("id", it.ID))
			continue
		}
		ptr := &it
		r.items.Set(it.ID, ptr)
		if _, err := r.sched.Schedule(ctx, ptr, now); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", it.ID, err))
		}
		restored++
	}
	r.log.Info("reminders restored", logx.Int("count", restored), logx.Int("stored", len(loaded)))

	if err := r.saveLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Add inserts a new reminder and schedules it. An empty ID is assigned.
// NextTriggerTime and SnoozeUntil on the input are ignored.
func (r *Registry) Add(ctx context.Context, in reminder.Reminder) (reminder.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if in.ID == "" {
		in.ID = r.newID()
	}
	if !engine.ValidReminderID(in.ID) {
		return reminder.Reminder{}, fmt.Errorf("%w: %q", ErrInvalidID, in.ID)
	}
	if _, ok := r.items.Get(in.ID); ok {
		return reminder.Reminder{}, fmt.Errorf("%w: %s", ErrDuplicateID, in.ID)
	}
	if in.Rule == "" {
		in.Rule = reminder.RuleNone
	}
	if !in.Rule.Valid() {
		return reminder.Reminder{}, fmt.Errorf("%w: %q", ErrInvalidRule, in.Rule)
	}
	if in.Sound == "" {
		in.Sound = reminder.SoundDefault
	}

	now := r.now()
	it := in.Clone()
	it.NextTriggerTime = nil
	it.SnoozeUntil = nil
	it.CreatedAt = now
	it.UpdatedAt = now
	r.items.Set(it.ID, &it)

	return r.commitLocked(ctx, &it, now, "added")
}

// Update replaces the user-editable fields of an existing reminder.
// Changing ReminderTime or Rule drops an outstanding snooze.
func (r *Registry) Update(ctx context.Context, in reminder.Reminder) (reminder.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items.Get(in.ID)
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: %s", ErrNotFound, in.ID)
	}
	if in.Rule == "" {
		in.Rule = reminder.RuleNone
	}
	if !in.Rule.Valid() {
		return reminder.Reminder{}, fmt.Errorf("%w: %q", ErrInvalidRule, in.Rule)
	}
	if in.Sound == "" {
		in.Sound = reminder.SoundDefault
	}

	if !cur.ReminderTime.Equal(in.ReminderTime) || cur.Rule != in.Rule {
		cur.SnoozeUntil = nil
	}
	cur.Title = in.Title
	cur.EventTime = in.EventTime
	cur.ReminderTime = in.ReminderTime
	cur.Sound = in.Sound
	cur.Rule = in.Rule

	now := r.now()
	cur.UpdatedAt = now
	return r.commitLocked(ctx, cur, now, "updated")
}

// Snooze sets SnoozeUntil to now+minutes, replacing any earlier snooze.
func (r *Registry) Snooze(ctx context.Context, id string, minutes int) (reminder.Reminder, error) {
	if minutes <= 0 {
		return reminder.Reminder{}, fmt.Errorf("%w: %d", ErrInvalidSnooze, minutes)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items.Get(id)
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := r.now()
	until := now.Add(time.Duration(minutes) * time.Minute)
	cur.SnoozeUntil = &until
	cur.UpdatedAt = now
	return r.commitLocked(ctx, cur, now, "snoozed")
}

// Refresh reschedules a reminder without changing its definition.
// Used after a firing to advance recurrence and drop a spent snooze.
func (r *Registry) Refresh(ctx context.Context, id string) (reminder.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items.Get(id)
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.commitLocked(ctx, cur, r.now(), "refreshed")
}

// RefreshAll reschedules every reminder and saves once. It is used when the
// scheduling config changes under already armed alerts.
func (r *Registry) RefreshAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var errs []error
	for p := r.items.Oldest(); p != nil; p = p.Next() {
		if _, err := r.sched.Schedule(ctx, p.Value, now); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", p.Key, err))
		}
	}
	r.log.Info("reminders rescheduled", logx.Int("count", r.items.Len()))

	if err := r.saveLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Delete cancels both alerts of a reminder and removes it.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var errs []error
	if err := r.sched.CancelAll(ctx, id); err != nil {
		errs = append(errs, err)
	}
	r.items.Delete(id)
	r.log.Info("reminder deleted", logx.String("id", id))

	if err := r.saveLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Get returns a copy of the reminder with the given id.
func (r *Registry) Get(id string) (reminder.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items.Get(id)
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cur.Clone(), nil
}

// List returns copies of all reminders in insertion order.
func (r *Registry) List() []reminder.Reminder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items.Len()
}

func (r *Registry) commitLocked(ctx context.Context, cur *reminder.Reminder, now time.Time, what string) (reminder.Reminder, error) {
	var errs []error
	trigger, err := r.sched.Schedule(ctx, cur, now)
	if err != nil {
		errs = append(errs, err)
	}
	fields := []logx.Field{logx.String("id", cur.ID), logx.String("rule", string(cur.Rule)), logx.TimePtr("next", trigger)}
	if cur.SnoozeUntil != nil {
		fields = append(fields, logx.Time("snooze_until", *cur.SnoozeUntil))
	}
	r.log.Info("reminder "+what, fields...)

	if err := r.saveLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	return cur.Clone(), errors.Join(errs...)
}

func (r *Registry) saveLocked(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveAll(ctx, r.snapshotLocked()); err != nil {
		r.log.Warn("save reminders failed", logx.Err(err))
		return &StoreError{Op: "save", Err: err}
	}
	return nil
}

func (r *Registry) snapshotLocked() []reminder.Reminder {
	out := make([]reminder.Reminder, 0, r.items.Len())
	for p := r.items.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value.Clone())
	}
	return out
}

package registry_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"remindbot/internal/engine"
	"remindbot/internal/engine/enginetest"
	"remindbot/internal/registry"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

var t0 = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	items   []reminder.Reminder
	saves   int
	loadErr error
	saveErr error
}

func (s *memStore) LoadAll(context.Context) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reminder.Reminder(nil), s.items...), s.loadErr
}

func (s *memStore) SaveAll(_ context.Context, items []reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.items = append([]reminder.Reminder(nil), items...)
	return nil
}

func (s *memStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.ID)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	reg   *registry.Registry
	eng   *engine.Engine
	rec   *enginetest.Recorder
	store *memStore
	clock *clock
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	rec := enginetest.NewRecorder()
	eng := engine.New(engine.Config{BackupInterval: time.Hour, Timezone: "UTC"}, rec, logx.Nop())
	st := &memStore{}
	clk := &clock{now: now}
	n := 0
	reg := registry.New(eng, st, logx.Nop(),
		registry.WithClock(clk.Now),
		registry.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	return &fixture{reg: reg, eng: eng, rec: rec, store: st, clock: clk}
}

func TestAddAssignsIDSchedulesAndSaves(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0.Add(-time.Hour))

	got, err := f.reg.Add(context.Background(), reminder.Reminder{Title: "standup", ReminderTime: t0})
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if got.ID != "id-1" {
		t.Fatalf("ID = %q, want id-1", got.ID)
	}
	if got.Rule != reminder.RuleNone || got.Sound != reminder.SoundDefault {
		t.Fatalf("defaults not applied: rule=%q sound=%q", got.Rule, got.Sound)
	}
	if got.NextTriggerTime == nil || !got.NextTriggerTime.Equal(t0) {
		t.Fatalf("NextTriggerTime = %v, want %s", got.NextTriggerTime, t0)
	}
	if want := []string{"backup:id-1", "id-1"}; !reflect.DeepEqual(f.rec.IDs(), want) {
		t.Fatalf("armed = %v, want %v", f.rec.IDs(), want)
	}
	if want := []string{"id-1"}; !reflect.DeepEqual(f.store.ids(), want) {
		t.Fatalf("stored = %v, want %v", f.store.ids(), want)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	ctx := context.Background()

	if _, err := f.reg.Add(ctx, reminder.Reminder{ID: "x", ReminderTime: t0}); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	tests := []struct {
		name string
		in   reminder.Reminder
		want error
	}{
		{name: "duplicate", in: reminder.Reminder{ID: "x"}, want: registry.ErrDuplicateID},
		{name: "backup prefix", in: reminder.Reminder{ID: "backup:x"}, want: registry.ErrInvalidID},
		{name: "unknown rule", in: reminder.Reminder{ID: "y", Rule: "fortnightly"}, want: registry.ErrInvalidRule},
	}
	for _, tt := range tests {
		if _, err := f.reg.Add(ctx, tt.in); !errors.Is(err, tt.want) {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
	if f.reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", f.reg.Len())
	}
}

func TestSnoozeExample(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0.Add(-time.Hour))
	ctx := context.Background()

	r, err := f.reg.Add(ctx, reminder.Reminder{Title: "call", ReminderTime: t0})
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	f.clock.Set(t0.Add(-10 * time.Minute))
	got, err := f.reg.Snooze(ctx, r.ID, 60)
	if err != nil {
		t.Fatalf("Snooze error: %v", err)
	}
	want := t0.Add(50 * time.Minute)
	if got.SnoozeUntil == nil || !got.SnoozeUntil.Equal(want) {
		t.Fatalf("SnoozeUntil = %v, want %s", got.SnoozeUntil, want)
	}
	if p, _ := f.rec.Armed(r.ID); !p.FiresAt.Equal(want) {
		t.Fatalf("primary armed at %s, want %s", p.FiresAt, want)
	}
}

func TestSnoozeLastWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	ctx := context.Background()
	r, _ := f.reg.Add(ctx, reminder.Reminder{ReminderTime: t0.Add(time.Hour), Rule: reminder.RuleDaily})

	if _, err := f.reg.Snooze(ctx, r.ID, 240); err != nil {
		t.Fatalf("Snooze error: %v", err)
	}
	got, err := f.reg.Snooze(ctx, r.ID, 5)
	if err != nil {
		t.Fatalf("Snooze error: %v", err)
	}
	if want := t0.Add(5 * time.Minute); !got.NextTriggerTime.Equal(want) {
		t.Fatalf("NextTriggerTime = %s, want %s", got.NextTriggerTime, want)
	}
}

func TestSnoozeRejectsNonPositive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	r, _ := f.reg.Add(context.Background(), reminder.Reminder{ReminderTime: t0.Add(time.Hour)})
	if _, err := f.reg.Snooze(context.Background(), r.ID, 0); !errors.Is(err, registry.ErrInvalidSnooze) {
		t.Fatalf("expected ErrInvalidSnooze, got %v", err)
	}
}

func TestUnknownIDIsNoOp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	ctx := context.Background()

	if _, err := f.reg.Get("nope"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Get: %v", err)
	}
	if _, err := f.reg.Update(ctx, reminder.Reminder{ID: "nope"}); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Update: %v", err)
	}
	if _, err := f.reg.Snooze(ctx, "nope", 5); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Snooze: %v", err)
	}
	if _, err := f.reg.Refresh(ctx, "nope"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Refresh: %v", err)
	}
	if err := f.reg.Delete(ctx, "nope"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Delete: %v", err)
	}
	if arms, cancels := f.rec.Counts(); arms != 0 || cancels != 0 {
		t.Fatalf("notifier touched: arms=%d cancels=%d", arms, cancels)
	}
	if f.store.saves != 0 {
		t.Fatalf("store touched: saves=%d", f.store.saves)
	}
}

func TestAtMostOneArmedPair(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	ctx := context.Background()

	r, _ := f.reg.Add(ctx, reminder.Reminder{Title: "a", ReminderTime: t0.Add(time.Hour), Rule: reminder.RuleHourly})
	steps := []func() error{
		func() error { _, err := f.reg.Snooze(ctx, r.ID, 15); return err },
		func() error {
			_, err := f.reg.Update(ctx, reminder.Reminder{ID: r.ID, Title: "b", ReminderTime: t0.Add(3 * time.Hour), Rule: reminder.RuleWeekly})
			return err
		},
		func() error { _, err := f.reg.Snooze(ctx, r.ID, 1440); return err },
		func() error { _, err := f.reg.Refresh(ctx, r.ID); return err },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if want := []string{engine.BackupID(r.ID), r.ID}; !reflect.DeepEqual(f.rec.IDs(), want) {
			t.Fatalf("step %d: armed = %v, want %v", i, f.rec.IDs(), want)
		}
		cur, _ := f.reg.Get(r.ID)
		p, _ := f.rec.Armed(r.ID)
		if cur.NextTriggerTime == nil || !p.FiresAt.Equal(*cur.NextTriggerTime) {
			t.Fatalf("step %d: NextTriggerTime %v disagrees with armed %s", i, cur.NextTriggerTime, p.FiresAt)
		}
	}
}

func TestUpdateClearsSnoozeOnlyWhenScheduleChanges(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	ctx := context.Background()
	base := t0.Add(2 * time.Hour)

	r, _ := f.reg.Add(ctx, reminder.Reminder{Title: "a", ReminderTime: base, Rule: reminder.RuleDaily})
	_, _ = f.reg.Snooze(ctx, r.ID, 30)

	got, err := f.reg.Update(ctx, reminder.Reminder{ID: r.ID, Title: "renamed", ReminderTime: base, Rule: reminder.RuleDaily, Sound: reminder.SoundChime})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got.SnoozeUntil == nil || got.Title != "renamed" || got.Sound != reminder.SoundChime {
		t.Fatalf("cosmetic edit lost snooze or fields: %+v", got)
	}

	got, err = f.reg.Update(ctx, reminder.Reminder{ID: r.ID, Title: "renamed", ReminderTime: base.Add(time.Hour), Rule: reminder.RuleDaily})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got.SnoozeUntil != nil {
		t.Fatalf("time edit kept snooze %s", got.SnoozeUntil)
	}
	if !got.NextTriggerTime.Equal(base.Add(time.Hour)) {
		t.Fatalf("NextTriggerTime = %s", got.NextTriggerTime)
	}
	if !got.CreatedAt.Equal(t0) {
		t.Fatalf("CreatedAt changed: %s", got.CreatedAt)
	}
}

func TestDeleteIsFinal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	ctx := context.Background()

	a, _ := f.reg.Add(ctx, reminder.Reminder{ReminderTime: t0.Add(time.Hour)})
	b, _ := f.reg.Add(ctx, reminder.Reminder{ReminderTime: t0.Add(2 * time.Hour)})
	if err := f.reg.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := f.reg.Get(a.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	if want := []string{engine.BackupID(b.ID), b.ID}; !reflect.DeepEqual(f.rec.IDs(), want) {
		t.Fatalf("armed = %v, want %v", f.rec.IDs(), want)
	}
	if want := []string{b.ID}; !reflect.DeepEqual(f.store.ids(), want) {
		t.Fatalf("stored = %v, want %v", f.store.ids(), want)
	}
}

func TestListKeepsInsertionOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		if _, err := f.reg.Add(ctx, reminder.Reminder{ID: id, ReminderTime: t0.Add(time.Hour)}); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}
	_, _ = f.reg.Snooze(ctx, "c", 5)

	var got []string
	for _, it := range f.reg.List() {
		got = append(got, it.ID)
	}
	if want := []string{"c", "a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("List order = %v, want %v", got, want)
	}
}

func TestStoreFailureDoesNotRollBack(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	f.store.saveErr = errors.New("disk full")

	got, err := f.reg.Add(context.Background(), reminder.Reminder{ReminderTime: t0.Add(time.Hour)})
	var se *registry.StoreError
	if !errors.As(err, &se) || se.Op != "save" || !errors.Is(err, registry.ErrStore) {
		t.Fatalf("expected *StoreError, got %v", err)
	}
	if _, gerr := f.reg.Get(got.ID); gerr != nil {
		t.Fatalf("in-memory add rolled back: %v", gerr)
	}
	if len(f.rec.IDs()) != 2 {
		t.Fatalf("alerts not armed: %v", f.rec.IDs())
	}
}

func TestNotifierFailureSurfacesButKeepsState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	f.rec.ArmErr = errors.New("no permission")

	got, err := f.reg.Add(context.Background(), reminder.Reminder{ReminderTime: t0.Add(time.Hour)})
	if !errors.Is(err, engine.ErrNotifier) {
		t.Fatalf("expected notifier error, got %v", err)
	}
	if got.NextTriggerTime == nil {
		t.Fatal("NextTriggerTime not set despite arm attempt")
	}
	if want := []string{got.ID}; !reflect.DeepEqual(f.store.ids(), want) {
		t.Fatalf("stored = %v, want %v", f.store.ids(), want)
	}
}

func TestRestoreReschedulesStoredReminders(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	stale := t0.Add(-time.Minute)
	f.store.items = []reminder.Reminder{
		{ID: "past-once", ReminderTime: t0.Add(-time.Hour), Rule: reminder.RuleNone, NextTriggerTime: &stale},
		{ID: "daily", ReminderTime: t0.Add(-25 * time.Hour), Rule: reminder.RuleDaily, SnoozeUntil: &stale},
		{ID: "backup:bad", ReminderTime: t0},
		{ID: "daily", ReminderTime: t0},
	}

	if err := f.reg.Restore(context.Background()); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if f.reg.Len() != 2 {
		t.Fatalf("Len = %d, want 2", f.reg.Len())
	}
	past, _ := f.reg.Get("past-once")
	if past.NextTriggerTime != nil {
		t.Fatalf("past one-time reminder re-armed at %s", past.NextTriggerTime)
	}
	daily, _ := f.reg.Get("daily")
	if daily.SnoozeUntil != nil {
		t.Fatal("stale snooze survived restore")
	}
	if want := t0.Add(23 * time.Hour); daily.NextTriggerTime == nil || !daily.NextTriggerTime.Equal(want) {
		t.Fatalf("daily NextTriggerTime = %v, want %s", daily.NextTriggerTime, want)
	}
	if want := []string{"backup:daily", "daily"}; !reflect.DeepEqual(f.rec.IDs(), want) {
		t.Fatalf("armed = %v, want %v", f.rec.IDs(), want)
	}
	if f.store.saves != 1 {
		t.Fatalf("saves = %d, want 1", f.store.saves)
	}
}

func TestRefreshAllPicksUpNewBackupInterval(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0.Add(-time.Hour))
	ctx := context.Background()
	for _, title := range []string{"standup", "review"} {
		if _, err := f.reg.Add(ctx, reminder.Reminder{Title: title, ReminderTime: t0, Rule: reminder.RuleDaily}); err != nil {
			t.Fatalf("Add error: %v", err)
		}
	}
	saves := f.store.saves

	f.eng.Apply(engine.Config{BackupInterval: 15 * time.Minute, Timezone: "UTC"})
	if err := f.reg.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll error: %v", err)
	}
	for _, id := range []string{"id-1", "id-2"} {
		b, ok := f.rec.Armed(engine.BackupID(id))
		if !ok {
			t.Fatalf("backup of %s not armed", id)
		}
		if b.Interval != 15*time.Minute {
			t.Fatalf("backup of %s interval = %s, want 15m", id, b.Interval)
		}
	}
	if f.store.saves != saves+1 {
		t.Fatalf("saves = %d, want %d", f.store.saves, saves+1)
	}
}

func TestRestoreLoadFailureStartsEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t, t0)
	f.store.loadErr = errors.New("permission denied")

	err := f.reg.Restore(context.Background())
	var se *registry.StoreError
	if !errors.As(err, &se) || se.Op != "load" {
		t.Fatalf("expected load StoreError, got %v", err)
	}
	if f.reg.Len() != 0 {
		t.Fatalf("Len = %d, want 0", f.reg.Len())
	}
}

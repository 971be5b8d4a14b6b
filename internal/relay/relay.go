// Package relay turns notifier events into registry mutations.
package relay

import (
	"context"
	"errors"
	"fmt"

	"remindbot/internal/registry"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Reminders is the part of the registry the relay mutates.
type Reminders interface {
	Snooze(ctx context.Context, id string, minutes int) (reminder.Reminder, error)
	Refresh(ctx context.Context, id string) (reminder.Reminder, error)
}

// Canceler drops alerts that no registry entry owns anymore.
type Canceler interface {
	CancelAll(ctx context.Context, reminderID string) error
}

// SurfaceFunc shows a reminder to the user again.
type SurfaceFunc func(ctx context.Context, r reminder.Reminder)

type Relay struct {
	reminders Reminders
	cancel    Canceler
	surface   SurfaceFunc
	log       logx.Logger
}

func New(reminders Reminders, cancel Canceler, surface SurfaceFunc, log logx.Logger) *Relay {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Relay{reminders: reminders, cancel: cancel, surface: surface, log: log}
}

// Handle applies one event. It must be called from the single dispatch
// goroutine.
//
// Every path ends with the reminder rescheduled (which replaces its backup
// alert) or, when the reminder is gone, with its alerts cancelled.
func (r *Relay) Handle(ctx context.Context, ev Event) error {
	id := ev.ReminderID()
	if id == "" {
		return fmt.Errorf("relay: event %q without alert id", ev.Kind)
	}
	log := r.log.With(logx.String("reminder", id), logx.String("kind", string(ev.Kind)))

	var (
		cur reminder.Reminder
		err error
	)
	switch ev.Kind {
	case KindFired:
		cur, err = r.reminders.Refresh(ctx, id)

	case KindActivated:
		cur, err = r.activate(ctx, id)

	case KindActionChosen:
		act, perr := ParseAction(ev.Action)
		switch {
		case perr != nil:
			log.Warn("unsupported action; rescheduling only", logx.String("action", ev.Action))
			cur, err = r.reminders.Refresh(ctx, id)
			err = errors.Join(perr, err)
		case act.Snooze:
			cur, err = r.reminders.Snooze(ctx, id, act.Minutes)
		default:
			cur, err = r.activate(ctx, id)
		}

	default:
		log.Warn("unknown event kind; cancelling alerts")
		return errors.Join(fmt.Errorf("relay: unknown event kind %q", ev.Kind), r.cancel.CancelAll(ctx, id))
	}

	if errors.Is(err, registry.ErrNotFound) {
		log.Debug("event for unknown reminder; cancelling its alerts")
		return errors.Join(err, r.cancel.CancelAll(ctx, id))
	}
	if err != nil {
		log.Warn("event handled with errors", logx.Err(err))
		return err
	}
	log.Debug("event handled", logx.TimePtr("next", cur.NextTriggerTime))
	return nil
}

func (r *Relay) activate(ctx context.Context, id string) (reminder.Reminder, error) {
	cur, err := r.reminders.Refresh(ctx, id)
	if r.surface != nil && !errors.Is(err, registry.ErrNotFound) {
		r.surface(ctx, cur)
	}
	return cur, err
}

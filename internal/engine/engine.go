package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Config controls trigger computation.
type Config struct {
	// BackupInterval is the repeat interval of backup alerts (default 1h).
	BackupInterval time.Duration
	// Timezone is the IANA zone used for calendar steps; empty means Local.
	Timezone string
}

// Engine is the single authority for computing and arming a reminder's alerts.
//
// It keeps no per-reminder state: everything it needs is on the Reminder and
// in the Notifier. Callers serialize Schedule calls for the same reminder.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location

	notifier Notifier
	log      logx.Logger
}

func New(cfg Config, n Notifier, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{notifier: n, log: log}
	e.Apply(cfg)
	return e
}

// Apply swaps the config. The new backup interval takes effect on the next Schedule.
func (e *Engine) Apply(cfg Config) {
	if cfg.BackupInterval <= 0 {
		cfg.BackupInterval = DefaultBackupInterval
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			e.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	e.mu.Lock()
	e.cfg = cfg
	e.loc = loc
	e.mu.Unlock()
}

func (e *Engine) snapshot() (Config, *time.Location) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.loc
}

// BackupInterval returns the interval currently used for backup alerts.
func (e *Engine) BackupInterval() time.Duration {
	cfg, _ := e.snapshot()
	return cfg.BackupInterval
}

// Schedule recomputes and re-arms r's alerts as of now.
//
// Both alerts are cancelled first, so repeated calls never stack alerts. A
// snooze at or before now is cleared. When the candidate trigger is not after
// now, nothing is armed, r.NextTriggerTime becomes nil and nil is returned.
//
// r is always left consistent with what was requested from the notifier;
// notifier failures are returned joined, wrapped in *NotifierError.
func (e *Engine) Schedule(ctx context.Context, r *reminder.Reminder, now time.Time) (*time.Time, error) {
	if r == nil {
		return nil, nil
	}
	cfg, loc := e.snapshot()
	log := e.log.With(logx.String("reminder", r.ID))

	var errs []error
	if err := e.cancel(ctx, AlertIDs(r.ID)); err != nil {
		errs = append(errs, err)
	}

	if r.SnoozeUntil != nil && !r.SnoozeUntil.After(now) {
		log.Debug("snooze expired; cleared", logx.Time("snooze_until", *r.SnoozeUntil))
		r.SnoozeUntil = nil
	}

	var candidate time.Time
	switch {
	case r.SnoozeUntil != nil:
		candidate = *r.SnoozeUntil
	case r.Rule == reminder.RuleNone || r.Rule == "":
		candidate = r.ReminderTime
	default:
		next, err := reminder.NextOccurrence(r.ReminderTime.In(loc), r.Rule, now)
		if err != nil {
			r.NextTriggerTime = nil
			log.Warn("next occurrence failed; left unarmed", logx.String("rule", string(r.Rule)), logx.Err(err))
			errs = append(errs, err)
			return nil, errors.Join(errs...)
		}
		candidate = next
	}

	if !candidate.After(now) {
		r.NextTriggerTime = nil
		log.Debug("trigger in the past; nothing armed", logx.Time("candidate", candidate))
		return nil, errors.Join(errs...)
	}

	payload := Payload{Title: r.Title, Sound: r.Sound, ReminderID: r.ID, EventTime: r.EventTime}
	primary := Alert{ID: PrimaryID(r.ID), FiresAt: candidate, Payload: payload}
	backup := Alert{ID: BackupID(r.ID), FiresAt: candidate, Repeating: true, Interval: cfg.BackupInterval, Payload: payload}
	for _, a := range []Alert{primary, backup} {
		if err := e.notifier.Arm(ctx, a); err != nil {
			errs = append(errs, &NotifierError{Op: "arm", AlertID: a.ID, Err: err})
		}
	}

	at := candidate
	r.NextTriggerTime = &at
	log.Debug("alerts armed",
		logx.Time("trigger", candidate),
		logx.Bool("snoozed", r.SnoozeUntil != nil),
		logx.Duration("backup_every", cfg.BackupInterval),
	)
	return &at, errors.Join(errs...)
}

// CancelAll cancels the primary and backup alert of a reminder.
func (e *Engine) CancelAll(ctx context.Context, reminderID string) error {
	return e.cancel(ctx, AlertIDs(reminderID))
}

// CancelBackup cancels only the backup alert of a reminder.
func (e *Engine) CancelBackup(ctx context.Context, reminderID string) error {
	return e.cancel(ctx, mapset.NewSet(BackupID(reminderID)))
}

func (e *Engine) cancel(ctx context.Context, ids mapset.Set[string]) error {
	if err := e.notifier.Cancel(ctx, ids); err != nil {
		return &NotifierError{Op: "cancel", AlertID: strings.Join(mapset.Sorted(ids), ","), Err: err}
	}
	return nil
}

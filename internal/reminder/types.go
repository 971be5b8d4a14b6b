package reminder

import (
	"fmt"
	"strings"
	"time"
)

// Rule is the recurrence kind of a reminder.
type Rule string

const (
	RuleNone    Rule = "none"
	RuleHourly  Rule = "hourly"
	RuleDaily   Rule = "daily"
	RuleWeekly  Rule = "weekly"
	RuleMonthly Rule = "monthly"
	RuleYearly  Rule = "yearly"
)

// Rules lists the closed set in display order.
var Rules = []Rule{RuleNone, RuleHourly, RuleDaily, RuleWeekly, RuleMonthly, RuleYearly}

// ParseRule accepts a rule name case-insensitively. The empty string means RuleNone.
func ParseRule(raw string) (Rule, error) {
	s := Rule(strings.ToLower(strings.TrimSpace(raw)))
	if s == "" {
		return RuleNone, nil
	}
	if s.Valid() {
		return s, nil
	}
	return "", fmt.Errorf("unknown recurrence rule %q", raw)
}

func (r Rule) Valid() bool {
	switch r {
	case RuleNone, RuleHourly, RuleDaily, RuleWeekly, RuleMonthly, RuleYearly:
		return true
	}
	return false
}

// Sound identifies the alert sound. The engine never interprets it.
type Sound string

const (
	SoundDefault Sound = "default"
	SoundChime   Sound = "chime"
	SoundBell    Sound = "bell"
	SoundAlarm   Sound = "alarm"
	SoundSilent  Sound = "silent"
)

func ParseSound(raw string) (Sound, error) {
	s := Sound(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case "":
		return SoundDefault, nil
	case SoundDefault, SoundChime, SoundBell, SoundAlarm, SoundSilent:
		return s, nil
	}
	return "", fmt.Errorf("unknown sound %q", raw)
}

// Reminder is one scheduled event reminder.
//
// NextTriggerTime is derived: it is rewritten by every scheduling pass and
// mirrors the instant currently armed for the primary alert (nil = nothing armed).
// SnoozeUntil overrides the recurrence for exactly one firing.
type Reminder struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	EventTime       time.Time  `json:"event_time"`
	ReminderTime    time.Time  `json:"reminder_time"`
	Sound           Sound      `json:"sound"`
	Rule            Rule       `json:"rule"`
	NextTriggerTime *time.Time `json:"next_trigger_time,omitempty"`
	SnoozeUntil     *time.Time `json:"snooze_until,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the nullable instants.
func (r Reminder) Clone() Reminder {
	cp := r
	cp.NextTriggerTime = copyTime(r.NextTriggerTime)
	cp.SnoozeUntil = copyTime(r.SnoozeUntil)
	return cp
}

// Snoozed reports whether a snooze override is still pending at now.
func (r *Reminder) Snoozed(now time.Time) bool {
	return r.SnoozeUntil != nil && r.SnoozeUntil.After(now)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

package relay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"remindbot/internal/engine"
)

// Kind is the type of a notifier event.
type Kind string

const (
	// KindFired: an alert was delivered (primary or backup).
	KindFired Kind = "fired"
	// KindActivated: the user opened the alert without choosing an action.
	KindActivated Kind = "activated"
	// KindActionChosen: the user picked an action on the alert.
	KindActionChosen Kind = "action_chosen"
)

// Event is what the notifier reports back about an alert.
type Event struct {
	Kind    Kind
	AlertID string
	// Action is "default" or "snooze:<minutes>"; only set for KindActionChosen.
	Action string
	At     time.Time
}

// ReminderID maps the event's alert id back to its reminder.
func (e Event) ReminderID() string {
	id, _ := engine.ReminderIDFromAlert(e.AlertID)
	return id
}

const (
	ActionDefault = "default"
	snoozePrefix  = "snooze:"
)

// SnoozeMinutes are the snooze durations offered on an alert.
var SnoozeMinutes = []int{5, 15, 30, 60, 240, 360, 720, 1440}

var allowedSnooze = mapset.NewSet(SnoozeMinutes...)

var ErrUnsupportedAction = errors.New("unsupported alert action")

// Action is a parsed alert action.
type Action struct {
	Snooze  bool
	Minutes int
}

func (a Action) String() string {
	if a.Snooze {
		return SnoozeAction(a.Minutes)
	}
	return ActionDefault
}

// SnoozeAction formats the action string for a snooze of m minutes.
func SnoozeAction(m int) string { return snoozePrefix + strconv.Itoa(m) }

// ParseAction parses "default" or "snooze:<m>" where m is one of SnoozeMinutes.
func ParseAction(raw string) (Action, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || s == ActionDefault {
		return Action{}, nil
	}
	rest, ok := strings.CutPrefix(s, snoozePrefix)
	if !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, raw)
	}
	m, err := strconv.Atoi(rest)
	if err != nil || !allowedSnooze.Contains(m) {
		return Action{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, raw)
	}
	return Action{Snooze: true, Minutes: m}, nil
}

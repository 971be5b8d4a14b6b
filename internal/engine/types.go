package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"remindbot/internal/reminder"
)

// DefaultBackupInterval is the repeat interval of the backup alert.
const DefaultBackupInterval = time.Hour

const backupPrefix = "backup:"

// Payload is what the notifier shows when an alert fires.
type Payload struct {
	Title      string         `json:"title"`
	Sound      reminder.Sound `json:"sound"`
	ReminderID string         `json:"reminder_id"`
	EventTime  time.Time      `json:"event_time"`
}

// Alert is one armed notification.
//
// Repeating alerts fire every Interval, anchored at FiresAt; the first firing
// is FiresAt + Interval (FiresAt itself belongs to the primary).
type Alert struct {
	ID        string
	FiresAt   time.Time
	Repeating bool
	Interval  time.Duration
	Payload   Payload
}

// Notifier arms and cancels alerts. Implementations must treat Arm on an
// already armed id as a replacement and Cancel on unknown ids as a no-op.
type Notifier interface {
	Arm(ctx context.Context, a Alert) error
	Cancel(ctx context.Context, ids mapset.Set[string]) error
}

// PrimaryID returns the alert id of a reminder's primary alert.
func PrimaryID(reminderID string) string { return reminderID }

// BackupID returns the alert id of a reminder's backup alert.
// Reminder ids never carry the prefix, so it cannot collide with a primary id.
func BackupID(reminderID string) string { return backupPrefix + reminderID }

// ReminderIDFromAlert maps any alert id back to its reminder id.
func ReminderIDFromAlert(alertID string) (id string, backup bool) {
	if strings.HasPrefix(alertID, backupPrefix) {
		return strings.TrimPrefix(alertID, backupPrefix), true
	}
	return alertID, false
}

// AlertIDs returns the set of both alert ids of a reminder.
func AlertIDs(reminderID string) mapset.Set[string] {
	return mapset.NewSet(PrimaryID(reminderID), BackupID(reminderID))
}

// ValidReminderID rejects ids that could collide with a derived backup id.
func ValidReminderID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && !strings.HasPrefix(id, backupPrefix)
}

// ErrNotifier is matched by every NotifierError.
var ErrNotifier = errors.New("notifier call failed")

// NotifierError reports a failed Arm or Cancel. The engine never retries;
// in-memory state is updated regardless.
type NotifierError struct {
	Op      string // "arm" | "cancel"
	AlertID string
	Err     error
}

func (e *NotifierError) Error() string {
	return fmt.Sprintf("notifier %s %s: %v", e.Op, e.AlertID, e.Err)
}

func (e *NotifierError) Unwrap() []error { return []error{ErrNotifier, e.Err} }

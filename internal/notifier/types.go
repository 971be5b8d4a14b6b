package notifier

import (
	"time"

	kit "remindbot/internal/transport"
)

// Config controls alert rendering and the async delivery pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// Target is the chat that receives alerts.
	Target kit.ChatTarget
	// Timezone is used to display instants; empty means Local.
	Timezone string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// Event bus types.
const (
	EventArmed     = "alert.armed"
	EventCancelled = "alert.cancelled"
	EventDelivered = "alert.delivered"
	EventFailed    = "alert.failed"
	EventDropped   = "alert.dropped"
)

// AlertEvent is the Data of notifier events on the bus.
// Keep it small; subscribers may log or serialize it.
type AlertEvent struct {
	AlertID  string    `json:"alert_id"`
	FiresAt  time.Time `json:"fires_at,omitempty"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Pending describes one armed alarm.
type Pending struct {
	ID        string        `json:"id"`
	Next      time.Time     `json:"next"`
	Repeating bool          `json:"repeating"`
	Interval  time.Duration `json:"interval,omitempty"`
}

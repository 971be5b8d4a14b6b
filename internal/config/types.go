package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings (e.g. "500ms", "10s", "1h") or whole days ("2d").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TelegramConfig selects the chat that receives alerts and accepts commands.
// With an empty token alerts are only written to the log.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// OwnerUserIDs may change reminders. Empty lets anyone in the chat do so.
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// PollTimeout is the long-poll timeout, default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type SchedulerConfig struct {
	// Timezone used for calendar recurrence and display. Empty means Local.
	Timezone string `json:"timezone,omitempty"`
	// BackupInterval is the repeat interval of the backup alert, default "1h".
	BackupInterval string `json:"backup_interval,omitempty"`
}

// NotifierConfig controls the alert delivery pipeline.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - rate_per_sec: 3
//   - retry_base: "500ms"
//   - retry_max_delay: "10s"
type NotifierConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// StorageConfig selects where reminders are persisted.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/reminders.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks values that would otherwise fail late at runtime.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	duration := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		check(err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	duration("scheduler.backup_interval", cfg.Scheduler.BackupInterval)
	duration("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if strings.TrimSpace(cfg.Telegram.Token) != "" && cfg.Telegram.ChatID == 0 {
		check(errors.New("telegram.chat_id is required when telegram.token is set"))
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			check(errors.New("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0"))
		}
		duration("notifier.retry_base", n.RetryBase)
		duration("notifier.retry_max_delay", n.RetryMaxDelay)
	}

	if s := cfg.Storage; s != nil {
		switch d := strings.ToLower(strings.TrimSpace(s.Driver)); d {
		case "", "none":
		case "file", "json", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				check(fmt.Errorf("storage.path is required when storage.driver=%s", d))
			}
		default:
			check(fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
		duration("storage.busy_timeout", s.BusyTimeout)
	}
	return errors.Join(errs...)
}

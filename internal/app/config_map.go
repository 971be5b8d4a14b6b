package app

import (
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/engine"
	"remindbot/internal/notifier"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	interval, err := config.ParseDurationOrDefault("scheduler.backup_interval", cfg.Scheduler.BackupInterval, engine.DefaultBackupInterval)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{BackupInterval: interval, Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Target:   kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
		RetryMax: 3,
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	out.Workers = n.Workers
	out.QueueSize = n.QueueSize
	out.RatePerSec = n.RatePerSec
	out.RetryMax = n.RetryMax
	out.RetryBase = base
	out.RetryMaxDelay = maxDelay
	return out, nil
}

// mapStorageConfig returns enabled=false when persistence is off.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: poll,
		ChatID:      cfg.Telegram.ChatID,
	}, nil
}

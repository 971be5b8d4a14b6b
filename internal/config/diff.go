package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (the bot token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token)
	if tokenChanged || ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.Int64("telegram.chat_id", nt.ChatID),
			logx.Int("telegram.thread_id", nt.ThreadID),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		)
	}

	if !slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) {
		changed = append(changed, "owners")
		attrs = append(attrs, logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.backup_interval", strings.TrimSpace(newCfg.Scheduler.BackupInterval)),
		)
	}

	// A nil section means runtime defaults.
	var oldN, newN NotifierConfig
	if oldCfg.Notifier != nil {
		oldN = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		newN = *newCfg.Notifier
	}
	if !reflect.DeepEqual(oldN, newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
		)
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

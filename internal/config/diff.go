package config

import (
	"strings"

	logx "mailcadence/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ and returns log
// fields describing the new values. Secrets are reported only as "_set"
// booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)
	mark := func(section string, fs ...logx.Field) {
		changed = append(changed, section)
		fields = append(fields, fs...)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}
	if oldCfg.Telegram != newCfg.Telegram {
		mark("telegram",
			logx.Bool("telegram.token_set", isSet(newCfg.Telegram.Token)),
			logx.Int64("telegram.alert_chat_id", newCfg.Telegram.AlertChatID),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		mark("scheduler",
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage",
			logx.String("storage.driver", newCfg.StorageDriver()),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
		)
	}
	if oldCfg.Mail != newCfg.Mail {
		mark("mail",
			logx.String("mail.provider", newCfg.Mail.Provider),
			logx.Bool("mail.client_secret_set", isSet(newCfg.Mail.ClientSecret)),
			logx.Int("mail.rate_per_sec", newCfg.Mail.RatePerSec),
		)
	}
	if oldCfg.History != newCfg.History {
		mark("history",
			logx.Bool("history.enabled", newCfg.History.Enabled),
			logx.String("history.retention", newCfg.History.Retention),
			logx.String("history.prune_schedule", newCfg.History.PruneSchedule),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		mark("notifier",
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Int64("notifier.chat_id", newCfg.NotifierChatID()),
			logx.String("notifier.dedup_window", newCfg.Notifier.DedupWindow),
		)
	}
	if oldCfg.API != newCfg.API {
		mark("api",
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
			logx.Bool("api.token_set", isSet(newCfg.API.Token)),
		)
	}
	return changed, fields
}

// RestartRequired reports sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging", "api":
		default:
			out = append(out, s)
		}
	}
	return out
}

func isSet(s string) bool { return strings.TrimSpace(s) != "" }

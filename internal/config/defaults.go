package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultStorageDriver = "sqlite"
	DefaultStoragePath   = "./mailcadence.db"
	DefaultMailProvider  = "gmail"
	DefaultAPIAddr       = "127.0.0.1:8080"
	DefaultPruneSchedule = "@daily"
	DefaultRetention     = 30 * 24 * time.Hour
	DefaultSendTimeout   = 60 * time.Second
	DefaultDedupWindow   = 6 * time.Hour
	DefaultAttachmentDir = "./attachments"
)

// StorageDriver returns the configured driver or the default.
func (c *Config) StorageDriver() string {
	if d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d != "" {
		return d
	}
	return DefaultStorageDriver
}

// AttachmentDir returns mail.attachments_dir or the default. Every job
// attachment must live under it.
func (c *Config) AttachmentDir() string {
	if d := strings.TrimSpace(c.Mail.AttachmentsDir); d != "" {
		return d
	}
	return DefaultAttachmentDir
}

// NotifierChatID returns notifier.chat_id, falling back to
// telegram.alert_chat_id.
func (c *Config) NotifierChatID() int64 {
	if c.Notifier.ChatID != 0 {
		return c.Notifier.ChatID
	}
	return c.Telegram.AlertChatID
}

// Location resolves scheduler.timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// Validate checks the fields whose mistakes would only show up later at
// runtime. It is used at startup and as the reload validator.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	switch c.StorageDriver() {
	case "sqlite", "file":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Mail.Provider)) {
	case "", "gmail":
		if c.Scheduler.Enabled && (strings.TrimSpace(c.Mail.ClientID) == "" || strings.TrimSpace(c.Mail.ClientSecret) == "") {
			errs = append(errs, errors.New("mail: gmail provider requires client_id and client_secret"))
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("mail.provider: unknown provider %q", c.Mail.Provider))
	}
	if c.Mail.RatePerSec < 0 {
		errs = append(errs, errors.New("mail.rate_per_sec must be >= 0"))
	}
	if _, err := ParseDurationField("mail.send_timeout", c.Mail.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("history.retention", c.History.Retention); err != nil {
		errs = append(errs, err)
	}
	if spec := strings.TrimSpace(c.History.PruneSchedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("history.prune_schedule: %w", err))
		}
	}
	for path, raw := range map[string]string{
		"api.read_timeout":  c.API.ReadTimeout,
		"api.write_timeout": c.API.WriteTimeout,
		"api.idle_timeout":  c.API.IdleTimeout,
		"telegram.timeout":  c.Telegram.Timeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Notifier.Enabled && (strings.TrimSpace(c.Telegram.Token) == "" || c.NotifierChatID() == 0) {
		errs = append(errs, errors.New("notifier: telegram.token and a chat id are required"))
	}
	if c.Notifier.RatePerSec < 0 || c.Notifier.RetryMax < 0 {
		errs = append(errs, errors.New("notifier.rate_per_sec and notifier.retry_max must be >= 0"))
	}
	if _, err := ParseDurationField("notifier.dedup_window", c.Notifier.DedupWindow); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Alerts.Enabled && (strings.TrimSpace(c.Telegram.Token) == "" || c.Telegram.AlertChatID == 0) {
		errs = append(errs, errors.New("logging.alerts: telegram.token and telegram.alert_chat_id are required"))
	}
	return errors.Join(errs...)
}

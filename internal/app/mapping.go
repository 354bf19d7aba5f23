package app

import (
	"strings"
	"time"

	"mailcadence/internal/api"
	"mailcadence/internal/config"
	"mailcadence/internal/mail"
	"mailcadence/internal/notifier"
	"mailcadence/internal/storage"
	kit "mailcadence/internal/transport"
	"mailcadence/internal/transport/telegram"
	logx "mailcadence/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = config.DefaultStoragePath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: cfg.StorageDriver(), Path: path, BusyTimeout: busy, Location: loc}, nil
}

// OpenStore opens the store described by cfg. The CLI uses it for offline
// job commands.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log.With(logx.String("comp", "storage")))
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			ChatID:     cfg.Telegram.AlertChatID,
			ThreadID:   cfg.Logging.Alerts.ThreadID,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

func mapAPIConfig(cfg *config.Config) (api.Config, error) {
	out := api.Config{
		Enabled:       cfg.API.Enabled,
		Addr:          strings.TrimSpace(cfg.API.Addr),
		Token:         strings.TrimSpace(cfg.API.Token),
		AllowInsecure: cfg.API.AllowInsecure,
		Pprof:         cfg.API.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("api.read_timeout", cfg.API.ReadTimeout, 10*time.Second); err != nil {
		return api.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("api.write_timeout", cfg.API.WriteTimeout, 90*time.Second); err != nil {
		return api.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("api.idle_timeout", cfg.API.IdleTimeout, 60*time.Second); err != nil {
		return api.Config{}, err
	}
	return out, nil
}

// newAlertSender returns nil when no telegram token is configured or the bot
// cannot be created; alerts are optional.
func newAlertSender(cfg *config.Config, boot logx.Logger) kit.Sender {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil
	}
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		boot.Warn("telegram alerts disabled", logx.Err(err))
		return nil
	}
	s, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, Timeout: timeout}, boot)
	if err != nil {
		boot.Warn("telegram alerts disabled", logx.Err(err))
		return nil
	}
	return s
}

// newTransport builds the delivery chain: provider, attachment dir, then the
// shared rate limit.
func newTransport(cfg *config.Config, log logx.Logger) mail.Transport {
	var t mail.Transport
	switch strings.ToLower(strings.TrimSpace(cfg.Mail.Provider)) {
	case "log":
		t = mail.NewLogTransport(log)
	default:
		t = mail.NewGmailTransport(mail.GmailConfig{
			ClientID:     cfg.Mail.ClientID,
			ClientSecret: cfg.Mail.ClientSecret,
		}, log)
	}
	t = mail.WithAttachmentDir(t, cfg.AttachmentDir())
	return mail.RateLimited(t, mail.NewLimiter(cfg.Mail.RatePerSec))
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	window, err := config.ParseDurationOrDefault("notifier.dedup_window", cfg.Notifier.DedupWindow, config.DefaultDedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:     cfg.Notifier.Enabled,
		Target:      kit.ChatTarget{ChatID: cfg.NotifierChatID(), ThreadID: cfg.Notifier.ThreadID},
		RatePerSec:  cfg.Notifier.RatePerSec,
		RetryMax:    cfg.Notifier.RetryMax,
		DedupWindow: window,
	}, nil
}

package config

// Config is the on-disk configuration. Unknown keys are rejected at parse
// time so typos surface on reload instead of being silently ignored.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Mail      MailConfig      `json:"mail"`
	History   HistoryConfig   `json:"history,omitempty"`
	Notifier  NotifierConfig  `json:"notifier,omitempty"`
	API       APIConfig       `json:"api,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards warnings and errors to telegram.alert_chat_id.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// TelegramConfig is only used for operator alerts; the bot never polls.
type TelegramConfig struct {
	Token       string `json:"token"`
	AlertChatID int64  `json:"alert_chat_id"`
	// Timeout is a Go duration string (e.g. "10s").
	Timeout string `json:"timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone used to interpret and display start times (IANA name).
	// Empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig selects the job store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./mailcadence.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MailConfig controls delivery. Provider "gmail" sends through the Gmail API
// using each job's OAuth token; "log" only logs messages.
type MailConfig struct {
	Provider       string `json:"provider"`
	ClientID       string `json:"client_id,omitempty"`
	ClientSecret   string `json:"client_secret,omitempty"` // do not log
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	SendTimeout    string `json:"send_timeout,omitempty"`
	AttachmentsDir string `json:"attachments_dir,omitempty"`
}

// HistoryConfig controls the firing log kept in the store.
type HistoryConfig struct {
	Enabled bool `json:"enabled"`
	// Retention is a Go duration string; firings older than this are pruned.
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron spec (robfig/cron syntax, descriptors allowed).
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// NotifierConfig sends a telegram message when a firing fails. ChatID
// defaults to telegram.alert_chat_id.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	// DedupWindow is a Go duration string; repeats of the same failure for
	// the same job inside it are suppressed. Default 6h.
	DedupWindow string `json:"dedup_window,omitempty"`
}

// APIConfig controls the HTTP management API.
//
// Prefer a loopback addr. A non-loopback bind requires a token unless
// allow_insecure is set.
type APIConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

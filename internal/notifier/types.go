package notifier

import (
	"time"

	kit "mailcadence/internal/transport"
)

// Config controls the notification pipeline.
type Config struct {
	Enabled         bool
	Target          kit.ChatTarget
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

type HistoryItem struct {
	At   time.Time
	Text string
}

package eventbus

import "time"

// Runner lifecycle and firing outcome event types.
const (
	RunnerStarted    = "runner.started"
	RunnerTerminated = "runner.terminated"
	RunnerCancelled  = "runner.cancelled"

	FiringSent         = "firing.sent"
	FiringFailed       = "firing.failed"
	FiringNoCredential = "firing.no_credential"
)

// FiringEvent is the Data of every firing.* event.
type FiringEvent struct {
	JobID        string
	Owner        string
	Seq          int
	At           time.Time
	Duration     time.Duration
	Reason       string
	TokenExpired bool
}

// RunnerEvent is the Data of every runner.* event.
type RunnerEvent struct {
	JobID    string
	Delay    time.Duration
	Interval time.Duration
	Firings  int
}

// IsFiring reports whether t is one of the firing.* types.
func IsFiring(t string) bool {
	switch t {
	case FiringSent, FiringFailed, FiringNoCredential:
		return true
	}
	return false
}

package storage

import (
	"context"
	"errors"
	"time"

	"mailcadence/internal/job"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrClosed   = errors.New("store closed")
)

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Location resolves date-only start_at values; nil means time.Local.
	Location *time.Location
}

// Firing outcomes, mirroring the eventbus firing.* types.
const (
	OutcomeSent         = "sent"
	OutcomeFailed       = "failed"
	OutcomeNoCredential = "no_credential"
)

// Firing is one recorded delivery attempt.
type Firing struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	Owner      string    `json:"owner,omitempty"`
	Seq        int       `json:"seq"`
	Outcome    string    `json:"outcome"`
	At         time.Time `json:"at"`
	DurationMS int64     `json:"duration_ms"`
	Reason     string    `json:"reason,omitempty"`
}

// Store is the persistence API used by the launcher, the API and the CLI.
type Store interface {
	// ListJobs returns jobs ordered by creation; owner "" means every owner.
	ListJobs(ctx context.Context, owner string) ([]job.Job, error)
	GetJob(ctx context.Context, id string) (job.Job, error)
	// PutJob inserts or replaces a job by id.
	PutJob(ctx context.Context, j job.Job) error
	DeleteJob(ctx context.Context, id string) error

	AppendFiring(ctx context.Context, f Firing) error
	// ListFirings returns the newest firings first; jobID "" means all jobs.
	ListFirings(ctx context.Context, jobID string, limit int) ([]Firing, error)
	// PruneFirings deletes firings recorded before cutoff.
	PruneFirings(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

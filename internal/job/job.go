// Package job defines the scheduled email job record shared by the store,
// the scheduler and the presentation layer.
package job

import (
	"time"

	"mailcadence/internal/cadence"
)

// Job is a persisted request to send an email on a one-time or recurring
// cadence. Runners hold a value copy taken when they start.
type Job struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	Recipients     []string  `json:"recipients"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	ScheduleOption string    `json:"schedule_option,omitempty"`
	StartAt        time.Time `json:"start_at"`
	Attachments    []string  `json:"attachments,omitempty"`
	Token          string    `json:"token,omitempty"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Interval returns the repeat interval, or false for one-time jobs.
func (j Job) Interval() (time.Duration, bool) {
	return cadence.IntervalFor(j.ScheduleOption)
}

// Plan computes the job's scheduling decision at now.
func (j Job) Plan(now time.Time) cadence.Plan {
	return cadence.ComputeFor(j.StartAt, j.ScheduleOption, now)
}

// Grid returns the job's cadence grid.
func (j Job) Grid() cadence.GridSchedule {
	return cadence.NewGridSchedule(j.StartAt, j.ScheduleOption)
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (j Job) Clone() Job {
	cp := j
	cp.Recipients = append([]string(nil), j.Recipients...)
	cp.Attachments = append([]string(nil), j.Attachments...)
	return cp
}

// Redacted returns a copy with credential material removed.
func (j Job) Redacted() Job {
	cp := j.Clone()
	cp.Token = ""
	cp.RefreshToken = ""
	return cp
}

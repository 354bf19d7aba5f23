package cadence

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// GridSchedule is the cadence grid startAt + n*interval expressed as a
// cron.Schedule, so fire times can be previewed with the same tooling as cron
// specs. A zero Interval describes a one-time job.
type GridSchedule struct {
	StartAt  time.Time
	Interval time.Duration
}

var _ cron.Schedule = GridSchedule{}

// NewGridSchedule builds the grid for a job's start time and schedule option.
func NewGridSchedule(startAt time.Time, option string) GridSchedule {
	interval, _ := IntervalFor(option)
	return GridSchedule{StartAt: startAt, Interval: interval}
}

// Next returns the first grid point strictly after t, or the zero time when
// there is none (a one-time job whose moment has passed).
func (g GridSchedule) Next(t time.Time) time.Time {
	if t.Before(g.StartAt) {
		return g.StartAt
	}
	if g.Interval <= 0 {
		return time.Time{}
	}
	start := closeIn(g.StartAt, g.Interval, t)
	k := t.Sub(start)/g.Interval + 1
	return start.Add(k * g.Interval)
}

// Upcoming lists up to n fire times of sched after from.
func Upcoming(sched cron.Schedule, from time.Time, n int) []time.Time {
	if sched == nil || n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

// FormatUpcoming renders fire times as a short comma-separated list.
func FormatUpcoming(times []time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	for i, t := range times {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.In(loc).Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

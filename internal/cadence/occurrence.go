package cadence

import "time"

// Plan is the scheduling decision for a single job at a given instant.
type Plan struct {
	// ShouldRun is false for one-time jobs whose moment has passed.
	ShouldRun bool
	// Delay until the next firing. Never negative when ShouldRun is true.
	Delay time.Duration
	// Interval between firings; zero for one-time jobs.
	Interval time.Duration
}

// Recurring reports whether the plan repeats after its first firing.
func (p Plan) Recurring() bool { return p.Interval > 0 }

// NextFire returns the absolute time of the next firing relative to now.
func (p Plan) NextFire(now time.Time) time.Time { return now.Add(p.Delay) }

// Compute decides whether and when a job fires.
//
// A first occurrence still in the future fires after startAt-now. A past
// one-time job is dropped. A past recurring job lands on the next point of
// the grid startAt + n*interval, so a daily 09:00 job stays a 09:00 job
// across restarts.
func Compute(startAt time.Time, interval time.Duration, now time.Time) Plan {
	raw := startAt.Sub(now)
	if raw >= 0 {
		return Plan{ShouldRun: true, Delay: raw, Interval: positive(interval)}
	}
	if interval <= 0 {
		return Plan{}
	}
	startAt = closeIn(startAt, interval, now)
	raw = startAt.Sub(now)
	if raw >= 0 {
		return Plan{ShouldRun: true, Delay: raw, Interval: interval}
	}
	missed := (-raw)/interval + 1
	delay := raw + missed*interval
	if delay < 0 {
		return Plan{}
	}
	return Plan{ShouldRun: true, Delay: delay, Interval: interval}
}

// ComputeFor is Compute with the interval looked up from a schedule option.
func ComputeFor(startAt time.Time, option string, now time.Time) Plan {
	interval, _ := IntervalFor(option)
	return Compute(startAt, interval, now)
}

// maxSpan keeps t.Sub(startAt) well inside the time.Duration range, which
// saturates at about 292 years.
const maxSpan = 100 * 365 * 24 * time.Hour

// closeIn moves startAt forward by whole intervals until it is no more than
// maxSpan before t. The grid is unchanged; only the reference point moves.
func closeIn(startAt time.Time, interval time.Duration, t time.Time) time.Time {
	if interval <= 0 || interval > maxSpan {
		return startAt
	}
	step := (maxSpan / interval) * interval
	for t.Sub(startAt) > maxSpan {
		startAt = startAt.Add(step)
	}
	return startAt
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

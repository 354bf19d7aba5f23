package cadence

import "time"

// Schedule options accepted by the job store.
const (
	Hourly       = "hourly"
	Daily        = "daily"
	Weekly       = "weekly"
	Monthly      = "monthly"
	ThreeMonthly = "three_monthly"
	Yearly       = "yearly"
)

// Fixed intervals; no calendar awareness (a "month" is 30.42 days).
var intervals = map[string]time.Duration{
	Hourly:       3600 * time.Second,
	Daily:        86400 * time.Second,
	Weekly:       604800 * time.Second,
	Monthly:      2628000 * time.Second,
	ThreeMonthly: 7884000 * time.Second,
	Yearly:       31536000 * time.Second,
}

// Options lists the recognized schedule options in ascending interval order.
func Options() []string {
	return []string{Hourly, Daily, Weekly, Monthly, ThreeMonthly, Yearly}
}

// IntervalFor returns the repeat interval for option.
// Unknown or empty options report false, which means "one-time".
func IntervalFor(option string) (time.Duration, bool) {
	d, ok := intervals[option]
	return d, ok
}

// IsRecurring reports whether option maps to a repeat interval.
func IsRecurring(option string) bool {
	_, ok := intervals[option]
	return ok
}

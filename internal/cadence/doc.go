// Package cadence maps schedule options to repeat intervals and computes when
// a job should next fire.
//
// Everything here is pure: no goroutines, no clocks. Callers pass "now" in, so
// the same (startAt, option, now) triple always yields the same Plan whether the
// job was just created or reloaded after a restart.
package cadence

package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"mailcadence/internal/cadence"
)

var (
	ErrNoRecipients      = errors.New("at least one recipient is required")
	ErrInvalidSchedule   = errors.New("invalid schedule option")
	ErrMissingStartAt    = errors.New("start time is required")
	ErrInvalidRecipients = errors.New("invalid email address")
)

var (
	reEmail     = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	reSeparator = regexp.MustCompile(`[\s,;]+`)
)

// ParseRecipients accepts either a Tagify JSON array ([{"value":"a@b.c"}])
// or free text separated by whitespace, commas or semicolons. Duplicates are
// dropped; order is kept.
func ParseRecipients(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := []string{raw}
	if strings.HasPrefix(raw, "[") {
		var tags []tagifyEntry
		if err := json.Unmarshal([]byte(raw), &tags); err == nil && allTagged(tags) {
			parts = parts[:0]
			for _, t := range tags {
				parts = append(parts, *t.Value)
			}
		}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, p := range parts {
		for _, addr := range reSeparator.Split(p, -1) {
			if addr == "" {
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// tagifyEntry is one element of the Tagify widget's JSON value.
type tagifyEntry struct {
	Value *string `json:"value"`
}

func allTagged(tags []tagifyEntry) bool {
	if len(tags) == 0 {
		return false
	}
	for _, t := range tags {
		if t.Value == nil {
			return false
		}
	}
	return true
}

// ValidateRecipients checks every address has a plausible shape.
func ValidateRecipients(addrs []string) error {
	if len(addrs) == 0 {
		return ErrNoRecipients
	}
	for _, a := range addrs {
		if !reEmail.MatchString(a) {
			return fmt.Errorf("%w: %q", ErrInvalidRecipients, a)
		}
	}
	return nil
}

// ValidateScheduleOption accepts an empty option (one-time) or one of the
// recognized intervals. The scheduler itself treats unknown options as
// one-time; this check only guards user input.
func ValidateScheduleOption(option string) error {
	if option != "" && !cadence.IsRecurring(option) {
		return fmt.Errorf("%w: %q", ErrInvalidSchedule, option)
	}
	return nil
}

// Validate checks a job definition submitted by a user.
func (j Job) Validate() error {
	if err := ValidateScheduleOption(j.ScheduleOption); err != nil {
		return err
	}
	if err := ValidateRecipients(j.Recipients); err != nil {
		return err
	}
	if j.StartAt.IsZero() {
		return ErrMissingStartAt
	}
	return nil
}

// ParseStartAt parses the "YYYY-MM-DD HH:MM" form used by the job form, or a
// bare date (midnight), in loc.
func ParseStartAt(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		return time.Time{}, ErrMissingStartAt
	}
	if clock == "" {
		t, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid start date %q: %w", date, err)
		}
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start %q %q: %w", date, clock, err)
	}
	return t, nil
}

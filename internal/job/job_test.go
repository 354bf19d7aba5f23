package job

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParseRecipients(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "  ", want: nil},
		{name: "single", raw: "a@example.com", want: []string{"a@example.com"}},
		{name: "mixed separators", raw: "a@example.com, b@example.com;c@example.com\nd@example.com", want: []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"}},
		{name: "duplicates", raw: "a@example.com a@example.com,b@example.com", want: []string{"a@example.com", "b@example.com"}},
		{name: "tagify", raw: `[{"value":"a@example.com"},{"value":"b@example.com"}]`, want: []string{"a@example.com", "b@example.com"}},
		{name: "json without value keys", raw: `[{"v":"a@example.com"}]`, want: []string{`[{"v":"a@example.com"}]`}},
		{name: "broken json", raw: `[a@example.com`, want: []string{"[a@example.com"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRecipients(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseRecipients(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ok := Job{
		Recipients:     []string{"a@example.com"},
		ScheduleOption: "daily",
		StartAt:        time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	once := ok.Clone()
	once.ScheduleOption = ""
	if err := once.Validate(); err != nil {
		t.Fatalf("one-time Validate() = %v", err)
	}

	bad := ok.Clone()
	bad.ScheduleOption = "fortnightly"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("bad option: err = %v", err)
	}

	bad = ok.Clone()
	bad.Recipients = []string{"not-an-address"}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidRecipients) {
		t.Fatalf("bad recipient: err = %v", err)
	}

	bad = ok.Clone()
	bad.Recipients = nil
	if err := bad.Validate(); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("no recipients: err = %v", err)
	}

	bad = ok.Clone()
	bad.StartAt = time.Time{}
	if err := bad.Validate(); !errors.Is(err, ErrMissingStartAt) {
		t.Fatalf("no start: err = %v", err)
	}
}

func TestParseStartAt(t *testing.T) {
	t.Parallel()
	got, err := ParseStartAt("2026-10-20", "09:15", time.UTC)
	if err != nil {
		t.Fatalf("ParseStartAt error: %v", err)
	}
	if want := time.Date(2026, 10, 20, 9, 15, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	got, err = ParseStartAt("2026-10-20", "", time.UTC)
	if err != nil || got.Hour() != 0 {
		t.Fatalf("date only: %v, %v", got, err)
	}
	if _, err := ParseStartAt("2026-10-20", "25:00", time.UTC); err == nil {
		t.Fatal("expected error for invalid hour")
	}
	if _, err := ParseStartAt("", "", time.UTC); !errors.Is(err, ErrMissingStartAt) {
		t.Fatalf("empty date: err = %v", err)
	}
}

func TestCloneAndRedacted(t *testing.T) {
	t.Parallel()
	j := Job{Recipients: []string{"a@example.com"}, Token: "tok", RefreshToken: "ref"}
	cp := j.Clone()
	cp.Recipients[0] = "changed@example.com"
	if j.Recipients[0] != "a@example.com" {
		t.Fatal("Clone shares the recipients slice")
	}
	r := j.Redacted()
	if r.Token != "" || r.RefreshToken != "" || j.Token != "tok" {
		t.Fatalf("Redacted = %+v, original = %+v", r, j)
	}
}

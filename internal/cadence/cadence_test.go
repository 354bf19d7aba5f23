package cadence

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestIntervalFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		option string
		want   time.Duration
		ok     bool
	}{
		{option: "hourly", want: 3600 * time.Second, ok: true},
		{option: "daily", want: 86400 * time.Second, ok: true},
		{option: "weekly", want: 604800 * time.Second, ok: true},
		{option: "monthly", want: 2628000 * time.Second, ok: true},
		{option: "three_monthly", want: 7884000 * time.Second, ok: true},
		{option: "yearly", want: 31536000 * time.Second, ok: true},
		{option: ""},
		{option: "Daily"},
		{option: "fortnightly"},
		{option: " daily"},
	}
	for _, tt := range tests {
		got, ok := IntervalFor(tt.option)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("IntervalFor(%q) = (%v, %v), want (%v, %v)", tt.option, got, ok, tt.want, tt.ok)
		}
		if IsRecurring(tt.option) != tt.ok {
			t.Fatalf("IsRecurring(%q) = %v, want %v", tt.option, !tt.ok, tt.ok)
		}
	}
	if len(Options()) != 6 {
		t.Fatalf("Options() = %v, want 6 entries", Options())
	}
}

func TestComputeFutureStart(t *testing.T) {
	t.Parallel()
	for _, opt := range append(Options(), "") {
		start := testNow.Add(10*time.Minute + 3*time.Second)
		p := ComputeFor(start, opt, testNow)
		if !p.ShouldRun {
			t.Fatalf("%q: ShouldRun = false for future start", opt)
		}
		if p.Delay != start.Sub(testNow) {
			t.Fatalf("%q: Delay = %v, want %v", opt, p.Delay, start.Sub(testNow))
		}
		if p.Recurring() != IsRecurring(opt) {
			t.Fatalf("%q: Recurring = %v", opt, p.Recurring())
		}
	}
}

func TestComputeStartExactlyNow(t *testing.T) {
	t.Parallel()
	p := ComputeFor(testNow, "", testNow)
	if !p.ShouldRun || p.Delay != 0 {
		t.Fatalf("plan = %+v, want immediate run", p)
	}
}

func TestComputeOneTimePastIsDropped(t *testing.T) {
	t.Parallel()
	for _, opt := range []string{"", "never", "DAILY"} {
		p := ComputeFor(testNow.Add(-48*time.Hour), opt, testNow)
		if p.ShouldRun {
			t.Fatalf("%q: ShouldRun = true for past one-time job", opt)
		}
	}
	if p := ComputeFor(testNow.Add(-time.Nanosecond), "", testNow); p.ShouldRun {
		t.Fatal("one-time job 1ns in the past must not run")
	}
}

func TestComputeRecurringLandsOnGrid(t *testing.T) {
	t.Parallel()
	remainders := []time.Duration{0, time.Second, 17 * time.Minute, 59*time.Minute + 59*time.Second}
	for _, opt := range Options() {
		interval, _ := IntervalFor(opt)
		for k := 0; k < 4; k++ {
			for _, r := range remainders {
				if r >= interval {
					continue
				}
				start := testNow.Add(-(time.Duration(k)*interval + r))
				if start.Equal(testNow) {
					continue
				}
				p := ComputeFor(start, opt, testNow)
				if !p.ShouldRun {
					t.Fatalf("%s k=%d r=%v: ShouldRun = false", opt, k, r)
				}
				want := interval - r
				if p.Delay != want {
					t.Fatalf("%s k=%d r=%v: Delay = %v, want %v", opt, k, r, p.Delay, want)
				}
				next := p.NextFire(testNow)
				if off := next.Sub(start) % interval; off != 0 {
					t.Fatalf("%s k=%d r=%v: next fire %v is off-grid by %v", opt, k, r, next, off)
				}
				if p.Interval != interval {
					t.Fatalf("%s: Interval = %v, want %v", opt, p.Interval, interval)
				}
			}
		}
	}
}

func TestComputeDailyFiftyHoursAgo(t *testing.T) {
	t.Parallel()
	start := testNow.Add(-50 * time.Hour)
	p := ComputeFor(start, Daily, testNow)
	if !p.ShouldRun {
		t.Fatal("ShouldRun = false")
	}
	next := p.NextFire(testNow)
	if want := start.Add(3 * 86400 * time.Second); !next.Equal(want) {
		t.Fatalf("next fire = %v, want %v", next, want)
	}
	if !next.After(testNow) || next.After(testNow.Add(24*time.Hour)) {
		t.Fatalf("next fire %v not within (now, now+24h]", next)
	}
	if p.Delay != 22*time.Hour {
		t.Fatalf("Delay = %v, want 22h", p.Delay)
	}
}

func TestComputeHourlyTenMinutesAhead(t *testing.T) {
	t.Parallel()
	p := ComputeFor(testNow.Add(10*time.Minute), Hourly, testNow)
	if !p.ShouldRun || p.Delay != 600*time.Second || p.Interval != 3600*time.Second {
		t.Fatalf("plan = %+v", p)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	t.Parallel()
	start := testNow.Add(-1000 * time.Hour)
	first := ComputeFor(start, Weekly, testNow)
	for i := 0; i < 5; i++ {
		if got := ComputeFor(start, Weekly, testNow); got != first {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
}

func TestGridScheduleNext(t *testing.T) {
	t.Parallel()
	start := testNow.Add(-50 * time.Hour)
	g := NewGridSchedule(start, Daily)

	if got := g.Next(start.Add(-time.Second)); !got.Equal(start) {
		t.Fatalf("Next(before start) = %v, want %v", got, start)
	}
	if got := g.Next(start); !got.Equal(start.Add(24 * time.Hour)) {
		t.Fatalf("Next(start) = %v, want start+24h", got)
	}
	// The grid and the occurrence calculator must agree.
	p := ComputeFor(start, Daily, testNow)
	if got := g.Next(testNow); !got.Equal(p.NextFire(testNow)) {
		t.Fatalf("grid Next = %v, plan NextFire = %v", got, p.NextFire(testNow))
	}

	once := NewGridSchedule(testNow.Add(time.Hour), "")
	if got := once.Next(testNow); !got.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("one-time Next before start = %v", got)
	}
	if got := once.Next(testNow.Add(2 * time.Hour)); !got.IsZero() {
		t.Fatalf("one-time Next after start = %v, want zero", got)
	}
}

func TestComputeCenturiesOldStart(t *testing.T) {
	t.Parallel()
	start := time.Date(1700, 3, 14, 9, 0, 0, 0, time.UTC)
	p := ComputeFor(start, Daily, testNow)
	if !p.ShouldRun {
		t.Fatal("ShouldRun = false")
	}
	if p.Delay != 23*time.Hour+30*time.Minute {
		t.Fatalf("Delay = %v, want 23h30m", p.Delay)
	}
	if got, want := p.NextFire(testNow), time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next fire = %v, want %v", got, want)
	}

	g := NewGridSchedule(start, Daily)
	if got := g.Next(testNow); !got.Equal(p.NextFire(testNow)) {
		t.Fatalf("grid Next = %v, plan NextFire = %v", got, p.NextFire(testNow))
	}

	// Year one is far past any single time.Duration.
	ancient := time.Date(1, 1, 1, 9, 30, 0, 0, time.UTC)
	p = ComputeFor(ancient, Hourly, testNow)
	if !p.ShouldRun || p.Delay != time.Hour {
		t.Fatalf("plan = %+v, want 1h delay", p)
	}
	if got := NewGridSchedule(ancient, Hourly).Next(testNow); !got.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("grid Next = %v", got)
	}
}

func TestUpcoming(t *testing.T) {
	t.Parallel()
	g := NewGridSchedule(testNow.Add(-90*time.Minute), Hourly)
	got := Upcoming(g, testNow, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if want := testNow.Add(30 * time.Minute); !got[0].Equal(want) {
		t.Fatalf("first = %v, want %v", got[0], want)
	}
	for i := 1; i < len(got); i++ {
		if d := got[i].Sub(got[i-1]); d != time.Hour {
			t.Fatalf("gap %d = %v, want 1h", i, d)
		}
	}

	once := Upcoming(NewGridSchedule(testNow.Add(time.Minute), ""), testNow, 5)
	if len(once) != 1 {
		t.Fatalf("one-time upcoming = %v, want a single entry", once)
	}
	if s := FormatUpcoming(once, time.UTC); s != "2026-03-14 09:31:00" {
		t.Fatalf("FormatUpcoming = %q", s)
	}
}

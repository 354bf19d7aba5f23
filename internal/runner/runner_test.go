package runner

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"mailcadence/internal/cadence"
	"mailcadence/internal/eventbus"
	"mailcadence/internal/job"
	"mailcadence/internal/mail"
	"mailcadence/internal/runner/clocktest"
)

var t0 = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

type sendRecord struct {
	at    time.Time
	creds mail.Credentials
	msg   mail.Message
}

// fakeTransport records sends and optionally advances the clock to model
// slow delivery.
type fakeTransport struct {
	clock *clocktest.Fake
	took  time.Duration
	err   error

	mu    sync.Mutex
	sends []sendRecord
}

func (f *fakeTransport) Send(_ context.Context, creds mail.Credentials, msg mail.Message) error {
	f.mu.Lock()
	f.sends = append(f.sends, sendRecord{at: f.clock.Now(), creds: creds, msg: msg})
	f.mu.Unlock()
	f.clock.Advance(f.took)
	return f.err
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func testJob(option string, startAt time.Time) job.Job {
	return job.Job{
		ID:             "job-1",
		Owner:          "alice@example.com",
		Recipients:     []string{"bob@example.com"},
		Subject:        "Weekly {{YYYY-MM-DD}}",
		Body:           "hi",
		ScheduleOption: option,
		StartAt:        startAt,
		Token:          "stored-token",
	}
}

// runUntilParked starts r, waits until the clock parks a sleeper, then
// cancels and waits for Run to return.
func runUntilParked(t *testing.T, r *Runner, clock *clocktest.Fake) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case <-clock.Parked:
	case err := <-done:
		cancel()
		t.Fatalf("runner exited early: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("runner never parked")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestHourlyWaitsOneIntervalAfterEachAttempt(t *testing.T) {
	t.Parallel()
	clock := clocktest.New(t0, 3)
	tr := &fakeTransport{clock: clock, took: 7 * time.Minute}
	j := testJob(cadence.Hourly, t0.Add(10*time.Minute))
	r := New(j, j.Plan(t0), nil, Deps{Transport: tr, Clock: clock})

	runUntilParked(t, r, clock)

	want := []time.Duration{10 * time.Minute, time.Hour, time.Hour, time.Hour}
	if got := clock.Sleeps(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	if tr.count() != 3 {
		t.Fatalf("sends = %d, want 3", tr.count())
	}
	wantAt := []time.Time{
		t0.Add(10 * time.Minute),
		t0.Add(10*time.Minute + 7*time.Minute + time.Hour),
		t0.Add(10*time.Minute + 2*(7*time.Minute+time.Hour)),
	}
	for i, s := range tr.sends {
		if !s.at.Equal(wantAt[i]) {
			t.Fatalf("send %d at %v, want %v", i, s.at, wantAt[i])
		}
	}
	if got := tr.sends[0].msg.Subject; got != "Weekly 2026-10-16" {
		t.Fatalf("rendered subject = %q", got)
	}
	if r.State() != Cancelled {
		t.Fatalf("state = %v, want cancelled", r.State())
	}
}

func TestDailyCatchUpLandsOnGrid(t *testing.T) {
	t.Parallel()
	clock := clocktest.New(t0, 1)
	tr := &fakeTransport{clock: clock}
	j := testJob(cadence.Daily, t0.Add(-50*time.Hour))
	r := New(j, j.Plan(t0), nil, Deps{Transport: tr, Clock: clock})

	if info := r.Info(); !info.NextFire.Equal(j.StartAt.Add(72 * time.Hour)) {
		t.Fatalf("next fire = %v", info.NextFire)
	}
	runUntilParked(t, r, clock)
	if got := clock.Sleeps()[0]; got != 22*time.Hour {
		t.Fatalf("initial delay = %v, want 22h", got)
	}
	if tr.count() != 1 {
		t.Fatalf("sends = %d", tr.count())
	}
}

func TestMissingCredentialSkipsOnlyThatFiring(t *testing.T) {
	t.Parallel()
	clock := clocktest.New(t0, 3)
	tr := &fakeTransport{clock: clock}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	calls := 0
	provider := func(j job.Job) (mail.Credentials, bool) {
		calls++
		if calls == 2 {
			return mail.Credentials{}, false
		}
		return mail.Credentials{Token: "fresh"}, true
	}
	j := testJob(cadence.Daily, t0)
	r := New(j, j.Plan(t0), provider, Deps{Transport: tr, Clock: clock, Bus: bus})
	runUntilParked(t, r, clock)

	if calls != 3 || tr.count() != 2 {
		t.Fatalf("provider calls = %d, sends = %d", calls, tr.count())
	}
	if tr.sends[0].creds.Token != "fresh" {
		t.Fatalf("creds = %+v", tr.sends[0].creds)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	want := []string{
		eventbus.RunnerStarted,
		eventbus.FiringSent,
		eventbus.FiringNoCredential,
		eventbus.FiringSent,
		eventbus.RunnerCancelled,
	}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestDeliveryFailureKeepsRecurringRunnerAlive(t *testing.T) {
	t.Parallel()
	clock := clocktest.New(t0, 2)
	tr := &fakeTransport{clock: clock, err: mail.ErrTokenExpired}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	j := testJob(cadence.Weekly, t0)
	r := New(j, j.Plan(t0), nil, Deps{Transport: tr, Clock: clock, Bus: bus})
	runUntilParked(t, r, clock)

	if tr.count() != 2 {
		t.Fatalf("sends = %d, want 2", tr.count())
	}
	failed := 0
	for len(events) > 0 {
		e := <-events
		if e.Type != eventbus.FiringFailed {
			continue
		}
		failed++
		if fe := e.Data.(eventbus.FiringEvent); !fe.TokenExpired || !mail.ContainsTokenExpiredMarker(fe.Reason) {
			t.Fatalf("failure event = %+v", fe)
		}
	}
	if failed != 2 {
		t.Fatalf("failed events = %d", failed)
	}
}

func TestOneTimeFiresOnceAndTerminates(t *testing.T) {
	t.Parallel()
	for _, option := range []string{"", "fortnightly"} {
		clock := clocktest.New(t0, 5)
		tr := &fakeTransport{clock: clock, err: errors.New("smtp down")}
		j := testJob(option, t0.Add(5*time.Second))
		r := New(j, j.Plan(t0), nil, Deps{Transport: tr, Clock: clock})

		if err := r.Run(context.Background()); err != nil {
			t.Fatalf("Run() = %v", err)
		}
		if tr.count() != 1 {
			t.Fatalf("option %q: sends = %d, want 1", option, tr.count())
		}
		if got := clock.Sleeps(); !reflect.DeepEqual(got, []time.Duration{5 * time.Second}) {
			t.Fatalf("option %q: sleeps = %v", option, got)
		}
		if r.State() != Terminated {
			t.Fatalf("state = %v", r.State())
		}
	}
}

func TestOneTimeInThePastNeverFires(t *testing.T) {
	t.Parallel()
	clock := clocktest.New(t0, 5)
	tr := &fakeTransport{clock: clock}
	j := testJob("", t0.Add(-48*time.Hour))
	r := New(j, j.Plan(t0), nil, Deps{Transport: tr, Clock: clock})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if tr.count() != 0 || len(clock.Sleeps()) != 0 {
		t.Fatalf("sends = %d, sleeps = %v", tr.count(), clock.Sleeps())
	}
	if r.State() != Terminated {
		t.Fatalf("state = %v", r.State())
	}
}

func TestStoredCredentials(t *testing.T) {
	t.Parallel()
	if _, ok := StoredCredentials(job.Job{}); ok {
		t.Fatal("empty job should have no credentials")
	}
	c, ok := StoredCredentials(job.Job{Token: "t", RefreshToken: "r"})
	if !ok || c.Token != "t" || c.RefreshToken != "r" {
		t.Fatalf("StoredCredentials = %+v, %v", c, ok)
	}
	if _, ok := Static(mail.Credentials{})(job.Job{}); ok {
		t.Fatal("empty static credentials should be absent")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	if Waiting.String() != "waiting" || !Cancelled.Done() || Firing.Done() {
		t.Fatal("state helpers misbehave")
	}
}

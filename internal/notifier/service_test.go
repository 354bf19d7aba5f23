package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mailcadence/internal/eventbus"
	kit "mailcadence/internal/transport"
	logx "mailcadence/pkg/logx"
)

type captureSender struct {
	mu    sync.Mutex
	fails int
	texts []string
	to    []kit.ChatTarget
}

func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fails > 0 {
		c.fails--
		return errors.New("telegram down")
	}
	c.texts = append(c.texts, text)
	c.to = append(c.to, to)
	return nil
}

func (c *captureSender) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func failure(id string, expired bool) eventbus.Event {
	return eventbus.Event{Type: eventbus.FiringFailed, Data: eventbus.FiringEvent{JobID: id, Owner: "alice", Seq: 3, Reason: "boom", TokenExpired: expired}}
}

func TestBuild(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, eventbus.Nop(), logx.Nop())
	tests := []struct {
		name string
		e    eventbus.Event
		key  string
		want string
	}{
		{name: "failed", e: failure("j1", false), key: "j1|failed", want: "send #3 failed"},
		{name: "expired", e: failure("j1", true), key: "j1|token_expired", want: "sign in again"},
		{name: "no credential", e: eventbus.Event{Type: eventbus.FiringNoCredential, Data: eventbus.FiringEvent{JobID: "j2"}}, key: "j2|no_credential", want: "no stored credentials"},
	}
	for _, tt := range tests {
		n, ok := s.build(tt.e)
		if !ok || n.key != tt.key || !strings.Contains(n.text, tt.want) {
			t.Fatalf("%s: build = %+v, %v", tt.name, n, ok)
		}
	}
	if _, ok := s.build(eventbus.Event{Type: eventbus.FiringSent, Data: eventbus.FiringEvent{JobID: "j1"}}); ok {
		t.Fatal("sent events must not notify")
	}
	if _, ok := s.build(eventbus.Event{Type: eventbus.RunnerStarted, Data: eventbus.RunnerEvent{}}); ok {
		t.Fatal("runner events must not notify")
	}
}

func TestDedupWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(Config{DedupWindow: time.Hour, DedupMaxEntries: 2}, nil, eventbus.Nop(), logx.Nop())
	s.now = func() time.Time { return now }

	if !s.dedupAllow("a") || s.dedupAllow("a") {
		t.Fatal("second identical key inside the window must be suppressed")
	}
	now = now.Add(time.Hour)
	if !s.dedupAllow("a") {
		t.Fatal("key must be allowed again after the window")
	}
	s.dedupAllow("b")
	s.dedupAllow("c")
	if len(s.dedup) > 2 {
		t.Fatalf("dedup size = %d, want <= 2", len(s.dedup))
	}
}

func TestRunDeliversAndRetries(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	snd := &captureSender{fails: 1}
	target := kit.ChatTarget{ChatID: 42, ThreadID: 7}
	s := New(Config{Enabled: true, Target: target, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, DedupWindow: time.Minute}, snd, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Subscription happens inside Run; publish until the first one lands.
	waitFor(t, func() bool {
		bus.Publish(failure("j1", false))
		return len(snd.sent()) > 0
	})
	bus.Publish(failure("j2", true))
	waitFor(t, func() bool { return len(snd.sent()) == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
	got := snd.sent()
	if !strings.Contains(got[0], "j1") || !strings.Contains(got[1], "j2") {
		t.Fatalf("sent = %q", got)
	}
	if snd.to[0] != target {
		t.Fatalf("target = %+v", snd.to[0])
	}
	if len(s.Snapshot()) != 2 {
		t.Fatalf("history = %d", len(s.Snapshot()))
	}
}

func TestRunDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &captureSender{}, eventbus.New(), logx.Nop())
	if err := s.Run(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Run without chat id = %v", err)
	}
}

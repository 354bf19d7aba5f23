package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "mailcadence/internal/transport"
)

const (
	alertQueueSize = 256
	alertMaxLen    = 3500
	alertFieldLen  = 600
	alertSendLimit = 10 * time.Second
)

type alertItem struct {
	to  kit.ChatTarget
	msg string
}

// alertSink is a zerolog.LevelWriter that formats JSON lines and hands them
// to a background worker. Writes never block logging; a full queue drops.
type alertSink struct {
	sender kit.Sender
	queue  chan alertItem

	mu       sync.Mutex
	enabled  bool
	to       kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newAlertSink(sender kit.Sender) *alertSink {
	return &alertSink{sender: sender, queue: make(chan alertItem, alertQueueSize)}
}

// configure reports whether the sink should be part of the writer chain.
func (a *alertSink) configure(cfg AlertConfig) bool {
	on := cfg.Enabled && a.sender != nil && cfg.ChatID != 0
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}

	a.mu.Lock()
	a.enabled = on
	a.to = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	a.minLevel = ParseLevel(cfg.MinLevel, LevelWarn)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()

	if cfg.Enabled && !on {
		fmt.Fprintln(Stderr(), "logx: alerts enabled but no sender or chat_id configured")
	}
	if on {
		a.startOnce.Do(a.start)
	}
	return on
}

func (a *alertSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				return
			case it := <-a.queue:
				sctx, scancel := context.WithTimeout(ctx, alertSendLimit)
				_ = a.sender.SendText(sctx, it.to, it.msg, &kit.SendOptions{DisablePreview: true})
				scancel()
			}
		}
	}()
}

func (a *alertSink) stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(LevelInfo, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	on, to, min, lim := a.enabled, a.to, a.minLevel, a.limiter
	a.mu.Unlock()

	if !on || level < min || !lim.Allow() {
		return len(p), nil
	}
	msg := formatAlert(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case a.queue <- alertItem{to: to, msg: msg}:
	default:
	}
	return len(p), nil
}

// formatAlert renders one zerolog JSON line as "[LEVEL] message" followed by
// sorted "- key=value" lines.
func formatAlert(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(string(p), alertMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), alertFieldLen))
	}
	return truncate(b.String(), alertMaxLen)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mailcadence/internal/eventbus"
	kit "mailcadence/internal/transport"
	logx "mailcadence/pkg/logx"
)

var ErrDisabled = errors.New("notifier disabled")

const (
	busBuffer   = 128
	sendTimeout = 10 * time.Second
	historyMax  = 300
)

type notification struct {
	key  string
	text string
}

// Service turns failure events into operator messages. It is safe for
// concurrent use.
type Service struct {
	cfg     Config
	sender  kit.Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
	now     func() time.Time

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	return &Service{
		cfg:     cfg,
		sender:  sender,
		bus:     bus,
		log:     log.With(logx.String("comp", "notifier")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:     time.Now,
		dedup:   map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	return s.cfg.Enabled && s.sender != nil && s.cfg.Target.ChatID != 0
}

// Run consumes the bus and delivers notifications until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	events, unsub := s.bus.Subscribe(busBuffer)
	defer unsub()

	queue := make(chan notification, s.cfg.QueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-queue:
				s.sendWithRetry(ctx, n)
			}
		}
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			n, ok := s.build(e)
			if !ok || !s.dedupAllow(n.key) {
				continue
			}
			select {
			case queue <- n:
			default:
				s.log.Warn("notification dropped (queue full)", logx.String("key", n.key))
			}
		}
	}
}

// build formats a firing failure. Other events yield false.
func (s *Service) build(e eventbus.Event) (notification, bool) {
	fe, ok := e.Data.(eventbus.FiringEvent)
	if !ok {
		return notification{}, false
	}
	var b strings.Builder
	var kind string
	switch {
	case e.Type == eventbus.FiringNoCredential:
		kind = "no_credential"
		fmt.Fprintf(&b, "⚠️ Job %s skipped a send: no stored credentials.", fe.JobID)
	case e.Type == eventbus.FiringFailed && fe.TokenExpired:
		kind = "token_expired"
		fmt.Fprintf(&b, "⚠️ Job %s cannot send: the owner must sign in again.", fe.JobID)
	case e.Type == eventbus.FiringFailed:
		kind = "failed"
		fmt.Fprintf(&b, "🚨 Job %s send #%d failed.", fe.JobID, fe.Seq)
		if fe.Reason != "" {
			fmt.Fprintf(&b, "\n%s", fe.Reason)
		}
	default:
		return notification{}, false
	}
	if fe.Owner != "" {
		fmt.Fprintf(&b, "\nowner: %s", fe.Owner)
	}
	return notification{key: fe.JobID + "|" + kind, text: b.String()}, true
}

func (s *Service) dedupAllow(key string) bool {
	if s.cfg.DedupWindow <= 0 {
		return true
	}
	now := s.now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(s.cfg.DedupWindow)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Remove entries with earliest expiry until within cap.
	for len(s.dedup) > s.cfg.DedupMaxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

func (s *Service) sendWithRetry(ctx context.Context, n notification) {
	attempts := 1 + s.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := s.sender.SendText(callCtx, s.cfg.Target, n.text, &kit.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			s.appendHistory(n.text)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(s.cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("notification failed", logx.String("key", n.key), logx.Err(lastErr))
}

// Snapshot returns recently delivered notifications, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: s.now(), Text: text})
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
	s.hmu.Unlock()
}

// retryDelay is base * 2^(attempt-1) capped at RetryMaxDelay, with 0.7..1.3
// jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}

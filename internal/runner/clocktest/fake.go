// Package clocktest provides a simulated clock for runner and launcher tests.
package clocktest

import (
	"context"
	"sync"
	"time"
)

// Fake advances instantly on Sleep. After Free sleeps have returned, every
// further Sleep parks until its context is done. Parked is signalled each
// time a sleeper parks.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	free   int
	sleeps []time.Duration

	Parked chan struct{}
}

func New(now time.Time, free int) *Fake {
	return &Fake{now: now, free: free, Parked: make(chan struct{}, 64)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves time forward without a sleeper, e.g. to simulate a slow send.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Sleeps returns every requested sleep duration, parked ones included.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	if f.free > 0 {
		f.free--
		f.now = f.now.Add(d)
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	select {
	case f.Parked <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

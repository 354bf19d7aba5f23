package mail

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	next Transport
	lim  *rate.Limiter
}

// RateLimited shares lim across every send through next. A nil limiter
// returns next unchanged.
func RateLimited(next Transport, lim *rate.Limiter) Transport {
	if lim == nil {
		return next
	}
	return &rateLimited{next: next, lim: lim}
}

// NewLimiter allows perSec sends per second with a burst of perSec.
// perSec <= 0 disables limiting.
func NewLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}

func (r *rateLimited) Send(ctx context.Context, creds Credentials, msg Message) error {
	if err := r.lim.Wait(ctx); err != nil {
		return err
	}
	return r.next.Send(ctx, creds, msg)
}

// Package history persists firing outcomes published on the event bus and
// prunes them on a cron schedule.
package history

import (
	"context"
	"time"

	"mailcadence/internal/eventbus"
	"mailcadence/internal/storage"
	logx "mailcadence/pkg/logx"
)

const (
	recorderBuffer = 256
	writeTimeout   = 5 * time.Second
)

// FiringAppender is the store capability the recorder needs.
type FiringAppender interface {
	AppendFiring(ctx context.Context, f storage.Firing) error
}

type Recorder struct {
	bus   eventbus.Bus
	store FiringAppender
	log   logx.Logger
}

func NewRecorder(bus eventbus.Bus, store FiringAppender, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{bus: bus, store: store, log: log.With(logx.String("comp", "history"))}
}

// Run consumes the bus until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(recorderBuffer)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, e)
		}
	}
}

func (r *Recorder) handle(ctx context.Context, e eventbus.Event) {
	f, ok := ToFiring(e)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := r.store.AppendFiring(wctx, f); err != nil {
		r.log.Warn("firing not recorded", logx.String("job_id", f.JobID), logx.Err(err))
	}
}

// ToFiring converts a firing.* event to a store row.
func ToFiring(e eventbus.Event) (storage.Firing, bool) {
	fe, ok := e.Data.(eventbus.FiringEvent)
	if !ok || !eventbus.IsFiring(e.Type) {
		return storage.Firing{}, false
	}
	f := storage.Firing{
		JobID:      fe.JobID,
		Owner:      fe.Owner,
		Seq:        fe.Seq,
		At:         fe.At,
		DurationMS: fe.Duration.Milliseconds(),
		Reason:     fe.Reason,
	}
	switch e.Type {
	case eventbus.FiringSent:
		f.Outcome = storage.OutcomeSent
	case eventbus.FiringFailed:
		f.Outcome = storage.OutcomeFailed
	case eventbus.FiringNoCredential:
		f.Outcome = storage.OutcomeNoCredential
	}
	if f.At.IsZero() {
		f.At = e.Time
	}
	return f, true
}

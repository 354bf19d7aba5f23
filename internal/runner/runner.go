// Package runner drives a single job: wait out the initial delay, fire, and
// for recurring jobs wait one interval after every attempt.
package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"mailcadence/internal/cadence"
	"mailcadence/internal/eventbus"
	"mailcadence/internal/job"
	"mailcadence/internal/mail"
	logx "mailcadence/pkg/logx"
)

// Deps are shared by every runner of a launcher.
type Deps struct {
	Transport   mail.Transport
	Clock       Clock
	Bus         eventbus.Bus
	Log         logx.Logger
	SendTimeout time.Duration
}

// Info is a point-in-time view for listings.
type Info struct {
	JobID     string        `json:"job_id"`
	Owner     string        `json:"owner,omitempty"`
	State     State         `json:"state"`
	Interval  time.Duration `json:"interval"`
	Firings   int64         `json:"firings"`
	StartedAt time.Time     `json:"started_at"`
	NextFire  time.Time     `json:"next_fire,omitempty"`
	LastFire  time.Time     `json:"last_fire,omitempty"`
}

// Runner owns a read-only snapshot of its job.
type Runner struct {
	job   job.Job
	plan  cadence.Plan
	creds CredentialProvider
	deps  Deps
	log   logx.Logger

	state   atomic.Int32
	firings atomic.Int64

	mu        sync.Mutex
	startedAt time.Time
	nextFire  time.Time
	lastFire  time.Time
}

// New prepares a runner for j with a plan computed by the caller. Nothing
// runs until Run is called.
func New(j job.Job, plan cadence.Plan, creds CredentialProvider, deps Deps) *Runner {
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if creds == nil {
		creds = StoredCredentials
	}
	r := &Runner{
		job:   j.Clone(),
		plan:  plan,
		creds: creds,
		deps:  deps,
		log:   deps.Log.With(logx.String("job_id", j.ID)),
	}
	now := deps.Clock.Now()
	r.startedAt = now
	if plan.ShouldRun {
		r.nextFire = plan.NextFire(now)
	}
	return r
}

func (r *Runner) JobID() string { return r.job.ID }

func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) setState(s State) { r.state.Store(int32(s)) }

func (r *Runner) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		JobID:     r.job.ID,
		Owner:     r.job.Owner,
		State:     r.State(),
		Interval:  r.plan.Interval,
		Firings:   r.firings.Load(),
		StartedAt: r.startedAt,
		NextFire:  r.nextFire,
		LastFire:  r.lastFire,
	}
}

// Run blocks until the runner terminates (one-time job fired, or nothing to
// do) or ctx is cancelled. It never returns an error for delivery problems.
func (r *Runner) Run(ctx context.Context) error {
	if !r.plan.ShouldRun {
		r.log.Debug("job not schedulable; skipping")
		r.setState(Terminated)
		return nil
	}
	r.publish(eventbus.RunnerStarted, r.runnerEvent())
	r.log.Info("runner started",
		logx.Duration("delay", r.plan.Delay),
		logx.Duration("interval", r.plan.Interval),
	)

	if err := r.deps.Clock.Sleep(ctx, r.plan.Delay); err != nil {
		return r.cancelled()
	}
	for {
		r.setState(Firing)
		r.fire(ctx)
		if ctx.Err() != nil {
			return r.cancelled()
		}
		if !r.plan.Recurring() {
			r.finish(Terminated, eventbus.RunnerTerminated)
			r.log.Info("runner terminated", logx.Int64("firings", r.firings.Load()))
			return nil
		}

		r.setState(Waiting)
		r.mu.Lock()
		r.nextFire = r.deps.Clock.Now().Add(r.plan.Interval)
		r.mu.Unlock()
		if err := r.deps.Clock.Sleep(ctx, r.plan.Interval); err != nil {
			return r.cancelled()
		}
	}
}

func (r *Runner) cancelled() error {
	r.finish(Cancelled, eventbus.RunnerCancelled)
	r.log.Debug("runner cancelled", logx.Int64("firings", r.firings.Load()))
	return nil
}

func (r *Runner) finish(s State, event string) {
	r.mu.Lock()
	r.nextFire = time.Time{}
	r.mu.Unlock()
	r.setState(s)
	r.publish(event, r.runnerEvent())
}

// fire makes exactly one delivery attempt. Failures are logged and
// published; they never stop the runner.
func (r *Runner) fire(ctx context.Context) {
	seq := int(r.firings.Add(1))
	start := r.deps.Clock.Now()
	r.mu.Lock()
	r.lastFire = start
	r.mu.Unlock()

	ev := eventbus.FiringEvent{JobID: r.job.ID, Owner: r.job.Owner, Seq: seq, At: start}
	log := r.log.With(logx.Int("seq", seq))

	creds, ok := r.creds(r.job)
	if !ok {
		ev.Reason = "no credential available"
		log.Warn("firing skipped", logx.String("reason", ev.Reason))
		r.publish(eventbus.FiringNoCredential, ev)
		return
	}

	msg := mail.RenderMessage(mail.Message{
		To:          r.job.Recipients,
		Subject:     r.job.Subject,
		Body:        r.job.Body,
		Attachments: r.job.Attachments,
	}, start)

	sendCtx := ctx
	if r.deps.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, r.deps.SendTimeout)
		defer cancel()
	}
	err := r.deps.Transport.Send(sendCtx, creds, msg)
	ev.Duration = r.deps.Clock.Now().Sub(start)

	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		ev.Reason = err.Error()
		ev.TokenExpired = mail.IsTokenExpired(err)
		log.Error("failed to send email",
			logx.String("reason", ev.Reason),
			logx.Bool("token_expired", ev.TokenExpired),
		)
		r.publish(eventbus.FiringFailed, ev)
		return
	}
	log.Info("email sent", logx.Int("recipients", len(msg.To)), logx.Duration("took", ev.Duration))
	r.publish(eventbus.FiringSent, ev)
}

func (r *Runner) runnerEvent() eventbus.RunnerEvent {
	return eventbus.RunnerEvent{
		JobID:    r.job.ID,
		Delay:    r.plan.Delay,
		Interval: r.plan.Interval,
		Firings:  int(r.firings.Load()),
	}
}

func (r *Runner) publish(typ string, data any) {
	r.deps.Bus.Publish(eventbus.Event{Type: typ, Time: r.deps.Clock.Now(), Data: data})
}

// Package launcher starts one runner per job and keeps a registry of the
// running ones so they can be listed and cancelled.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mailcadence/internal/job"
	"mailcadence/internal/runner"
	"mailcadence/internal/runtime/supervisor"
	logx "mailcadence/pkg/logx"
)

var ErrAlreadyStarted = errors.New("persisted jobs already started")

// JobLister is the slice of the store the launcher reads at startup.
type JobLister interface {
	ListJobs(ctx context.Context, owner string) ([]job.Job, error)
}

type entry struct {
	r      *runner.Runner
	cancel context.CancelFunc
}

type Launcher struct {
	sup   *supervisor.Supervisor
	jobs  JobLister
	deps  runner.Deps
	log   logx.Logger
	clock runner.Clock

	startedAll atomic.Bool

	mu      sync.Mutex
	entries map[string]*entry
}

// New wires a launcher. Runners live under sup and stop with it.
func New(sup *supervisor.Supervisor, jobs JobLister, deps runner.Deps) *Launcher {
	if deps.Clock == nil {
		deps.Clock = runner.RealClock{}
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	deps.Log = log.With(logx.String("comp", "runner"))
	return &Launcher{
		sup:     sup,
		jobs:    jobs,
		deps:    deps,
		log:     log.With(logx.String("comp", "launcher")),
		clock:   deps.Clock,
		entries: map[string]*entry{},
	}
}

// StartAllPersistedJobs starts a runner for every stored job using the token
// stored with it. All plans are computed against one instant. It returns
// the number of runners started.
func (l *Launcher) StartAllPersistedJobs(ctx context.Context) (int, error) {
	if !l.startedAll.CompareAndSwap(false, true) {
		return 0, ErrAlreadyStarted
	}
	jobs, err := l.jobs.ListJobs(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	now := l.clock.Now()
	started := 0
	for _, j := range jobs {
		if l.start(j, runner.StoredCredentials, now) {
			started++
		}
	}
	l.log.Info("persisted jobs started", logx.Int("jobs", len(jobs)), logx.Int("runners", started))
	return started, nil
}

// StartNewJob starts a runner for a job that was just created, using creds
// for every firing. It follows the same path as startup loading. The result
// is false when the job has nothing left to fire.
func (l *Launcher) StartNewJob(j job.Job, creds runner.CredentialProvider) bool {
	return l.start(j, creds, l.clock.Now())
}

func (l *Launcher) start(j job.Job, creds runner.CredentialProvider, now time.Time) bool {
	plan := j.Plan(now)
	if !plan.ShouldRun {
		l.log.Debug("job not schedulable; skipped", logx.String("job_id", j.ID), logx.Time("start_at", j.StartAt))
		l.Cancel(j.ID)
		return false
	}

	ctx, cancel := context.WithCancel(l.sup.Context())
	e := &entry{r: runner.New(j, plan, creds, l.deps), cancel: cancel}

	l.mu.Lock()
	old := l.entries[j.ID]
	l.entries[j.ID] = e
	l.mu.Unlock()
	if old != nil {
		old.cancel()
		l.log.Info("runner replaced", logx.String("job_id", j.ID))
	}

	l.sup.Go("runner", func(context.Context) error {
		defer l.release(j.ID, e)
		return e.r.Run(ctx)
	})
	return true
}

// release drops id from the registry only if e is still its entry; a
// replacement may already have taken the slot.
func (l *Launcher) release(id string, e *entry) {
	e.cancel()
	l.mu.Lock()
	if l.entries[id] == e {
		delete(l.entries, id)
	}
	l.mu.Unlock()
}

// Cancel stops the runner for id, if any.
func (l *Launcher) Cancel(id string) bool {
	l.mu.Lock()
	e := l.entries[id]
	delete(l.entries, id)
	l.mu.Unlock()
	if e == nil {
		return false
	}
	e.cancel()
	l.log.Info("runner cancelled", logx.String("job_id", id))
	return true
}

func (l *Launcher) Get(id string) (runner.Info, bool) {
	l.mu.Lock()
	e := l.entries[id]
	l.mu.Unlock()
	if e == nil {
		return runner.Info{}, false
	}
	return e.r.Info(), true
}

// Running lists registered runners ordered by job id.
func (l *Launcher) Running() []runner.Info {
	l.mu.Lock()
	rs := make([]*runner.Runner, 0, len(l.entries))
	for _, e := range l.entries {
		rs = append(rs, e.r)
	}
	l.mu.Unlock()

	out := make([]runner.Info, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

func (l *Launcher) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

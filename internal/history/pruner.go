package history

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"mailcadence/internal/storage"
	logx "mailcadence/pkg/logx"
)

// FiringPruner is the store capability the pruner needs.
type FiringPruner interface {
	PruneFirings(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner deletes firings older than Retention whenever Schedule fires.
type Pruner struct {
	store     FiringPruner
	retention time.Duration
	spec      string
	log       logx.Logger
	now       func() time.Time
	cron      *cron.Cron
}

func NewPruner(store FiringPruner, spec string, retention time.Duration, log logx.Logger) (*Pruner, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pruner{
		store:     store,
		retention: retention,
		spec:      spec,
		log:       log.With(logx.String("comp", "history.pruner")),
		now:       time.Now,
		cron:      cron.New(),
	}
	if _, err := p.cron.AddFunc(spec, func() { _, _ = p.PruneOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("history prune schedule %q: %w", spec, err)
	}
	return p, nil
}

// PruneOnce deletes everything older than now minus retention.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneFirings(ctx, cutoff)
	if err != nil {
		p.log.Warn("firing prune failed", logx.Err(err))
		return 0, err
	}
	if n > 0 {
		p.log.Info("firings pruned", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
	}
	return n, nil
}

// Run starts the cron loop and blocks until ctx is done.
func (p *Pruner) Run(ctx context.Context) error {
	p.cron.Start()
	p.log.Debug("pruner started", logx.String("schedule", p.spec), logx.Duration("retention", p.retention))
	<-ctx.Done()
	<-p.cron.Stop().Done()
	return nil
}

var _ FiringPruner = storage.Store(nil)

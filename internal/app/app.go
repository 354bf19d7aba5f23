// Package app wires the config, store, mail transport, launcher and API into
// one process and owns their start and stop order.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailcadence/internal/api"
	"mailcadence/internal/config"
	"mailcadence/internal/eventbus"
	"mailcadence/internal/history"
	"mailcadence/internal/launcher"
	"mailcadence/internal/mail"
	"mailcadence/internal/notifier"
	"mailcadence/internal/runner"
	"mailcadence/internal/runtime/supervisor"
	"mailcadence/internal/storage"
	logx "mailcadence/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	mail  mail.Transport

	runners  *supervisor.Supervisor
	launcher *launcher.Launcher
	pruner   *history.Pruner
	notif    *notifier.Service
	handler  *api.Handler
	api      *api.Service

	// Clock is used by runners; nil means the wall clock.
	Clock runner.Clock
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "boot"))
	alerts := newAlertSender(cfg, bootLog)
	logSvc, log := logx.New(mapLoggingConfig(cfg), alerts)
	log = log.With(logx.String("comp", "app"))

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", cfg.StorageDriver()))

	var pruner *history.Pruner
	if cfg.History.Enabled {
		retention, err := config.ParseDurationOrDefault("history.retention", cfg.History.Retention, config.DefaultRetention)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		spec := strings.TrimSpace(cfg.History.PruneSchedule)
		if spec == "" {
			spec = config.DefaultPruneSchedule
		}
		if pruner, err = history.NewPruner(store, spec, retention, log); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	apiCfg, err := mapAPIConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bus := eventbus.New()
	transport := newTransport(cfg, log)
	handler := &api.Handler{
		Store:         store,
		Transport:     transport,
		Location:      loc,
		AttachmentDir: cfg.AttachmentDir(),
		Log:           log.With(logx.String("comp", "api")),
	}

	a := &App{
		cfgPath: cfgm.Path(),
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		mail:    transport,
		pruner:  pruner,
		notif:   notifier.New(ncfg, alerts, bus, log),
		handler: handler,
		api:     api.NewService(apiCfg, handler, log),
	}
	handler.State = a.state
	return a, nil
}

// state is served on /debug/state. It is only called after Start.
func (a *App) state() any {
	out := map[string]any{"notifications": a.notif.Snapshot()}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	if a.runners != nil {
		out["runners"] = a.runners.Snapshot()
	}
	return out
}

// Launcher is nil until Start, and stays nil when the scheduler is disabled.
func (a *App) Launcher() *launcher.Launcher { return a.launcher }

func (a *App) Store() storage.Store { return a.store }

func (a *App) Logger() logx.Logger { return a.log }

// APIAddr returns the bound API address, or "" when the API is not serving.
func (a *App) APIAddr() string { return a.api.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if err := config.Validate(c); err != nil {
			return err
		}
		_, err := mapAPIConfig(c)
		return err
	})

	if a.pruner != nil {
		a.sup.Go("history.record", history.NewRecorder(a.bus, a.store, a.log).Run)
		a.sup.Go("history.prune", a.pruner.Run)
	}

	if a.notif.Enabled() {
		a.sup.Go("notifier", a.notif.Run)
	}

	if cfg.Scheduler.Enabled {
		sendTimeout, err := config.ParseDurationOrDefault("mail.send_timeout", cfg.Mail.SendTimeout, config.DefaultSendTimeout)
		if err != nil {
			return err
		}
		a.runners = supervisor.New(a.sup.Context(), supervisor.WithLogger(a.log.With(logx.String("comp", "runners"))))
		a.launcher = launcher.New(a.runners, a.store, runner.Deps{
			Transport:   a.mail,
			Clock:       a.Clock,
			Bus:         a.bus,
			Log:         a.log,
			SendTimeout: sendTimeout,
		})
		a.handler.Scheduler = a.launcher
		if _, err := a.launcher.StartAllPersistedJobs(a.sup.Context()); err != nil {
			return err
		}
	} else {
		a.log.Info("scheduler disabled; jobs are stored but not run")
	}

	a.api.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Bool("scheduler", cfg.Scheduler.Enabled),
		logx.Bool("api", cfg.API.Enabled),
		logx.Bool("history", a.pruner != nil),
		logx.Bool("notifier", a.notif.Enabled()),
	)
	return nil
}

// applyConfig hot-applies logging and api; other sections are reported as
// needing a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLoggingConfig(newCfg))

	if apiCfg, err := mapAPIConfig(newCfg); err != nil {
		a.log.Warn("invalid api config; keeping previous", logx.Err(err))
	} else {
		a.api.Reconfigure(ctx, apiCfg)
	}

	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(pending, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			// respect the caller's deadline; never extend it
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("api", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("runners", 2*time.Second, func(c context.Context) error {
		if a.runners == nil {
			return nil
		}
		return a.runners.Stop(c)
	})
	// Wait for supervised goroutines (recorder, pruner, config watch) before
	// closing the store they write to.
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

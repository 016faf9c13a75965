// Package app wires the daemon together: config, logging, storage, the
// job registry, the execution engine, the scheduler, the admin API, and
// failure notifications, all under one supervisor.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"herobot/internal/config"
	"herobot/internal/eventbus"
	"herobot/internal/jobs"
	"herobot/internal/notify"
	rtsup "herobot/internal/runtime/supervisor"
	"herobot/internal/sched"
	"herobot/internal/session"
	"herobot/internal/storage"
	"herobot/internal/task/engine"
	"herobot/internal/web"
	logx "herobot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	registry *jobs.Registry
	sessions *session.Registry

	engine *engine.Service
	sched  *sched.Service
	notif  *notify.Service
	web    *web.Service

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewApp builds the full dependency graph from the config file. Executors
// for the built-in jobs are injected by the caller; built-in job IDs with
// no executor are simply not registered and their schedules are skipped.
func NewApp(cfgPath string, executors map[string]jobs.Executor) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	bus := eventbus.New()

	// The notify bot doubles as the Telegram log sink, so it is created
	// first with a bootstrap logger and handed to the log service.
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "notify"))
	notifSvc, err := notify.New(notify.Config{
		Enabled:    cfg.Notify.Enabled,
		Token:      cfg.Notify.Token,
		ChatID:     cfg.Notify.ChatID,
		RatePerMin: cfg.Notify.RatePerMin,
	}, bootLog, bus)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), notifSvc)
	log = log.With(logx.String("comp", "app"))

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", storeCfg.Driver))

	registry := jobs.NewRegistry()
	registered := 0
	for _, dj := range jobs.DefaultJobs() {
		fn, ok := executors[dj.ID]
		if !ok || fn == nil {
			continue
		}
		registry.Register(dj.ID, dj.Name, fn)
		registered++
	}
	// Custom jobs beyond the built-in set.
	known := map[string]bool{}
	for _, dj := range jobs.DefaultJobs() {
		known[dj.ID] = true
	}
	for id, fn := range executors {
		if !known[id] && fn != nil {
			registry.Register(id, id, fn)
			registered++
		}
	}
	log.Info("executors registered", logx.Int("count", registered))

	sessions := session.NewRegistry(log.With(logx.String("comp", "session")))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	state := sched.NewState()
	schedSvc := sched.New(schedCfg, store, registry, sessions, engineSvc, state,
		log.With(logx.String("comp", "scheduler")), bus)

	webCfg, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}
	webSvc := web.New(webCfg, schedSvc, store, registry, sessions, engineSvc,
		log.With(logx.String("comp", "admin")))

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		registry:   registry,
		sessions:   sessions,
		engine:     engineSvc,
		sched:      schedSvc,
		notif:      notifSvc,
		web:        webSvc,
		shutdownCh: make(chan struct{}),
	}, nil
}

// Registry exposes the executor registry so callers can add jobs after
// construction (before Start).
func (a *App) Registry() *jobs.Registry { return a.registry }

// ShutdownRequested is closed when the admin API asks for a graceful stop.
func (a *App) ShutdownRequested() <-chan struct{} { return a.shutdownCh }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	a.web.SetShutdownFunc(func() {
		a.shutdownOnce.Do(func() { close(a.shutdownCh) })
	})

	// The engine must accept submissions before recovery re-runs anything
	// through RunJobNow-style paths; recovery itself executes inline.
	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}

	// Reconcile the ledger before any cron trigger can fire.
	if a.sched.Enabled() {
		recStart := time.Now()
		if err := a.sched.Recover(a.sup.Context(), time.Now()); err != nil {
			a.log.Error("recovery failed", logx.Err(err))
			return err
		}
		a.log.Info("recovery finished", logx.Duration("took", time.Since(recStart)))
		a.sched.Start(a.sup.Context())
	}

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.web.Enabled() {
		a.web.Start(a.sup.Context())
	}

	// Config hot reload fanout.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest snapshot.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, newCfg)
			}
		}
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startSystemd()

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	if engCfg, err := mapEngineConfig(cfg); err != nil {
		a.log.Warn("invalid task_engine config, keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}

	if schedCfg, err := mapSchedulerConfig(cfg); err != nil {
		a.log.Warn("invalid scheduler config, keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
	}

	// Storage, notify, and admin bind sockets or credentials at startup.
	a.log.Info("config reloaded",
		logx.String("note", "storage/notify/admin changes take effect on restart"))
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.notifySystemdStopping()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			a.log.Debug("stop step done",
				logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Admin first so no new mutations land mid-drain; then the scheduler
	// drain (the long pole), then the pool. The supervisor context stays
	// live until the drain finishes, so in-flight executors keep an
	// uncanceled context and can run to completion.
	step("admin", 2*time.Second, func(c context.Context) error { a.web.Stop(c); return nil })
	step("scheduler", 0, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 10*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })

	// Now unwind background loops (config watch/reload, watchdog).
	a.sup.Cancel()
	step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", 2*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

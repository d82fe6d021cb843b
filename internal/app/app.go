package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"liveactivity/internal/backend"
	"liveactivity/internal/cleanup"
	"liveactivity/internal/config"
	"liveactivity/internal/controller"
	"liveactivity/internal/dispatch"
	"liveactivity/internal/eventbus"
	"liveactivity/internal/history"
	"liveactivity/internal/metrics"
	"liveactivity/internal/runtime/supervisor"
	"liveactivity/internal/session"
	"liveactivity/internal/storage"
	"liveactivity/pkg/logx"
)

// Options tweak construction. The zero value uses the config file as is.
type Options struct {
	// BackendName overrides backend.name from the config.
	BackendName string
	// Backend replaces the configured backend entirely.
	Backend backend.Backend
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	hist  *history.Recorder

	metrics *metrics.Metrics
	msrv    *metrics.Server

	be       backend.Backend
	closeBe  func() error
	disp     *dispatch.Dispatcher
	cleanup  *cleanup.Service
	registry *session.Registry
	ctrl     *controller.Controller
}

func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.Validator)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	appLog := log.With(logx.String("comp", "app"))

	a := &App{cfgm: cfgm, log: appLog, logs: logSvc, bus: eventbus.New()}
	fail := func(err error) (*App, error) {
		a.closeAll()
		return nil, err
	}

	if a.metrics, err = metrics.New(); err != nil {
		return fail(err)
	}
	a.msrv = metrics.NewServer(a.metrics, log)

	sc, hc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return fail(err)
		}
		a.store = st
		a.hist = history.New(st, a.bus, hc, log.With(logx.String("comp", "history")))
		appLog.Info("journal enabled", logx.String("driver", sc.Driver))
	}

	if opts.Backend != nil {
		a.be, a.closeBe = opts.Backend, func() error { return nil }
	} else {
		be, closer, err := newBackend(cfg.Backend, opts.BackendName, log)
		if err != nil {
			return fail(err)
		}
		a.be, a.closeBe = be, closer
	}

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.disp = dispatch.New(a.be, dcfg, log.With(logx.String("comp", "dispatch")), a.bus, a.metrics)

	delay, err := mapCleanupDelay(cfg)
	if err != nil {
		return fail(err)
	}
	a.cleanup = cleanup.New(context.Background(), delay,
		cleanup.WithBus(a.bus),
		cleanup.WithMetrics(a.metrics),
		cleanup.WithLogger(log.With(logx.String("comp", "cleanup"))),
	)

	a.registry = session.NewRegistry()
	a.ctrl = controller.New(a.registry, a.disp, controller.Options{
		Labels:  mapLabels(cfg.Backend.Labels),
		Cleanup: a.cleanup,
		Bus:     a.bus,
		Metrics: a.metrics,
		Logger:  log.With(logx.String("comp", "controller")),
	})

	appLog.Info("backend selected", logx.String("backend", a.be.Name()))
	return a, nil
}

// closeAll releases what New opened when construction fails.
func (a *App) closeAll() {
	if a.closeBe != nil {
		_ = a.closeBe()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) Controller() *controller.Controller { return a.ctrl }
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }
func (a *App) History() *history.Recorder { return a.hist }
func (a *App) Config() *config.Config { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger { return a.log }
func (a *App) MetricsAddr() string { return a.msrv.Addr() }

// BackendName is the name of the surface notifications go to.
func (a *App) BackendName() string { return a.be.Name() }

// Done is closed when the app's run context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first background task error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if a.hist != nil {
		if err := a.hist.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if err := a.msrv.Reconfigure(ctx, mapMetricsConfig(a.cfgm.Get())); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("backend", a.be.Name()))
	return nil
}

// applyConfig pushes a reloaded config into the running components.
// Backend selection and storage only change on restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		if config.RestartSections[s] {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogging(newCfg))

	if dcfg, err := mapDispatchConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dcfg)
	}

	if delay, err := mapCleanupDelay(newCfg); err != nil {
		a.log.Warn("invalid cleanup delay; keeping previous", logx.Err(err))
	} else {
		a.cleanup.SetDelay(delay)
	}
	a.ctrl.SetLabels(mapLabels(newCfg.Backend.Labels))

	if a.hist != nil {
		if hc, err := mapHistoryConfig(newCfg.Storage); err != nil {
			a.log.Warn("invalid storage prune config; keeping previous", logx.Err(err))
		} else if err := a.hist.Apply(hc); err != nil {
			a.log.Warn("journal prune schedule rejected; keeping previous", logx.Err(err))
		}
	}

	if err := a.msrv.Reconfigure(ctx, mapMetricsConfig(newCfg)); err != nil {
		a.log.Warn("metrics server reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop ends the running session, flushes pending cleanups and releases
// everything New opened. Each step is bounded so one component cannot
// stall shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeAll()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			if max <= 0 {
				a.log.Warn("stop step skipped, deadline passed", logx.String("name", name))
				return
			}
			var cancel context.CancelFunc
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The session goes first so its cleanup lands in the queue below.
	step("session", 3*time.Second, a.ctrl.Remove)
	step("cleanup", 5*time.Second, a.cleanup.Stop)

	a.sup.Cancel()

	step("history", time.Second, func(c context.Context) error {
		if a.hist != nil {
			return a.hist.Stop(c)
		}
		return nil
	})
	step("metrics", time.Second, func(c context.Context) error { a.msrv.Stop(c); return nil })
	step("backend", time.Second, func(context.Context) error { return a.closeBe() })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

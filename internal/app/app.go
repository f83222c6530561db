package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"plexpush/internal/config"
	"plexpush/internal/dispatch"
	"plexpush/internal/eventbus"
	"plexpush/internal/metrics"
	"plexpush/internal/notifier"
	"plexpush/internal/pushcut"
	"plexpush/internal/runtime/supervisor"
	"plexpush/internal/throttle"
	"plexpush/internal/webhook"
	logx "plexpush/pkg/logx"
	"plexpush/pkg/systemd"
)

// Options configures New. Zero values use the process environment.
type Options struct {
	SettingsPath string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// Listen overrides the listen address derived from the port.
	Listen string
	// Sender replaces the Pushcut HTTP client.
	Sender pushcut.Sender
	// Registry receives the collectors; nil creates one with the Go and
	// process collectors.
	Registry *prometheus.Registry
}

type App struct {
	env  config.Env
	cfgm *config.Manager
	cfg  *config.Settings

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus
	sup  *supervisor.Supervisor
	sd   systemd.Notifier

	metrics  *metrics.Metrics
	registry *throttle.Registry
	notif    *notifier.Service
	disp     *dispatch.Dispatcher
	server   *webhook.Server

	started time.Time
}

func New(opts Options) (*App, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	env, err := config.LoadEnv(getenv)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "boot"))

	cfgm := config.NewManager(opts.SettingsPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if cfgm.UsingExample() {
		bootLog.Warn(fmt.Sprintf("loading the app with example settings. To customize for your home, create %s:\n\tcp internal/config/%s %s",
			opts.SettingsPath, config.ExampleName, opts.SettingsPath))
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	for _, w := range cfgm.Warnings() {
		log.Warn("settings: " + w)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := opts.Registry
		if reg == nil {
			reg = prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		if m, err = metrics.New(reg); err != nil {
			return nil, err
		}
	}

	store, err := cfg.Rules()
	if err != nil {
		return nil, err
	}

	pcfg, err := mapPushcutConfig(cfg, env.Secret)
	if err != nil {
		return nil, err
	}
	sender := opts.Sender
	if sender == nil {
		client, err := pushcut.New(pcfg, nil)
		if err != nil {
			return nil, err
		}
		sender = client
	}

	scfg, err := mapServerConfig(cfg, env.Port)
	if err != nil {
		return nil, err
	}
	if opts.Listen != "" {
		scfg.Addr = opts.Listen
	}

	bus := eventbus.New()
	notif := notifier.New(mapNotifierConfig(cfg, pcfg.Timeout), sender, log.With(logx.String("comp", "notifier")), bus, m)

	registry := throttle.NewRegistry(
		throttle.WithLogger(log.With(logx.String("comp", "throttle"))),
		throttle.WithOnCreate(func(string, time.Duration) { m.ThrottleKeyCreated() }),
	)
	disp := dispatch.New(dispatch.Config{
		SkipIfNotOwner: cfg.SkipPayloadIfNotOwner,
		ShortcutName:   cfg.ShortcutName,
		ShortcutEvents: cfg.ShortcutEventFilter,
	}, store, registry, notif,
		dispatch.WithLogger(log.With(logx.String("comp", "dispatch"))),
		dispatch.WithBus(bus),
		dispatch.WithMetrics(m),
	)

	a := &App{
		env:      env,
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		metrics:  m,
		registry: registry,
		notif:    notif,
		disp:     disp,
	}
	a.server = webhook.New(scfg, disp, log.With(logx.String("comp", "http")), m, func() any { return a.Status() })
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Addr is the bound listener address.
func (a *App) Addr() string { return a.server.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.started = time.Now()
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// The delivery queue outlives the app context so Stop can drain it.
	a.notif.Start(context.Background())

	if err := a.server.Start(a.sup); err != nil {
		a.sup.Cancel()
		a.notif.Stop(context.Background())
		return err
	}

	events, unsubscribe := a.bus.Subscribe(256)
	a.sup.Go0("bus.log", func(c context.Context) {
		defer unsubscribe()
		a.logEvents(c, events)
	})

	if _, err := os.Stat(filepath.Dir(a.cfgm.Path())); err == nil {
		a.sup.GoRestart("settings.watch", func(c context.Context) error {
			return a.cfgm.Watch(c, func(_, _ *config.Settings, sections []string) {
				a.bus.Publish(eventbus.Event{Type: eventbus.TypeSettingsChanged, Data: sections})
			})
		})
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := a.sd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})
	if sent, err := a.sd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		_, _ = a.sd.Status(fmt.Sprintf("listening on %s, %d rules", a.server.Addr(), a.disp.Rules().Len()))
	}

	a.log.Info("app started",
		logx.String("addr", a.server.Addr()),
		logx.Int("rules", a.disp.Rules().Len()),
		logx.Any("throttle_keys", a.disp.Rules().ThrottleKeys()),
		logx.Bool("example_settings", a.cfgm.UsingExample()),
		logx.Bool("shortcut", a.cfg.ShortcutName != ""),
		logx.Bool("owner_only", a.cfg.SkipPayloadIfNotOwner),
	)
	a.log.Info(fmt.Sprintf("point plex webhooks to http://localhost:%d at https://app.plex.tv/desktop#!/settings/webhooks", a.env.Port))
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	log := a.log.With(logx.String("comp", "bus"))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.sd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Stop intake first, then drain what was already accepted.
	step("http", 6*time.Second, a.server.Stop)
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })

	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

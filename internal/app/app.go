package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"wavebot/internal/config"
	"wavebot/internal/notifier"
	"wavebot/internal/runtime/supervisor"
	"wavebot/internal/storage"
	"wavebot/internal/transport"
	"wavebot/internal/transport/telegram"
	"wavebot/internal/waveplate"
	"wavebot/pkg/logx"
)

// App wires the pieces together: config, logging, storage, the tracker, the
// Telegram adapter, the notifier, and the command dispatcher.
type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	adapter *telegram.Adapter
	notif   *notifier.Service
	tracker *waveplate.Tracker
	cmdm    *CommandManager
	resync  *cron.Cron

	sup     *supervisor.Supervisor
	updates chan transport.Update
}

func New(cfgm *config.Manager, env config.Env) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgm.Path(), err)
	}

	logs, log := logx.New(loggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("svc", "config")))

	rules, err := trackerRules(cfg)
	if err != nil {
		logs.Close()
		return nil, err
	}

	store, err := storage.Open(storageConfig(cfg, env))
	if err != nil {
		logs.Close()
		return nil, err
	}

	pollTimeout, err := config.PositiveDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		store.Close()
		logs.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{Token: env.Token, PollTimeout: pollTimeout},
		log.With(logx.String("svc", "telegram")))
	if err != nil {
		store.Close()
		logs.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	notif := notifier.New(notifier.DefaultConfig(), adapter, log.With(logx.String("svc", "notifier")))
	tracker := waveplate.NewTracker(rules, store, &capSink{notif: notif, cap: rules.Cap},
		log.With(logx.String("svc", "tracker")))

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log.With(logx.String("svc", "app")),
		store:   store,
		adapter: adapter,
		notif:   notif,
		tracker: tracker,
		updates: make(chan transport.Update, 256),
	}
	a.cmdm = NewCommandManager(
		&Env{Adapter: adapter, Tracker: tracker, Log: log.With(logx.String("svc", "commands"))},
		4,
		MWPanicRecover(), MWRequestLog(), MWTimeout(30*time.Second),
	)
	a.cmdm.UseCallback(CBPanicRecover(), CBTimeout(30*time.Second))
	a.registerCommands(a.cmdm)
	return a, nil
}

// Start brings the bot up. Recovery runs synchronously before the dispatch
// loop starts, so no user request races the re-arming of timers.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start telegram: %w", err)
	}

	menu := make([]transport.MenuCommand, 0, len(a.cmdm.Commands()))
	for _, c := range a.cmdm.Commands() {
		menu = append(menu, transport.MenuCommand{Name: c.Name, Description: c.Help})
	}
	if err := a.adapter.SetMenuCommands(ctx, menu); err != nil {
		a.log.Warn("menu commands update failed", logx.Err(err))
	}

	if err := a.tracker.RecoverAll(ctx); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("recover timers: %w", err)
	}

	a.notif.Start(a.sup.Context())

	a.sup.Go("dispatch", func(ctx context.Context) error {
		return a.cmdm.DispatchLoop(ctx, a.updates)
	})

	a.cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		_, err := trackerRules(cfg)
		return err
	})
	a.sup.Go("config-watch", a.cfgm.Watch)
	reloads := a.cfgm.Subscribe(1)
	a.sup.Go0("config-reload", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(reloads)
		a.consumeReloads(ctx, reloads)
	})

	if err := a.startResync(); err != nil {
		a.sup.Cancel()
		return err
	}

	a.log.Info("started")
	return nil
}

// Done is closed when a supervised goroutine fails (or Start's context ends).
func (a *App) Done() <-chan struct{} {
	return a.sup.Context().Done()
}

func (a *App) Err() error { return a.sup.Err() }

// consumeReloads applies what can change live (logging) and warns about what
// cannot (tracker rules, storage), which take effect on next restart.
func (a *App) consumeReloads(ctx context.Context, reloads <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-reloads:
			if !ok {
				return
			}
			a.logs.Apply(loggingConfig(cfg))
			a.log.Info("logging config applied")

			old := a.tracker.Rules()
			if rules, err := trackerRules(cfg); err == nil && rules != old {
				a.log.Warn("tracker config changed; restart required to apply",
					logx.Int("cap", rules.Cap),
					logx.Duration("regen_period", rules.RegenPeriod))
			}
		}
	}
}

// startResync schedules the periodic recovery sweep: a safety net that
// re-arms any timer lost to a missed wakeup (suspend, clock jump).
func (a *App) startResync() error {
	cfg := a.cfgm.Get()
	spec := strings.TrimSpace(cfg.Tracker.Resync)
	if spec == "" {
		spec = "0 * * * *"
	}
	if strings.EqualFold(spec, "none") {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := a.tracker.RecoverAll(ctx); err != nil {
			a.log.Error("resync sweep failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("tracker.resync %q: %w", spec, err)
	}
	c.Start()
	a.resync = c
	a.log.Info("resync sweep scheduled", logx.String("spec", spec))
	return nil
}

// Stop shuts down in dependency order, bounding each step so one stuck
// component cannot hang the process.
func (a *App) Stop(ctx context.Context) {
	step := func(name string, d time.Duration, fn func(ctx context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("shutdown step failed", logx.String("step", name), logx.Err(err))
		}
	}

	if a.resync != nil {
		step("resync", 5*time.Second, func(ctx context.Context) error {
			select {
			case <-a.resync.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	if a.sup != nil {
		a.sup.Cancel()
	}

	step("notifier", 5*time.Second, func(context.Context) error { a.notif.Stop(); return nil })
	a.tracker.Close()
	step("telegram", 5*time.Second, a.adapter.Stop)
	step("storage", 5*time.Second, func(context.Context) error { return a.store.Close() })

	if a.sup != nil {
		a.sup.Wait()
	}

	a.log.Info("stopped")
	a.logs.Close()
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func trackerRules(cfg *config.Config) (waveplate.Rules, error) {
	rules := waveplate.DefaultRules()
	if cfg.Tracker.Cap < 0 {
		return waveplate.Rules{}, fmt.Errorf("tracker.cap must not be negative")
	}
	if cfg.Tracker.Cap > 0 {
		rules.Cap = cfg.Tracker.Cap
	}
	period, err := config.PositiveDuration("tracker.regen_period", cfg.Tracker.RegenPeriod, rules.RegenPeriod)
	if err != nil {
		return waveplate.Rules{}, err
	}
	rules.RegenPeriod = period
	return rules, nil
}

func storageConfig(cfg *config.Config, env config.Env) storage.Config {
	path := cfg.Storage.Path
	if env.StatePath != "" {
		path = env.StatePath
	}
	if path == "" {
		path = "./state.json"
	}
	busy, _ := config.PositiveDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: busy,
	}
}

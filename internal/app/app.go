package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/engine"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/registry"
	"remindbot/internal/relay"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/logadapter"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

// App wires storage, engine, registry, notifier and relay into one process.
type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	engine  *engine.Engine
	notif   *notifier.Service
	reg     *registry.Registry
	relay   *relay.Relay
	cmds    *router.Manager

	updates chan kit.Update
	actions chan kit.Action
	events  chan relay.Event
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	comp := log.Component

	var ad kit.Adapter
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		log.Warn("telegram.token is empty; alerts are only logged")
		ad = logadapter.New(comp("transport"))
	} else {
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		if ad, err = telegram.New(tc, comp("telegram")); err != nil {
			return nil, err
		}
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		if store, err = storage.Open(sc, comp("storage")); err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; reminders are kept in memory only")
	}

	bus := eventbus.New()

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, comp("notifier"), bus)

	ecfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(ecfg, notif, comp("engine"))

	// A nil storage.Store must reach the registry as a nil interface.
	var regStore registry.Store
	if store != nil {
		regStore = store
	}
	reg := registry.New(eng, regStore, comp("registry"))
	rel := relay.New(reg, eng, notif.Surface, comp("relay"))

	cmds := router.New(comp("router"), ad, cfg.Telegram.OwnerUserIDs)
	cmds.SetCommands(router.ReminderCommands{
		Reminders: reg,
		Details:   notif.Details,
		Location:  notif.Location,
	}.Commands())

	return &App{
		cfgm:    cfgm,
		log:     log.Component("app"),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  eng,
		notif:   notif,
		reg:     reg,
		relay:   rel,
		cmds:    cmds,
		updates: make(chan kit.Update, 64),
		actions: make(chan kit.Action, 64),
		events:  make(chan relay.Event, 64),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, err := mapEngineConfig(cfg)
		return err
	})
	runCtx := a.sup.Context()

	// Alerts fired by the notifier are consumed by one dispatcher, so the
	// relay never runs concurrently with itself.
	a.notif.Start(runCtx, a.actions, a.events)
	a.sup.Go0("relay.dispatch", a.dispatch)

	if err := a.reg.Restore(runCtx); err != nil {
		a.log.Warn("restore failed; starting empty", logx.Err(err))
	}
	a.log.Info("reminders restored", logx.Int("count", a.reg.Len()), logx.Int("armed", len(a.notif.Pending())))

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.cmds.DispatchLoop(c, a.updates, a.actions)
	})
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, a.cmds.Menu()); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(250*time.Millisecond, 5*time.Second))

	a.startSystemd(runCtx)
	a.log.Info("app started")
	return nil
}

func (a *App) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			if err := a.relay.Handle(ctx, ev); err != nil {
				a.log.Warn("alert event not fully applied", logx.String("alert", ev.AlertID), logx.String("kind", string(ev.Kind)), logx.Err(err))
			}
		}
	}
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ae, _ := e.Data.(notifier.AlertEvent)
			switch e.Type {
			case notifier.EventFailed, notifier.EventDropped:
				a.log.Warn("alert not delivered", logx.String("type", e.Type), logx.String("alert", ae.AlertID), logx.String("err", ae.Error))
			default:
				a.log.Debug("event", logx.String("type", e.Type), logx.String("alert", ae.AlertID), logx.Time("time", e.Time))
			}
		}
	}
}

// reloadLoop applies hot-reloadable sections: logging, owners, scheduler
// and notifier pipeline settings. A scheduler change re-arms every reminder.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			sections, attrs := config.SummarizeConfigChange(last, cfg)
			last = cfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			if slices.Contains(sections, "storage") || slices.Contains(sections, "telegram") {
				a.log.Warn("storage/telegram config changed; restart required for changes to take effect")
			}

			a.logs.Apply(mapLoggingConfig(cfg))
			a.cmds.SetOwners(cfg.Telegram.OwnerUserIDs)
			if ecfg, err := mapEngineConfig(cfg); err != nil {
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
			} else {
				a.engine.Apply(ecfg)
				if slices.Contains(sections, "scheduler") {
					if err := a.reg.RefreshAll(ctx); err != nil {
						a.log.Warn("reschedule after config change incomplete", logx.Err(err))
					}
				}
			}
			if ncfg, err := mapNotifierConfig(cfg); err != nil {
				a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
			} else {
				a.notif.Apply(ncfg)
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config applied", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)), logx.Int64("goroutines", a.sup.Active()))
	notifyStopping()

	// The dispatcher keeps running until the notifier has drained, so alerts
	// sent during shutdown still advance their reminders.
	// Each step is bounded and never extends the caller's deadline.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		c, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		start := time.Now()
		if err := fn(c); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

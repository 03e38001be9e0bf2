// Package app builds every component from the config and owns the start
// and stop order.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"kavitabot/internal/alert"
	"kavitabot/internal/commands"
	"kavitabot/internal/config"
	"kavitabot/internal/eventbus"
	"kavitabot/internal/kavita"
	"kavitabot/internal/metrics"
	"kavitabot/internal/reactable"
	"kavitabot/internal/render"
	rtsup "kavitabot/internal/runtime/supervisor"
	"kavitabot/internal/storage"
	"kavitabot/internal/subscription"
	"kavitabot/internal/task/engine"
	"kavitabot/internal/task/loop"
	"kavitabot/internal/task/scheduler"
	kit "kavitabot/internal/transport"
	"kavitabot/internal/transport/discord"
	logx "kavitabot/pkg/logx"
	"kavitabot/pkg/systemd"
)

const (
	updateBuffer   = 256
	submitTimeout  = 5 * time.Second
	registerBudget = 30 * time.Second
)

type App struct {
	cfgm    *config.Manager
	version string

	sup *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	kavita  *kavita.Client
	adapter *discord.Adapter
	engine  *engine.Service
	loop    *loop.Loop
	sched   *scheduler.Service
	reg     *reactable.Registry
	subs    *subscription.Manager
	cmds    *commands.Service
	alerts  *alert.Service
	metrics *metrics.Metrics
	http    *metrics.Server

	updates  chan kit.Update
	started  time.Time
	stopOnce sync.Once
}

// New loads the config and builds the components. Nothing connects until
// Start.
func New(cfgm *config.Manager, version string) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	m := metrics.New()

	kav, err := kavita.New(cfg.Kavita.BaseURL, cfg.Kavita.APIKey,
		kavita.WithTimeout(mapKavitaTimeout(cfg)),
		kavita.WithPluginName(cfg.Kavita.PluginName),
		kavita.WithPublicURL(cfg.Kavita.PublicURL),
		kavita.WithObserver(m),
		kavita.WithLogger(log.With(logx.String("comp", "kavita"))),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("kavita client: %w", err)
	}

	ad, err := discord.New(discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
		Status:  cfg.Discord.Status,
	}, log.With(logx.String("comp", "discord")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("discord adapter: %w", err)
	}

	eng := engine.New(mapEngineConfig(cfg), log.With(logx.String("comp", "engine")))
	lp := loop.New(mapLoopConfig(cfg), eng, log.With(logx.String("comp", "loop")))

	pager, tg, err := buildPager(cfg, ad)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	alertLog := log.With(logx.String("comp", "alert"))
	alerts := alert.NewService(alert.Config{}, pager, bus, alertLog)
	if tg != nil {
		// Only the Telegram chat receives log records; the admin DM is
		// reserved for health and request pages.
		logSvc.SetSink(alert.NewService(alert.Config{}, tg, bus, alertLog))
	}

	reg := reactable.New(store, log.With(logx.String("comp", "reactable")))
	subs := subscription.New(store, kav, log.With(logx.String("comp", "subscription")))
	notif := subscription.NewNotifier(subs, kav, reg, m, log.With(logx.String("comp", "fanout")))

	a := &App{
		cfgm:    cfgm,
		version: version,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		kavita:  kav,
		adapter: ad,
		engine:  eng,
		loop:    lp,
		reg:     reg,
		subs:    subs,
		alerts:  alerts,
		metrics: m,
		updates: make(chan kit.Update, updateBuffer),
	}

	a.cmds = commands.New(commands.Deps{
		Library:    kav,
		Chat:       ad,
		Loop:       lp,
		Subs:       subs,
		Notifier:   notif,
		Reactables: reg,
		Pager:      alerts,
		Observer:   m,
		Status:     a.status,
		Self:       ad.SelfID,
		Log:        log.With(logx.String("comp", "commands")),
	}, mapSettings(cfg))

	a.sched = scheduler.New(mapSchedulerConfig(cfg), lp, a.cmds.Actions(), bus, log.With(logx.String("comp", "scheduler")))
	a.sched.OnMissed(func(ev eventbus.JobEvent) {
		_, _ = systemd.Status(fmt.Sprintf("job %s missed by %s", ev.JobID, ev.Lateness.Round(time.Second)))
	})

	if addr := strings.TrimSpace(cfg.Metrics.Addr); addr != "" {
		var opts []metrics.ServerOption
		if cfg.Metrics.Pprof {
			opts = append(opts, metrics.WithProfiler())
		}
		a.http = metrics.NewServer(addr, m, a.health, log.With(logx.String("comp", "http")), opts...)
	}
	return a, nil
}

// buildPager pages the admin by Discord DM and, when configured, through
// Telegram. The Telegram pager is returned separately for log alerts.
func buildPager(cfg *config.Config, dm kit.Sender) (alert.Pager, *alert.Telegram, error) {
	var pagers alert.Multi
	if id := strings.TrimSpace(cfg.Discord.AdminUserID); id != "" {
		pagers = append(pagers, alert.DiscordDM{Sender: dm, UserID: id})
	}
	var tg *alert.Telegram
	if cfg.Telegram.Token != "" {
		var err error
		tg, err = alert.NewTelegram(alert.TelegramConfig{
			Token:    cfg.Telegram.Token,
			ChatID:   cfg.Telegram.AdminChatID,
			ThreadID: cfg.Telegram.ThreadID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("telegram pager: %w", err)
		}
		pagers = append(pagers, tg)
	}
	return pagers, tg, nil
}

// Done is closed when the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if err := a.reg.Load(runCtx); err != nil {
		a.log.Warn("reactable registry not loaded; starting empty", logx.Err(err))
	}
	if err := a.subs.Load(runCtx); err != nil {
		a.log.Warn("subscriptions not loaded; starting empty", logx.Err(err))
	}
	if err := a.kavita.Authenticate(runCtx); err != nil {
		// The health-check job retries and pages the admin.
		a.log.Error("kavita authentication failed", logx.Err(err))
	}

	// Worker pool and loop drain on Stop, so they must outlive a canceled
	// parent context.
	workCtx := context.WithoutCancel(ctx)
	a.engine.Start(workCtx)
	a.loop.Start(workCtx)

	a.sup.Go0("metrics.consume", func(c context.Context) { a.metrics.Consume(c, a.bus) })
	a.goEventLog()

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	regCtx, cancel := context.WithTimeout(runCtx, registerBudget)
	err := a.adapter.RegisterCommands(regCtx, a.cmds.Specs())
	cancel()
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	cfg := a.cfgm.Get()
	if err := a.reloadJobs(runCtx, cfg.Scheduler.JobsFile); err != nil {
		a.log.Error("jobs not loaded", logx.Err(err))
	}
	a.sched.Start(runCtx)

	a.sup.Go("updates.dispatch", func(c context.Context) error {
		return a.dispatch(c)
	})
	a.goConfigReload()
	a.sup.GoRestart("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })
	if f := strings.TrimSpace(cfg.Scheduler.JobsFile); f != "" {
		a.sup.GoRestart("jobs.watch", func(c context.Context) error {
			return config.WatchFile(c, f, a.log, func() {
				if err := a.reloadJobs(c, f); err != nil {
					a.log.Warn("jobs reload rejected; keeping previous jobs", logx.Err(err))
				}
			})
		})
	}
	if a.http != nil {
		a.sup.Go("http", a.http.Run)
	}

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c, func() bool { return a.Err() == nil }); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})

	a.log.Info("started",
		logx.String("version", a.version),
		logx.Int("jobs", a.sched.Len()),
		logx.Int("subscribers", a.subs.Users()),
		logx.Int("reactables", a.reg.Len()),
	)
	return nil
}

// dispatch hands gateway updates to the command service until ctx ends.
func (a *App) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-a.updates:
			sctx, cancel := context.WithTimeout(ctx, submitTimeout)
			var err error
			switch up.Kind {
			case kit.UpdateCommand:
				err = a.cmds.Dispatch(sctx, up.Command)
			case kit.UpdateReaction:
				err = a.cmds.HandleReaction(sctx, up.Reaction)
			}
			cancel()
			if err != nil && !errors.Is(err, commands.ErrUnknownCommand) {
				a.log.Warn("update not handled", logx.String("kind", string(up.Kind)), logx.Err(err))
			}
		}
	}
}

func (a *App) goEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// goConfigReload applies published configs. Logging, command settings and
// the job source change in place; other sections need a restart.
func (a *App) goConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	changed, attrs := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config changed", append([]logx.Field{logx.Strings("sections", changed)}, attrs...)...)

	a.logs.Apply(mapLogConfig(next))
	a.cmds.SetSettings(mapSettings(next))
	for _, s := range changed {
		if s != "scheduler" {
			continue
		}
		if prev.Scheduler.Timezone != next.Scheduler.Timezone {
			a.log.Warn("scheduler.timezone changes apply after restart")
		}
		if err := a.reloadJobs(ctx, next.Scheduler.JobsFile); err != nil {
			a.log.Warn("jobs reload rejected; keeping previous jobs", logx.Err(err))
		}
	}
	if !config.HotReloadable(changed) {
		a.log.Warn("some config changes apply after restart", logx.Strings("sections", changed))
	}
}

func (a *App) status() render.BotStatus {
	return render.BotStatus{
		Version:       a.version,
		Started:       a.started,
		Jobs:          a.sched.Len(),
		Subscribers:   a.subs.Users(),
		Reactables:    a.reg.Len(),
		Authenticated: a.kavita.Authenticated(),
	}
}

func (a *App) health() metrics.Health {
	snap := a.engine.Snapshot()
	h := metrics.Health{
		Status:        "ok",
		Jobs:          a.sched.Len(),
		LoopDepth:     a.loop.Depth(),
		WorkerQueue:   snap.QueueLen,
		Authenticated: a.kavita.Authenticated(),
		Gateway:       a.adapter.SelfID() != "",
		Uptime:        time.Since(a.started).Round(time.Second).String(),
	}
	if !h.Gateway || a.Err() != nil {
		h.Status = "degraded"
	}
	return h
}

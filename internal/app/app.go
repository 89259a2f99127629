package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"stalker/internal/config"
	"stalker/internal/discord"
	"stalker/internal/engine"
	"stalker/internal/event"
	"stalker/internal/eventbus"
	"stalker/internal/fallback"
	"stalker/internal/metrics"
	"stalker/internal/msglog"
	"stalker/internal/notifier"
	"stalker/internal/poller"
	"stalker/internal/runtime/supervisor"
	"stalker/internal/sink"
	"stalker/internal/sink/telegram"
	"stalker/internal/snapshot"
	"stalker/internal/watchlist"
	logx "stalker/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	watch    *watchlist.Registry
	engine   *engine.Engine
	notif    *notifier.Service
	poller   *poller.Poller
	metrics  *metrics.Metrics
	resolver *fallback.Resolver
	source   *discord.Source
	telegram *telegram.Adapter
	recorder *msglog.Recorder

	storesMu sync.Mutex
	stores   []msglog.Store
}

// New loads the config at cfgPath and builds every component. Nothing connects until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogging(cfg))
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		watch:   watchlist.New(watchlist.Parse(cfg.Stalker.WatchedSubjectIDs)...),
		metrics: metrics.New(),
	}

	a.source, err = discord.NewSource(discord.Config{
		Token:         cfg.Discord.Token,
		Bot:           cfg.Discord.Bot,
		StateMessages: cfg.Discord.StateMessages,
	}, a.bus, root.With(logx.String("comp", "discord")))
	if err != nil {
		return nil, err
	}
	session := a.source.Session()

	ttl, err := config.ParseDurationField("discord.directory_ttl", cfg.Discord.DirectoryTTL)
	if err != nil {
		return nil, err
	}
	dir, err := discord.NewDirectory(session, cfg.Discord.DirectorySize, ttl, root.With(logx.String("comp", "directory")))
	if err != nil {
		return nil, err
	}
	profiles := discord.NewProfileFetcher(session, cfg.Discord.APIBase)

	loader, err := a.messageLog(cfg, root.With(logx.String("comp", "msglog")))
	if err != nil {
		return nil, err
	}
	a.resolver = fallback.NewResolver(a.source.Live(), loader, root.With(logx.String("comp", "fallback")))

	sinks := sink.Multi{sink.NewLog(root.With(logx.String("comp", "sink")), "")}
	if cfg.Telegram.Enabled {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		a.telegram, err = telegram.New(telegram.Config{
			Token:        cfg.Telegram.Token,
			OwnerUserIDs: cfg.Telegram.OwnerUserIDs,
			ChatID:       cfg.Telegram.ChatID,
			PollTimeout:  pollTimeout,
		}, commands{a}, a.Status, root.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a.telegram)
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, sinks, root.With(logx.String("comp", "notifier")), a.bus)

	seed, err := mapSeedConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(engine.Deps{
		Watch:         a.watch,
		Snapshots:     snapshot.NewCache(),
		Resolver:      a.resolver,
		Directory:     dir,
		Profiles:      profiles,
		Notifier:      a.notif,
		Bus:           a.bus,
		Observer:      a.metrics,
		Log:           root,
		Workers:       cfg.Engine.Workers,
		AdvisoryURL:   cfg.Engine.AdvisoryURL,
		Seed:          seed,
		OnWatchChange: a.persistWatchlist,
	}, mapSettings(cfg))
	a.engine.SetViewing(cfg.Stalker.ViewingChannelID)

	pcfg, err := mapPollerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.poller = poller.New(pcfg, profiles, a.watch.IDs, a.publish, root.With(logx.String("comp", "poller")))
	if err := a.poller.Validate(firstNonEmpty(pcfg.Spec, poller.DefaultSpec)); err != nil {
		return nil, err
	}

	a.metrics.SetWatched(a.watch.Len())
	return a, nil
}

// messageLog opens the recording store (if any) and returns the loader for the fallback
// resolver. A recording store doubles as the primary fallback source.
func (a *App) messageLog(cfg *config.Config, log logx.Logger) (fallback.Loader, error) {
	primary, secondary, enabled, err := mapMessageLogConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return func(context.Context) (fallback.Provider, error) {
			return nil, fmt.Errorf("%w: %w", fallback.ErrUnavailable, msglog.ErrDisabled)
		}, nil
	}

	open := func(c msglog.Config) fallback.Loader {
		return func(context.Context) (fallback.Provider, error) {
			st, err := msglog.Open(c, log)
			if err != nil {
				return nil, err
			}
			if st == nil {
				return nil, msglog.ErrDisabled
			}
			a.keepStore(st)
			return st, nil
		}
	}

	var first fallback.Loader
	if cfg.MessageLog.Record {
		st, err := msglog.Open(primary, log)
		if err != nil {
			return nil, fmt.Errorf("open message log: %w", err)
		}
		a.keepStore(st)
		a.recorder = msglog.NewRecorder(st, log)
		first = func(context.Context) (fallback.Provider, error) { return st, nil }
	} else {
		first = open(primary)
	}

	var second fallback.Loader
	if secondary.Path != "" {
		second = open(secondary)
	}
	return fallback.TwoPathLoader(log, first, second), nil
}

func (a *App) keepStore(st msglog.Store) {
	a.storesMu.Lock()
	a.stores = append(a.stores, st)
	a.storesMu.Unlock()
}

// publish puts a polled profile on the bus as if the gateway had sent it.
func (a *App) publish(ev event.Event) {
	a.bus.Publish(eventbus.Event{Type: eventbus.GatewayTopic(string(ev.Kind())), Data: ev})
}

// persistWatchlist writes watch changes made through commands back to the config file.
func (a *App) persistWatchlist(ids []string) {
	a.metrics.SetWatched(len(ids))
	_, err := a.cfgm.Update(func(cfg *config.Config) error {
		cfg.Stalker.WatchedSubjectIDs = watchlist.Join(ids)
		return nil
	})
	if err != nil {
		a.log.Warn("failed to persist watch list", logx.Err(err))
	}
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

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := validate(cfg); err != nil {
			return err
		}
		return a.poller.Validate(firstNonEmpty(cfg.ProfilePoll.Spec, poller.DefaultSpec))
	})

	if a.notif.Enabled() {
		a.notif.Start(run)
	}

	gateway, unsubGateway := a.bus.Subscribe(1024, eventbus.TopicGatewayPrefix)
	a.sup.Go0("engine.dispatch", func(c context.Context) {
		defer unsubGateway()
		a.engine.Run(c, gateway)
	})

	if a.recorder != nil {
		msgs, unsub := a.bus.Subscribe(1024,
			eventbus.GatewayTopic(string(event.KindMessageCreated)),
			eventbus.GatewayTopic(string(event.KindMessageEdited)),
		)
		a.sup.Go0("msglog.record", func(c context.Context) {
			defer unsub()
			a.recorder.Run(c, msgs)
		})
	}

	notifications, unsubNotif := a.bus.Subscribe(256, "notifier.")
	a.sup.Go0("metrics.consume", func(c context.Context) {
		defer unsubNotif()
		a.metrics.Consume(c, notifications)
	})

	if cfg := a.cfgm.Get(); cfg != nil && cfg.Metrics.Enabled {
		mc := mapMetricsConfig(cfg)
		a.sup.GoRestart("metrics.http", func(c context.Context) error {
			return a.metrics.Serve(c, mc, a.log.With(logx.String("comp", "metrics")))
		}, supervisor.WithRestartBackoff(time.Second, time.Minute))
	}

	// Baselines are seeded over REST before the gateway delivers live events.
	a.engine.Seed(run, a.watch.IDs())

	if err := a.source.Open(); err != nil {
		return err
	}
	if a.telegram != nil {
		a.telegram.Start(run)
	}

	a.sup.Go0("fallback.probe", func(c context.Context) {
		a.metrics.SetFallbackAvailable(a.engine.Advise(c))
	})

	if err := a.poller.Start(run); err != nil {
		return err
	}

	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.Int("watched", a.watch.Len()))
	return nil
}

// startReload fans config changes out to the running components.
func (a *App) startReload() {
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
				// Coalesce bursts: keep only the latest config in the channel.
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
				applyEnv(newCfg)
				a.apply(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	a.logs.Apply(mapLogging(next))

	if changed("stalker") {
		a.engine.ApplySettings(mapSettings(next))
		if prev == nil || prev.Stalker.ViewingChannelID != next.Stalker.ViewingChannelID {
			a.engine.SetViewing(next.Stalker.ViewingChannelID)
		}
	}
	if changed("watchlist") {
		a.engine.ReconcileWatchlist(ctx, watchlist.Parse(next.Stalker.WatchedSubjectIDs))
		a.metrics.SetWatched(a.watch.Len())
	}

	if changed("notifier") {
		prevEnabled := a.notif.Enabled()
		ncfg, err := mapNotifierConfig(next)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
			if prevEnabled && !ncfg.Enabled {
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			} else if !prevEnabled && ncfg.Enabled {
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if changed("profile_poll") {
		pcfg, err := mapPollerConfig(next)
		if err == nil {
			err = a.poller.Apply(pcfg)
		}
		if err != nil {
			a.log.Warn("invalid profile_poll config; poller not restarted", logx.Err(err))
		}
	}

	var restart []string
	for _, s := range []string{"discord", "telegram", "message_log", "metrics", "engine"} {
		if changed(s) {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Status is the one-line health summary shown by the /status command.
func (a *App) Status() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "watching %d", a.watch.Len())
	if v := a.engine.Viewing(); v != "" {
		fmt.Fprintf(&sb, " | focus %s", v)
	}
	fmt.Fprintf(&sb, " | queue %d", a.notif.QueueLen())
	fmt.Fprintf(&sb, " | pending %d", a.engine.Pending())
	if a.resolver.Available() {
		sb.WriteString(" | message log ok")
	} else {
		sb.WriteString(" | message log missing")
	}
	if h := a.notif.History(); len(h) > 0 {
		last := h[len(h)-1]
		fmt.Fprintf(&sb, "\nlast: %s (%s)", last.Title, last.At.Format(time.RFC3339))
	}
	return sb.String()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
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
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("poller", 2*time.Second, func(context.Context) error { a.poller.Stop(); return nil })
	step("discord", 2*time.Second, func(context.Context) error { return a.source.Close() })
	if a.telegram != nil {
		step("telegram", 2*time.Second, a.telegram.Stop)
	}
	step("engine", 3*time.Second, func(context.Context) error { a.engine.Stop(); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("msglog", time.Second, func(context.Context) error {
		a.storesMu.Lock()
		stores := a.stores
		a.stores = nil
		a.storesMu.Unlock()
		var errs []error
		for _, st := range stores {
			errs = append(errs, st.Close())
		}
		return errors.Join(errs...)
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// commands routes operator commands to the engine and persists focus changes.
type commands struct{ a *App }

func (c commands) Watch(ctx context.Context, id string) (string, error) {
	return c.a.engine.Watch(ctx, id)
}

func (c commands) Unwatch(ctx context.Context, id string) (string, error) {
	return c.a.engine.Unwatch(ctx, id)
}

func (c commands) Focus(channelID string) string {
	msg := c.a.engine.Focus(channelID)
	_, err := c.a.cfgm.Update(func(cfg *config.Config) error {
		cfg.Stalker.ViewingChannelID = strings.TrimSpace(channelID)
		return nil
	})
	if err != nil {
		c.a.log.Warn("failed to persist focus", logx.Err(err))
	}
	return msg
}

func (c commands) List(ctx context.Context) []event.Subject { return c.a.engine.List(ctx) }

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

var (
	_ sink.Sink        = (*telegram.Adapter)(nil)
	_ engine.Forgetter = (*discord.Directory)(nil)
)

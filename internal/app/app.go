// Package app wires the tracker, its collaborators and the chat surface into
// one long-running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"puddlebot/internal/announcer"
	"puddlebot/internal/commands"
	"puddlebot/internal/config"
	"puddlebot/internal/eventbus"
	"puddlebot/internal/notifier"
	"puddlebot/internal/ops"
	"puddlebot/internal/puddle"
	rtsup "puddlebot/internal/runtime/supervisor"
	"puddlebot/internal/storage"
	"puddlebot/internal/task/scheduler"
	"puddlebot/internal/tracker"
	kit "puddlebot/internal/transport"
	telegram "puddlebot/internal/transport/telegram"
	logx "puddlebot/pkg/logx"
	"puddlebot/pkg/systemd"
)

// PollJob is the scheduler entry that triggers tracker cycles.
const PollJob = "tracker.poll"

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	client  *puddle.Client
	adapter kit.Adapter

	notif *notifier.Service
	ann   *announcer.Announcer
	trk   *tracker.Tracker
	sched *scheduler.Service
	ops   *ops.Service
	cmds  *commands.Dispatcher

	sd      systemd.Notifier
	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component. Nothing is
// started yet.
func New(cfgPath string) (_ *App, err error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, root := logx.New(mapLogging(cfg), nil)
	log := root.With(logx.String("comp", "app"))
	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			_ = logs.Close()
		}
	}()

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout},
		root.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logs.SetSender(ad)

	bus := eventbus.New()

	store, err := OpenStore(cfg, root)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func() { _ = store.Close() })
	if seeds := Seeds(cfg); len(seeds) > 0 {
		n, err := storage.SeedPlayers(context.Background(), store, seeds)
		if err != nil {
			return nil, fmt.Errorf("seed players: %w", err)
		}
		log.Info("players seeded from config", logx.Int("count", n))
	}

	client, err := NewClient(cfg, root)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func() { _ = client.Close() })

	ncfg, err := NotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, root, bus)

	ann, err := announcer.New(AnnouncerConfig(cfg), notif, root)
	if err != nil {
		return nil, err
	}
	if cfg.Announcer.ChatID == 0 {
		log.Warn("announcer.chat_id is not set; new matches stay unannounced and cursors will not advance")
	}

	trk, err := tracker.New(TrackerConfig(cfg), tracker.Deps{
		Fetcher:   client,
		Store:     store,
		Players:   store,
		Announcer: ann,
		Bus:       bus,
		Logger:    root.With(logx.String("comp", "tracker")),
	})
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(mapScheduler(cfg), root, bus)
	ps, err := mapPollSchedule(cfg)
	if err != nil {
		return nil, err
	}
	if err := sched.AddSchedule(PollJob, ps.spec, ps.timeout, trk.Trigger); err != nil {
		return nil, fmt.Errorf("tracker.schedule: %w", err)
	}

	ocfg, err := mapOps(cfg)
	if err != nil {
		return nil, err
	}
	cmds, err := commands.New(commands.Deps{
		Adapter:  ad,
		Registry: store,
		Upstream: client,
		Tracker:  trk,
		PollNow:  func() bool { return sched.RunNow(PollJob) },
		Logger:   root,
		Owners:   cfg.Telegram.OwnerUserIDs,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		client:  client,
		adapter: ad,
		notif:   notif,
		ann:     ann,
		trk:     trk,
		sched:   sched,
		cmds:    cmds,
		updates: make(chan kit.Update, 64),
	}
	a.ops = ops.New(ocfg, ops.Sources{
		Tracker:   trk,
		Scheduler: sched,
		Notifier:  notif,
		Runtime:   a,
		Upstream:  client,
		Started:   time.Now(),
	}, root)
	return a, nil
}

// Snapshot reports the supervised goroutines. It is empty before Start.
func (a *App) Snapshot() rtsup.Snapshot { return a.sup.Snapshot() }

// Done is closed when the app supervisor context is cancelled.
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
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateReload(cfg) })

	if err := a.adapter.Start(run, a.updates); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}
	a.notif.Start(run)
	if a.sched.Enabled() {
		a.sched.Start(run)
		// First cycle right away instead of one interval after boot.
		a.sched.RunNow(PollJob)
	} else {
		a.log.Warn("tracker disabled via config; polling is off")
	}
	if a.ops.Enabled() {
		a.ops.Start(run)
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.Run(c, a.updates)
	})
	a.sup.Go0("events.watch", a.watchEvents)
	if every := systemd.WatchdogInterval(); every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) { a.watchdog(c, every) })
	}
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	if _, err := a.sd.Ready(); err != nil {
		a.log.Warn("systemd ready notify failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.String("schedule", a.cfgm.Get().Tracker.Schedule),
	)
	return nil
}

// watchEvents logs tracker and delivery events and mirrors the cycle outcome
// into the systemd status line.
func (a *App) watchEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128, "tracker.", "notifier.failed", "notifier.dropped", "scheduler.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case tracker.EventCycleFinished:
				sum, _ := e.Data.(tracker.CycleSummary)
				status := fmt.Sprintf("%s; last cycle: %d/%d players ok, %d new",
					a.trk.State(), sum.Succeeded, sum.Players, sum.NewMatches)
				_, _ = a.sd.Status(status)
				_, _ = a.sd.Watchdog()
			case notifier.EventFailed, notifier.EventDropped:
				a.log.Warn("announcement not delivered", logx.String("event", e.Type))
			default:
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

// watchdog pings systemd while the supervisor is healthy.
func (a *App) watchdog(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := a.sd.Watchdog(); err != nil {
				a.log.Debug("systemd watchdog notify failed", logx.Err(err))
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts to the newest config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.apply(ctx, last, next)
			last = next
		}
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	ch := config.SummarizeChange(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.RestartOnly) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", ch.RestartOnly))
	}

	if ch.Has("logging") {
		a.logs.Apply(mapLogging(next))
	}
	if ch.Has("telegram") {
		a.cmds.SetOwners(next.Telegram.OwnerUserIDs)
	}
	if ch.Has("tracker") {
		a.applyTracker(ctx, next)
	}
	if ch.Has("announcer") {
		if ncfg, err := NotifierConfig(next); err != nil {
			a.log.Warn("invalid announcer pacing; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
		if err := a.ann.Apply(AnnouncerConfig(next)); err != nil {
			a.log.Warn("invalid announcer target; keeping previous", logx.Err(err))
		}
	}
	if ch.Has("ops") {
		if ocfg, err := mapOps(next); err != nil {
			a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
		} else {
			a.ops.Reconfigure(ctx, ocfg)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyTracker(ctx context.Context, next *config.Config) {
	a.trk.Apply(TrackerConfig(next))

	if seeds := Seeds(next); len(seeds) > 0 {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if _, err := storage.SeedPlayers(sctx, a.store, seeds); err != nil {
			a.log.Warn("player seed on reload failed", logx.Err(err))
		}
		cancel()
	}

	if ps, err := mapPollSchedule(next); err != nil {
		a.log.Warn("invalid tracker schedule; keeping previous", logx.Err(err))
	} else if err := a.sched.AddSchedule(PollJob, ps.spec, ps.timeout, a.trk.Trigger); err != nil {
		a.log.Warn("tracker schedule rejected; keeping previous", logx.Err(err))
	}

	wasEnabled := a.sched.Enabled()
	a.sched.Apply(mapScheduler(next))
	switch enabled := next.Tracker.IsEnabled(); {
	case wasEnabled && !enabled:
		a.log.Info("tracker disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && enabled:
		a.log.Info("tracker enabled via config")
		a.sched.Start(a.sup.Context())
	}
}

// Stop shuts components down in dependency order, bounding each step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping()
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("client", time.Second, func(context.Context) error { return a.client.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	err := errors.Join(errs...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"feedbot/internal/config"
	"feedbot/internal/eventbus"
	"feedbot/internal/feed"
	"feedbot/internal/fetch"
	"feedbot/internal/gateway"
	"feedbot/internal/observability/debugsrv"
	"feedbot/internal/observability/metrics"
	"feedbot/internal/runtime/supervisor"
	"feedbot/internal/scheduler"
	kit "feedbot/internal/transport"
	"feedbot/internal/transport/irc"
	logx "feedbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	inst  config.InstanceConfig
	feeds []feed.Feed

	adapter *irc.Adapter
	pool    *fetch.Pool
	sched   *scheduler.Service
	gw      *gateway.Service
	metrics *metrics.Service
	debug   *debugsrv.Service

	updates chan kit.Update
	results chan fetch.Result
	runq    chan func()
}

// NewApp loads the config file, selects the instance and wires every
// component. Nothing touches the network yet; Start does.
func NewApp(cfgPath, instance string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	for _, in := range cfg.Instances {
		if err := config.ValidateInstance(in); err != nil {
			return nil, fmt.Errorf("%s: %w", cfgPath, err)
		}
	}
	inst, err := config.SelectInstance(cfg, cfgPath, instance)
	if err != nil {
		return nil, err
	}

	feeds, err := feed.ParseOPML(inst.OpmlPath)
	if err != nil {
		return nil, fmt.Errorf("instance %q: load subscriptions: %w", inst.Name, err)
	}

	rt, err := mapGatewayConfig(cfg)
	if err != nil {
		return nil, err
	}

	// The adapter is the logger's notice sink, so it exists first and
	// keeps a plain console logger for its own output.
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "irc"))
	ad, err := irc.New(irc.Config{
		Server:     inst.Server,
		Port:       inst.Port,
		Nick:       inst.Nick,
		Realname:   inst.Ircname + " (RSS feed)",
		RatePerSec: rt.sendRate,
		Burst:      rt.sendBurst,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	fetcher := fetch.NewFetcher(rt.fetchTimeout)
	queue := len(feeds)
	if queue < 1 {
		queue = 1
	}
	results := make(chan fetch.Result, queue)
	pool := fetch.NewPool(fetch.Config{
		Workers: fetch.WorkerCount(rt.maxWorkers, len(feeds)),
		Queue:   queue,
	}, log.With(logx.String("comp", "fetch")), bus, fetcher.Fetch, results)

	runq := make(chan func(), 16)
	sched := scheduler.New(log.With(logx.String("comp", "scheduler")), runq)

	updates := make(chan kit.Update, 64)
	gw, err := gateway.New(gateway.Config{
		Channel:            inst.Channel,
		Multisource:        inst.Multisource,
		ExtractURL:         inst.ExtractURL,
		IncludeDescription: inst.IncludeDescription,
		RefreshEvery:       time.Duration(inst.RefreshMinutes) * time.Minute,
		DrainEvery:         rt.drain,
		ReconnectCooldown:  rt.cooldown,
		ReconnectRetry:     rt.retry,
	}, log.With(logx.String("comp", "gateway")), gateway.Deps{
		Conn:    ad,
		Sched:   sched,
		Pool:    pool,
		Bus:     bus,
		Feeds:   feeds,
		Updates: updates,
		Results: results,
		Run:     runq,
	})
	if err != nil {
		return nil, err
	}

	met := metrics.New(log.With(logx.String("comp", "metrics")), bus)

	dbgCfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		inst:    inst,
		feeds:   feeds,
		adapter: ad,
		pool:    pool,
		sched:   sched,
		gw:      gw,
		metrics: met,
		updates: updates,
		results: results,
		runq:    runq,
	}
	a.debug = debugsrv.New(dbgCfg, log.With(logx.String("comp", "debugsrv")), met.Handler(), a.statusSnapshot)
	return a, nil
}

// Done closes when the run context ends, either a fatal component
// error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err reports what, if anything, killed the run context.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) statusSnapshot() any {
	st := struct {
		Instance string `json:"instance"`
		Server   string `json:"server"`
		Channel  string `json:"channel"`
		Feeds    int    `json:"feeds"`
		App      any    `json:"app,omitempty"`
	}{
		Instance: a.inst.Name,
		Server:   fmt.Sprintf("%s:%d", a.inst.Server, a.inst.Port),
		Channel:  a.inst.Channel,
		Feeds:    len(a.feeds),
	}
	if a.sup != nil {
		st.App = a.sup.Snapshot()
	}
	return st
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// A rejected config never reaches Commit, so the reload loop below
	// only ever sees validated configs.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		for _, in := range cfg.Instances {
			if err := config.ValidateInstance(in); err != nil {
				return err
			}
		}
		if _, err := mapGatewayConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	a.metrics.Start(a.sup.Context())
	a.pool.Start(a.sup.Context())
	a.sched.Start()
	if err := a.gw.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}

	// Debug-level event trace; metrics consumes the same stream itself.
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

	// Applies validated config changes while running. Logging and the
	// debug server reconfigure live; the rest warns and waits for a
	// restart.
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
				// Coalesce bursts: keep only the latest config.
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
				sections, attrs, restart := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				if len(restart) > 0 {
					a.log.Warn("config change needs a restart to take effect",
						logx.String("sections", strings.Join(restart, ",")))
				}

				a.logs.Apply(mapLoggingConfig(newCfg))

				if dbgCfg, err := mapDebugConfig(newCfg); err != nil {
					a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
				} else {
					a.debug.Reconfigure(c, dbgCfg)
				}

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// The first connect is part of startup: an unreachable server is a
	// fatal configuration problem, later drops are the gateway's job.
	if err := a.adapter.Connect(); err != nil {
		return fmt.Errorf("connect %s:%d: %w", a.inst.Server, a.inst.Port, err)
	}

	a.log.Info("app started",
		logx.String("instance", a.inst.Name),
		logx.String("channel", a.inst.Channel),
		logx.Int("feeds", len(a.feeds)))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context up front; every loop starts unwinding
	// while the bounded steps below collect them in order.
	a.sup.Cancel()

	// step bounds one shutdown stage. A component that overruns its
	// window is logged and left behind, not waited for.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// The caller's deadline caps every step; max never extends it.
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn is expected to honor stepCtx; one that is still running
			// here has leaked past its window and gets logged as such.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// No new triggers first, then the loop, then the connection (QUIT),
	// then whatever is still fetching.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("gateway", 2*time.Second, func(c context.Context) error { return a.gw.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("fetchpool", 2*time.Second, func(c context.Context) error { a.pool.Stop(c); return nil })
	step("debugsrv", 1*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("metrics", 1*time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })

	// Finally, wait for supervised goroutines (config watch/reload, event trace).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Package gateway is the event loop at the middle of the bot: one
// goroutine that owns the IRC connection state, the seen-set and the
// poll bookkeeping. Fetches run elsewhere (internal/fetch); their
// results come back over a channel and are only touched here. The
// scheduler never runs callbacks itself either, it posts them onto
// the run queue so they execute on this goroutine too.
//
// Keeping every mutation on one goroutine is what makes the rest of
// the package lock-free: no field of Service past construction is
// accessed from anywhere else.
package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"feedbot/internal/eventbus"
	"feedbot/internal/feed"
	"feedbot/internal/fetch"
	"feedbot/internal/runtime/supervisor"
	kit "feedbot/internal/transport"
	logx "feedbot/pkg/logx"
)

const versionReply = "VERSION RSS->IRC gateway"

// Submitter queues one feed fetch. Implemented by fetch.Pool.
type Submitter interface {
	Submit(f feed.Feed) bool
}

// Scheduler fires callbacks on the gateway's run queue.
type Scheduler interface {
	Every(name string, interval time.Duration, fn func()) error
	After(name string, delay time.Duration, fn func())
}

type Config struct {
	Channel string

	Multisource        bool
	ExtractURL         bool
	IncludeDescription bool

	// RefreshEvery is the poll cadence (refresh_minutes converted by
	// the caller). Required.
	RefreshEvery time.Duration
	// DrainEvery is the result-queue drain cadence. Default 1s.
	DrainEvery time.Duration

	// ReconnectCooldown is slept before a reconnect attempt,
	// ReconnectRetry delays the re-run after a failed attempt.
	// Both default to 60s.
	ReconnectCooldown time.Duration
	ReconnectRetry    time.Duration
}

type Deps struct {
	Conn  kit.Adapter
	Sched Scheduler
	Pool  Submitter
	Bus   eventbus.Bus
	Feeds []feed.Feed

	Updates <-chan kit.Update
	Results <-chan fetch.Result
	Run     <-chan func()
}

type Service struct {
	cfg   Config
	log   logx.Logger
	conn  kit.Adapter
	sched Scheduler
	pool  Submitter
	bus   eventbus.Bus
	feeds []feed.Feed

	updates <-chan kit.Update
	results <-chan fetch.Result
	run     <-chan func()

	// Loop-owned. Only the loop goroutine touches these.
	store     *feed.Store
	state     pollState
	scheduled bool
	loopCtx   context.Context
	loopStop  <-chan struct{}

	mu     sync.Mutex
	sup    *supervisor.Supervisor
	stopCh chan struct{}
}

func New(cfg Config, log logx.Logger, d Deps) (*Service, error) {
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, errors.New("gateway: channel is required")
	}
	if cfg.RefreshEvery <= 0 {
		return nil, errors.New("gateway: refresh interval must be positive")
	}
	if d.Conn == nil || d.Sched == nil || d.Pool == nil {
		return nil, errors.New("gateway: conn, sched and pool are required")
	}
	if d.Updates == nil || d.Results == nil || d.Run == nil {
		return nil, errors.New("gateway: updates, results and run channels are required")
	}
	if cfg.DrainEvery <= 0 {
		cfg.DrainEvery = time.Second
	}
	if cfg.ReconnectCooldown <= 0 {
		cfg.ReconnectCooldown = 60 * time.Second
	}
	if cfg.ReconnectRetry <= 0 {
		cfg.ReconnectRetry = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		conn:    d.Conn,
		sched:   d.Sched,
		pool:    d.Pool,
		bus:     d.Bus,
		feeds:   d.Feeds,
		updates: d.Updates,
		results: d.Results,
		run:     d.Run,
		store:   feed.NewStore(),
		loopCtx: context.Background(),
	}, nil
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return nil
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(s.log.With(logx.String("comp", "gateway"))),
		supervisor.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.Go0("loop", func(c context.Context) {
		s.loop(c, stopCh)
	})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return nil
	}
	stopCh, sup := s.stopCh, s.sup
	s.stopCh, s.sup = nil, nil
	s.mu.Unlock()

	close(stopCh)
	return sup.Stop(ctx)
}

func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}) {
	s.loopCtx = ctx
	s.loopStop = stopCh
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case up := <-s.updates:
			s.handleUpdate(up)
		case fn := <-s.run:
			fn()
		}
	}
}

func (s *Service) handleUpdate(up kit.Update) {
	switch up.Kind {
	case kit.UpdateConnected:
		s.log.Info("connected, joining", logx.String("channel", s.cfg.Channel))
		s.publish(eventbus.EventConnected, nil)
		if err := s.conn.Join(s.cfg.Channel); err != nil {
			s.log.Error("join failed", logx.String("channel", s.cfg.Channel), logx.Err(err))
		}
	case kit.UpdateJoined:
		if up.Joined != nil {
			s.onJoined(up.Joined.Channel)
		}
	case kit.UpdateDisconnected:
		reason := ""
		if up.Disconnected != nil {
			reason = up.Disconnected.Reason
		}
		s.onDisconnected(reason)
	case kit.UpdateMessage:
		if up.Message != nil {
			s.onMessage(up.Message)
		}
	case kit.UpdateVersion:
		if up.Version != nil {
			s.log.Debug("version query", logx.String("from", up.Version.Nick))
			if err := s.conn.CTCPReply(up.Version.Nick, versionReply); err != nil {
				s.log.Debug("version reply failed", logx.Err(err))
			}
		}
	}
}

// onJoined runs a poll cycle on every join. The periodic poll and
// drain triggers are registered once; a re-join after a reconnect
// must not stack a second set of timers.
func (s *Service) onJoined(channel string) {
	s.log.Info("joined", logx.String("channel", channel))
	s.pollAll()
	if s.scheduled {
		return
	}
	s.scheduled = true
	if err := s.sched.Every("poll", s.cfg.RefreshEvery, s.pollAll); err != nil {
		s.log.Error("poll trigger registration failed", logx.Err(err))
	}
	if err := s.sched.Every("drain", s.cfg.DrainEvery, s.drain); err != nil {
		s.log.Error("drain trigger registration failed", logx.Err(err))
	}
}

func (s *Service) onDisconnected(reason string) {
	s.log.Warn("disconnected", logx.String("reason", reason))
	s.publish(eventbus.EventDisconnected, DisconnectEvent{Reason: reason})
	s.reconnect()
}

// reconnect blocks the loop goroutine for the cooldown on purpose.
// Polls and drains stall with it; they would no-op against a dead
// connection anyway. On failure the whole handler re-runs after the
// retry delay, indefinitely.
func (s *Service) reconnect() {
	if !s.pause(s.cfg.ReconnectCooldown) {
		return
	}
	s.publish(eventbus.EventReconnectTry, nil)
	if err := s.conn.Connect(); err != nil {
		s.log.Error("reconnect failed", logx.Err(err))
		s.publish(eventbus.EventReconnectErr, nil)
		s.sched.After("reconnect", s.cfg.ReconnectRetry, s.reconnect)
	}
}

func (s *Service) onMessage(m *kit.Message) {
	if !m.Private {
		return
	}
	switch {
	case strings.HasPrefix(m.Text, "~msg "):
		parts := strings.SplitN(m.Text, " ", 3)
		if len(parts) != 3 {
			return
		}
		target, body := parts[1], parts[2]
		if err := s.conn.SendMessage(target, body); err != nil {
			s.log.Warn("relay failed", logx.String("target", target), logx.Err(err))
			return
		}
		if err := s.conn.SendMessage(m.Nick, "Sent to "+target+": "+body); err != nil {
			s.log.Warn("relay confirmation failed", logx.String("nick", m.Nick), logx.Err(err))
		}
		s.log.Debug("relayed message", logx.String("from", m.Nick), logx.String("target", target))
	case strings.HasPrefix(m.Text, "~refresh"):
		s.log.Info("manual refresh", logx.String("from", m.Nick))
		s.pollAll()
	}
}

// pause sleeps d unless the service is stopping.
func (s *Service) pause(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.loopCtx.Done():
		return false
	case <-s.loopStop:
		return false
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

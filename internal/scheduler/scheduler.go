// Package scheduler fires registered callbacks by posting them onto a
// single run queue. It is trigger-only: the queue's owner (the gateway
// event loop) executes the callbacks one at a time, so everything they
// touch stays on that loop.
//
// Periodic ticks are droppable: when the loop is busy the next tick
// comes around anyway. One-shots are not. A lost one-shot would stall
// the reconnect retry chain, so their post blocks until the loop takes
// it.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "feedbot/pkg/logx"
)

type Service struct {
	log logx.Logger
	run chan<- func()

	mu     sync.Mutex
	parser cron.Parser
	c      *cron.Cron
	stopCh chan struct{}

	tmu    sync.Mutex
	seq    uint64
	timers map[uint64]*time.Timer
}

func New(log logx.Logger, run chan<- func()) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log: log,
		run: run,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers: map[uint64]*time.Timer{},
	}
}

// Start is idempotent.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser))
	s.stopCh = make(chan struct{})
	s.c.Start()
}

// Stop halts cron triggering and cancels pending one-shots. Bounded
// by ctx; cron finishes a firing tick in the background if it must.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	stopCh := s.stopCh
	s.c = nil
	s.stopCh = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	close(stopCh)

	s.tmu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.tmu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Every registers a periodic callback. The first fire happens one
// interval from now, not immediately; callers wanting an immediate
// run invoke fn themselves. Returns an error before Start.
func (s *Service) Every(name string, interval time.Duration, fn func()) error {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	if c == nil {
		return errors.New("scheduler: not started")
	}
	spec := "@every " + interval.String()
	_, err := c.AddFunc(spec, func() { s.postTick(name, fn) })
	if err != nil {
		return err
	}
	s.log.Debug("periodic registered", logx.String("job", name), logx.Duration("interval", interval))
	return nil
}

// After registers a one-shot callback.
func (s *Service) After(name string, delay time.Duration, fn func()) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()

	s.tmu.Lock()
	s.seq++
	id := s.seq
	s.timers[id] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		delete(s.timers, id)
		s.tmu.Unlock()
		if stopCh == nil {
			return
		}
		select {
		case s.run <- fn:
		case <-stopCh:
		}
	})
	s.tmu.Unlock()
	s.log.Debug("one-shot registered", logx.String("job", name), logx.Duration("delay", delay))
}

func (s *Service) postTick(name string, fn func()) {
	select {
	case s.run <- fn:
	default:
		s.log.Debug("tick dropped, run queue full", logx.String("job", name))
	}
}

package fetch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"feedbot/internal/eventbus"
	"feedbot/internal/feed"
	"feedbot/internal/runtime/supervisor"
	logx "feedbot/pkg/logx"
)

// FetchFunc performs one feed fetch. Implemented by Fetcher; tests
// inject their own.
type FetchFunc func(ctx context.Context, url string) ([]feed.Item, error)

// Result carries one completed fetch back to the event loop.
type Result struct {
	Feed    feed.Feed
	Items   []feed.Item
	Err     error
	Elapsed time.Duration
}

// FetchEvent is the bus payload for fetch.ok / fetch.error.
type FetchEvent struct {
	URL     string
	Items   int
	Elapsed time.Duration
	Error   string
}

// WorkerCount is the pool sizing rule: one worker per feed up to the
// configured ceiling, and never less than one.
func WorkerCount(maxWorkers, feeds int) int {
	n := feeds
	if maxWorkers > 0 && n > maxWorkers {
		n = maxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

type Config struct {
	// Workers is the number of concurrent fetches, normally
	// WorkerCount(max, len(feeds)).
	Workers int
	// Queue sizes the jobs channel. With one poll cycle outstanding
	// at a time, the feed count is enough for Submit to never block.
	Queue int
}

// Pool fans fetches out to Workers goroutines. Submit queues a job;
// each outcome is pushed to the out channel exactly once. Outcome
// pushes block until the consumer drains (the channel is sized so
// this only happens during shutdown races), never drop.
type Pool struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	fetch FetchFunc
	out   chan<- Result

	mu       sync.Mutex
	jobs     chan feed.Feed
	sup      *supervisor.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}
}

func NewPool(cfg Config, log logx.Logger, bus eventbus.Bus, fetch FetchFunc, out chan<- Result) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Queue < cfg.Workers {
		cfg.Queue = cfg.Workers
	}
	return &Pool{cfg: cfg, log: log, bus: bus, fetch: fetch, out: out}
}

// Start is idempotent.
func (p *Pool) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if p.stopCh != nil {
		p.mu.Unlock()
		return
	}
	p.jobs = make(chan feed.Feed, p.cfg.Queue)
	p.stopCh = make(chan struct{})
	p.stopDone = nil
	jobs := p.jobs
	stopCh := p.stopCh

	p.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(p.log.With(logx.String("comp", "fetchpool"))),
		// A worker exiting must not take the process down; per-job
		// panics are already converted to Results below.
		supervisor.WithCancelOnError(false),
	)
	sup := p.sup
	p.mu.Unlock()

	for i := 0; i < p.cfg.Workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.Go(name, func(c context.Context) error {
			p.worker(c, stopCh, jobs)
			return nil
		})
	}
}

// Stop waits for in-flight fetches to finish, bounded by ctx.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopCh == nil {
		p.mu.Unlock()
		return
	}
	if p.stopDone != nil {
		done := p.stopDone
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	p.stopDone = done
	stopCh := p.stopCh
	sup := p.sup
	p.mu.Unlock()

	close(stopCh)
	go func() {
		_ = sup.Stop(ctx)
		close(done)
		p.mu.Lock()
		p.stopCh = nil
		p.stopDone = nil
		p.sup = nil
		p.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Submit queues one fetch. Returns false if the pool is stopped or
// the jobs channel is unexpectedly full; the caller must not count a
// rejected job as pending.
func (p *Pool) Submit(f feed.Feed) bool {
	p.mu.Lock()
	jobs := p.jobs
	running := p.stopCh != nil && p.stopDone == nil
	p.mu.Unlock()
	if !running {
		return false
	}
	select {
	case jobs <- f:
		return true
	default:
		p.log.Warn("fetch job rejected, queue full", logx.String("url", f.URL))
		return false
	}
}

func (p *Pool) worker(ctx context.Context, stopCh <-chan struct{}, jobs <-chan feed.Feed) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case f := <-jobs:
			res := p.runOne(ctx, f)
			select {
			case p.out <- res:
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			}
		}
	}
}

func (p *Pool) runOne(ctx context.Context, f feed.Feed) Result {
	start := time.Now()
	p.log.Debug("fetching feed", logx.String("url", f.URL))

	var items []feed.Item
	var err error
	// Guard against parser panics: convert to a failed Result so one
	// bad document can't kill a worker.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				p.log.Error("fetch panic", logx.String("url", f.URL), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		items, err = p.fetch(ctx, f.URL)
	}()

	elapsed := time.Since(start)
	if err != nil {
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{Type: eventbus.EventFetchError, Data: FetchEvent{URL: f.URL, Elapsed: elapsed, Error: err.Error()}})
		}
		return Result{Feed: f, Err: err, Elapsed: elapsed}
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.EventFetchOK, Data: FetchEvent{URL: f.URL, Items: len(items), Elapsed: elapsed}})
	}
	return Result{Feed: f, Items: items, Elapsed: elapsed}
}

// Package metrics folds eventbus traffic into prometheus counters.
// It is a passive subscriber: the gateway and the fetch pool publish
// events without knowing whether anyone is counting.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedbot/internal/eventbus"
	"feedbot/internal/fetch"
	"feedbot/internal/runtime/supervisor"
	logx "feedbot/pkg/logx"
)

type Service struct {
	log logx.Logger
	bus eventbus.Bus
	reg *prometheus.Registry

	pollCycles   *prometheus.CounterVec
	fetches      *prometheus.CounterVec
	fetchSeconds prometheus.Histogram
	delivered    prometheus.Counter
	drainAborts  prometheus.Counter
	connEvents   *prometheus.CounterVec

	mu     sync.Mutex
	sup    *supervisor.Supervisor
	stopCh chan struct{}
	unsub  func()
}

func New(log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Service{
		log: log,
		bus: bus,
		reg: reg,
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedbot",
			Name:      "poll_cycles_total",
			Help:      "Poll cycle triggers by result.",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedbot",
			Name:      "fetches_total",
			Help:      "Completed feed fetches by result.",
		}, []string{"result"}),
		fetchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feedbot",
			Name:      "fetch_duration_seconds",
			Help:      "Feed fetch wall time.",
			Buckets:   prometheus.DefBuckets,
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedbot",
			Name:      "items_delivered_total",
			Help:      "Feed items announced on the channel.",
		}),
		drainAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedbot",
			Name:      "drain_aborts_total",
			Help:      "Drain passes aborted by a mid-send connection loss.",
		}),
		connEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedbot",
			Name:      "connection_events_total",
			Help:      "IRC connection lifecycle events.",
		}, []string{"event"}),
	}
	reg.MustRegister(s.pollCycles, s.fetches, s.fetchSeconds, s.delivered, s.drainAborts, s.connEvents)
	return s
}

// Registry exposes the service's collectors for scraping.
func (s *Service) Registry() *prometheus.Registry { return s.reg }

// Handler returns the /metrics scrape handler.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
}

// Start is idempotent. A nil bus leaves the service as a plain
// registry holder with no consumer goroutine.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil || s.bus == nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	ch, unsub := s.bus.Subscribe(256)
	s.unsub = unsub
	s.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(s.log.With(logx.String("comp", "metrics"))),
		supervisor.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.Go0("consume", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case <-stopCh:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.record(ev)
			}
		}
	})
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh, unsub, sup := s.stopCh, s.unsub, s.sup
	s.stopCh, s.unsub, s.sup = nil, nil, nil
	s.mu.Unlock()

	close(stopCh)
	if unsub != nil {
		unsub()
	}
	_ = sup.Stop(ctx)
}

func (s *Service) record(e eventbus.Event) {
	switch e.Type {
	case eventbus.EventPollStarted:
		s.pollCycles.WithLabelValues("started").Inc()
	case eventbus.EventPollSkipped:
		s.pollCycles.WithLabelValues("skipped").Inc()
	case eventbus.EventFetchOK:
		s.fetches.WithLabelValues("ok").Inc()
		if fe, ok := e.Data.(fetch.FetchEvent); ok {
			s.fetchSeconds.Observe(fe.Elapsed.Seconds())
		}
	case eventbus.EventFetchError:
		s.fetches.WithLabelValues("error").Inc()
		if fe, ok := e.Data.(fetch.FetchEvent); ok {
			s.fetchSeconds.Observe(fe.Elapsed.Seconds())
		}
	case eventbus.EventDelivered:
		s.delivered.Inc()
	case eventbus.EventDrainAborted:
		s.drainAborts.Inc()
	case eventbus.EventConnected:
		s.connEvents.WithLabelValues("connected").Inc()
	case eventbus.EventDisconnected:
		s.connEvents.WithLabelValues("disconnected").Inc()
	case eventbus.EventReconnectTry:
		s.connEvents.WithLabelValues("reconnect_attempt").Inc()
	case eventbus.EventReconnectErr:
		s.connEvents.WithLabelValues("reconnect_failed").Inc()
	}
}

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"feedbot/internal/eventbus"
	"feedbot/internal/fetch"
	logx "feedbot/pkg/logx"
)

func waitCount(t *testing.T, want float64, read func() float64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if read() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("counter = %v, want %v", read(), want)
}

func TestServiceCountsEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s := New(logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: eventbus.EventPollStarted})
	bus.Publish(eventbus.Event{Type: eventbus.EventPollSkipped})
	bus.Publish(eventbus.Event{Type: eventbus.EventPollSkipped})
	bus.Publish(eventbus.Event{Type: eventbus.EventFetchOK, Data: fetch.FetchEvent{URL: "http://a.test/rss", Items: 3, Elapsed: 120 * time.Millisecond}})
	bus.Publish(eventbus.Event{Type: eventbus.EventFetchError, Data: fetch.FetchEvent{URL: "http://b.test/rss", Error: "boom", Elapsed: 80 * time.Millisecond}})
	bus.Publish(eventbus.Event{Type: eventbus.EventDelivered})
	bus.Publish(eventbus.Event{Type: eventbus.EventDrainAborted})
	bus.Publish(eventbus.Event{Type: eventbus.EventDisconnected})
	bus.Publish(eventbus.Event{Type: eventbus.EventReconnectTry})
	bus.Publish(eventbus.Event{Type: eventbus.EventReconnectErr})

	waitCount(t, 1, func() float64 { return testutil.ToFloat64(s.pollCycles.WithLabelValues("started")) })
	waitCount(t, 2, func() float64 { return testutil.ToFloat64(s.pollCycles.WithLabelValues("skipped")) })
	waitCount(t, 1, func() float64 { return testutil.ToFloat64(s.fetches.WithLabelValues("ok")) })
	waitCount(t, 1, func() float64 { return testutil.ToFloat64(s.fetches.WithLabelValues("error")) })
	waitCount(t, 1, func() float64 { return testutil.ToFloat64(s.delivered) })
	waitCount(t, 1, func() float64 { return testutil.ToFloat64(s.drainAborts) })
	waitCount(t, 1, func() float64 { return testutil.ToFloat64(s.connEvents.WithLabelValues("disconnected")) })
	waitCount(t, 1, func() float64 { return testutil.ToFloat64(s.connEvents.WithLabelValues("reconnect_attempt")) })
	waitCount(t, 1, func() float64 { return testutil.ToFloat64(s.connEvents.WithLabelValues("reconnect_failed")) })
}

func TestServiceIgnoresUnknownEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s := New(logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: "something.else"})
	bus.Publish(eventbus.Event{Type: eventbus.EventDelivered})

	waitCount(t, 1, func() float64 { return testutil.ToFloat64(s.delivered) })
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop(), eventbus.New())
	s.Start(context.Background())
	s.Stop(context.Background())
	s.Stop(context.Background())
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop(), nil)
	if s.Handler() == nil {
		t.Fatal("nil scrape handler")
	}
	families, err := s.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	// Go runtime collectors register even before any gateway event.
	if len(families) == 0 {
		t.Fatal("registry gathered nothing")
	}
}

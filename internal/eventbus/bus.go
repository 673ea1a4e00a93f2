// Package eventbus carries gateway lifecycle signals between loosely
// coupled services. The gateway and the fetch pool publish without
// knowing whether anyone listens; the metrics exporter and the debug
// event tap subscribe without touching the publishers.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the pipeline and the connection machinery.
const (
	EventPollStarted  = "poll.started"
	EventPollSkipped  = "poll.skipped"
	EventFetchOK      = "fetch.ok"
	EventFetchError   = "fetch.error"
	EventDelivered    = "deliver.sent"
	EventDrainAborted = "drain.aborted"
	EventConnected    = "irc.connected"
	EventDisconnected = "irc.disconnected"
	EventReconnectTry = "irc.reconnect_attempt"
	EventReconnectErr = "irc.reconnect_failed"
)

// Event is an in-memory signal. Data payloads are small value types
// declared next to their publishers.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event, so sizing the
// Subscribe buffer is the subscriber's flow-control knob.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It runs no goroutines of its
// own; delivery happens on the publisher's stack.
func New() Bus {
	return &fanout{subs: map[uint64]chan Event{}}
}

type fanout struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next atomic.Uint64
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, ch := range f.snapshot() {
		deliver(ch, e)
	}
}

// snapshot copies the subscriber set so Publish holds no lock while
// sending.
func (f *fanout) snapshot() []chan Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	chs := make([]chan Event, 0, len(f.subs))
	for _, ch := range f.subs {
		chs = append(chs, ch)
	}
	return chs
}

// deliver sends without blocking. An unsubscribe can close ch between
// the snapshot and the send; the recover absorbs that race.
func deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := f.next.Add(1)

	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

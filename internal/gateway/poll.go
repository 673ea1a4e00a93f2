package gateway

import (
	"strings"

	"feedbot/internal/eventbus"
	"feedbot/internal/feed"
	"feedbot/internal/fetch"
	"feedbot/pkg/ircfmt"
	logx "feedbot/pkg/logx"
)

// pollState tracks the one in-flight poll cycle. fetching covers the
// whole window from submission until the last outcome is drained;
// pending counts outcomes still owed to the drain loop.
type pollState struct {
	fetching bool
	pending  int
}

// pollAll starts a poll cycle over every feed. At most one cycle may
// be outstanding; a second trigger while one is in flight reports and
// returns without submitting anything.
func (s *Service) pollAll() {
	if s.state.fetching {
		s.log.Info("fetch already running, skipping")
		s.publish(eventbus.EventPollSkipped, nil)
		return
	}
	if len(s.feeds) == 0 {
		return
	}
	s.state.fetching = true
	s.state.pending = 0
	s.publish(eventbus.EventPollStarted, PollEvent{Feeds: len(s.feeds)})
	for _, f := range s.feeds {
		if s.pool.Submit(f) {
			s.state.pending++
		}
	}
	if s.state.pending == 0 {
		// Every submit was rejected (pool stopping); no cycle to track.
		s.state.fetching = false
	}
	s.drain()
}

// pollSingle polls one feed, under the same mutual exclusion as
// pollAll but silently.
func (s *Service) pollSingle(f feed.Feed) {
	if s.state.fetching {
		return
	}
	s.state.fetching = true
	s.state.pending = 0
	if s.pool.Submit(f) {
		s.state.pending = 1
	} else {
		s.state.fetching = false
	}
	s.drain()
}

// drain consumes every currently queued fetch outcome. It never
// blocks: when the queue is momentarily empty it returns, the next
// tick picks up the rest. While disconnected it does not consume at
// all, so queued outcomes survive until a drain after reconnecting.
func (s *Service) drain() {
	if !s.conn.IsConnected() {
		return
	}
	for {
		select {
		case r := <-s.results:
			if err := s.handleResult(r); err != nil {
				// Mid-send connection loss. The unpopped remainder
				// stays queued for the next successful drain.
				s.log.Warn("lost connection, drain aborted", logx.Err(err))
				s.publish(eventbus.EventDrainAborted, nil)
				return
			}
		default:
			return
		}
	}
}

func (s *Service) handleResult(r fetch.Result) error {
	defer s.jobDone()
	if r.Err != nil {
		s.log.Error("error fetching feed", logx.String("url", r.Feed.URL), logx.Err(r.Err))
		return nil
	}
	delta := s.store.Delta(r.Feed.URL, r.Items)
	// Deltas arrive newest-first (feed document order); deliver oldest
	// first so the channel reads chronologically.
	for i := len(delta) - 1; i >= 0; i-- {
		if err := s.deliver(r.Feed, delta[i]); err != nil {
			return err
		}
	}
	return nil
}

// jobDone retires one outcome. Runs for every popped result, aborted
// or not; otherwise an abort on a cycle's last item would leave
// fetching latched forever.
func (s *Service) jobDone() {
	if s.state.pending > 0 {
		s.state.pending--
	}
	if s.state.pending == 0 {
		s.state.fetching = false
	}
}

func (s *Service) deliver(f feed.Feed, it feed.Item) error {
	title := strings.TrimSpace(it.Title)
	link := strings.TrimSpace(it.Link)
	if s.cfg.ExtractURL {
		link = feed.ExtractURL(link)
	}
	desc := ""
	if s.cfg.IncludeDescription {
		desc = feed.StripSummary(it.Summary)
	}
	prefix := ircfmt.SourcePrefix(f.Name, s.cfg.Multisource)
	s.log.Info("delivering item",
		logx.String("feed", f.URL),
		logx.String("title", title),
		logx.String("link", link))
	if err := s.conn.SendMessage(s.cfg.Channel, ircfmt.Message(title, link, prefix, desc)); err != nil {
		return err
	}
	s.publish(eventbus.EventDelivered, DeliverEvent{FeedURL: f.URL, Title: title})
	return nil
}

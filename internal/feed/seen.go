package feed

import "strings"

// Store maps feed URL to the set of entry identities already
// observed. An identity is the stripped item title; items with an
// empty title are never recorded and never surface in a delta. Sets
// grow for the process lifetime and are not persisted.
//
// Not safe for concurrent use. The gateway event loop owns the store
// and is the only goroutine that touches it.
type Store struct {
	seen map[string]map[string]struct{}
}

func NewStore() *Store {
	return &Store{seen: make(map[string]map[string]struct{})}
}

// Delta records every previously unseen identity from items and
// returns the corresponding entries in input order.
//
// First contact with a feed (its identity set empty before the call)
// records the identities but returns nothing, so a feed's whole
// backlog is swallowed instead of flooding the channel. A feed whose
// items all lack titles stays in the first-contact state.
func (s *Store) Delta(feedURL string, items []Item) []Item {
	set, ok := s.seen[feedURL]
	if !ok {
		set = make(map[string]struct{})
		s.seen[feedURL] = set
	}
	first := len(set) == 0

	var delta []Item
	for _, it := range items {
		id := strings.TrimSpace(it.Title)
		if id == "" {
			continue
		}
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		delta = append(delta, it)
	}
	if first {
		return nil
	}
	return delta
}

// Known reports whether the identity has been recorded for feedURL.
func (s *Store) Known(feedURL, title string) bool {
	_, ok := s.seen[feedURL][strings.TrimSpace(title)]
	return ok
}

package feed

import "testing"

func TestDeltaFirstRunSuppressed(t *testing.T) {
	t.Parallel()
	s := NewStore()
	delta := s.Delta("http://example.com/rss", []Item{{Title: "Item 1"}})
	if len(delta) != 0 {
		t.Fatalf("first-run delta = %v, want empty", delta)
	}
	if !s.Known("http://example.com/rss", "Item 1") {
		t.Fatal("first-run identities were not recorded")
	}
}

func TestDeltaSubsequent(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Delta("u", []Item{{Title: "Item 1"}})

	delta := s.Delta("u", []Item{{Title: "Item 1"}, {Title: "Item 2"}})
	if len(delta) != 1 || delta[0].Title != "Item 2" {
		t.Fatalf("delta = %v, want [Item 2]", delta)
	}

	delta = s.Delta("u", []Item{{Title: "Item 1"}, {Title: "Item 2"}, {Title: "Item 3"}})
	if len(delta) != 1 || delta[0].Title != "Item 3" {
		t.Fatalf("delta = %v, want [Item 3]", delta)
	}
}

func TestDeltaPreservesInputOrder(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Delta("u", []Item{{Title: "old"}})

	delta := s.Delta("u", []Item{{Title: "newest"}, {Title: "newer"}, {Title: "old"}})
	if len(delta) != 2 {
		t.Fatalf("len(delta) = %d, want 2", len(delta))
	}
	if delta[0].Title != "newest" || delta[1].Title != "newer" {
		t.Fatalf("delta order = [%s %s], want input order", delta[0].Title, delta[1].Title)
	}
}

func TestDeltaIgnoresBlankTitles(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Delta("u", []Item{{Title: "seed"}})

	delta := s.Delta("u", []Item{{Title: "   "}, {Title: ""}, {Title: "real"}})
	if len(delta) != 1 || delta[0].Title != "real" {
		t.Fatalf("delta = %v, want only the titled item", delta)
	}
}

func TestDeltaAllBlankFirstRunStaysFirstRun(t *testing.T) {
	t.Parallel()
	s := NewStore()
	if got := s.Delta("u", []Item{{Title: ""}, {Title: " "}}); len(got) != 0 {
		t.Fatalf("delta = %v, want empty", got)
	}
	// The set never left the empty state, so the next call is still
	// first contact and must be suppressed too.
	if got := s.Delta("u", []Item{{Title: "Item 1"}}); len(got) != 0 {
		t.Fatalf("delta = %v, want empty on repeated first contact", got)
	}
}

func TestDeltaDuplicateTitlesInOneBatch(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Delta("u", []Item{{Title: "seed"}})

	delta := s.Delta("u", []Item{{Title: "dup", Link: "http://a"}, {Title: "dup", Link: "http://b"}})
	if len(delta) != 1 || delta[0].Link != "http://a" {
		t.Fatalf("delta = %v, want the first occurrence only", delta)
	}
}

func TestDeltaTrimsIdentity(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Delta("u", []Item{{Title: "Item 1"}})

	delta := s.Delta("u", []Item{{Title: "  Item 1  "}})
	if len(delta) != 0 {
		t.Fatalf("delta = %v, want empty for whitespace-variant duplicate", delta)
	}
}

func TestDeltaFeedsAreIndependent(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Delta("a", []Item{{Title: "shared"}})
	s.Delta("b", []Item{{Title: "other"}})

	delta := s.Delta("b", []Item{{Title: "shared"}})
	if len(delta) != 1 {
		t.Fatalf("delta = %v, want shared title delivered for the other feed", delta)
	}
}

package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feedbot/internal/feed"
	logx "feedbot/pkg/logx"
)

func TestWorkerCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		max   int
		feeds int
		want  int
	}{
		{name: "fewer feeds than ceiling", max: 8, feeds: 3, want: 3},
		{name: "ceiling caps", max: 8, feeds: 20, want: 8},
		{name: "single feed", max: 8, feeds: 1, want: 1},
		{name: "no feeds still one worker", max: 8, feeds: 0, want: 1},
		{name: "no ceiling", max: 0, feeds: 5, want: 5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := WorkerCount(tt.max, tt.feeds); got != tt.want {
				t.Fatalf("WorkerCount(%d, %d) = %d, want %d", tt.max, tt.feeds, got, tt.want)
			}
		})
	}
}

func collectResults(t *testing.T, out <-chan Result, n int) []Result {
	t.Helper()
	results := make([]Result, 0, n)
	timeout := time.After(5 * time.Second)
	for len(results) < n {
		select {
		case r := <-out:
			results = append(results, r)
		case <-timeout:
			t.Fatalf("got %d results, want %d", len(results), n)
		}
	}
	return results
}

func TestPoolDeliversEveryOutcome(t *testing.T) {
	t.Parallel()
	feeds := []feed.Feed{
		{URL: "http://a.test/rss"},
		{URL: "http://b.test/rss"},
		{URL: "http://c.test/rss"},
	}
	fetch := func(_ context.Context, url string) ([]feed.Item, error) {
		if url == "http://b.test/rss" {
			return nil, errors.New("boom")
		}
		return []feed.Item{{Title: "Item", Link: url}}, nil
	}

	out := make(chan Result, len(feeds))
	p := NewPool(Config{Workers: 2, Queue: len(feeds)}, logx.NewConsole("error"), nil, fetch, out)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	for _, f := range feeds {
		if !p.Submit(f) {
			t.Fatalf("Submit(%s) rejected", f.URL)
		}
	}

	results := collectResults(t, out, len(feeds))
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			if r.Feed.URL != "http://b.test/rss" {
				t.Fatalf("unexpected failure for %s: %v", r.Feed.URL, r.Err)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
}

func TestPoolRecoversFetchPanic(t *testing.T) {
	t.Parallel()
	fetch := func(_ context.Context, _ string) ([]feed.Item, error) {
		panic("bad document")
	}

	out := make(chan Result, 1)
	p := NewPool(Config{Workers: 1, Queue: 1}, logx.NewConsole("fatal"), nil, fetch, out)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	if !p.Submit(feed.Feed{URL: "http://panic.test/rss"}) {
		t.Fatal("Submit rejected")
	}
	results := collectResults(t, out, 1)
	if results[0].Err == nil {
		t.Fatal("panic was not converted to a failed result")
	}

	// The worker survives and serves the next job.
	if !p.Submit(feed.Feed{URL: "http://panic.test/rss"}) {
		t.Fatal("Submit rejected after panic")
	}
	collectResults(t, out, 1)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()
	const workers = 2
	const jobs = 6

	var mu sync.Mutex
	active, peak := 0, 0
	release := make(chan struct{})

	fetch := func(_ context.Context, _ string) ([]feed.Item, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return nil, nil
	}

	out := make(chan Result, jobs)
	p := NewPool(Config{Workers: workers, Queue: jobs}, logx.NewConsole("error"), nil, fetch, out)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	for i := 0; i < jobs; i++ {
		if !p.Submit(feed.Feed{URL: "http://x.test/rss"}) {
			t.Fatal("Submit rejected")
		}
	}
	// Let the workers pick up work, then open the gate.
	time.Sleep(50 * time.Millisecond)
	close(release)

	collectResults(t, out, jobs)
	mu.Lock()
	defer mu.Unlock()
	if peak > workers {
		t.Fatalf("peak concurrency = %d, want <= %d", peak, workers)
	}
}

func TestPoolSubmitAfterStop(t *testing.T) {
	t.Parallel()
	out := make(chan Result, 1)
	p := NewPool(Config{Workers: 1, Queue: 1}, logx.NewConsole("error"), nil,
		func(_ context.Context, _ string) ([]feed.Item, error) { return nil, nil }, out)
	p.Start(context.Background())
	p.Stop(context.Background())

	if p.Submit(feed.Feed{URL: "http://x.test/rss"}) {
		t.Fatal("Submit accepted after Stop")
	}
}

package scheduler

import (
	"context"
	"testing"
	"time"

	logx "feedbot/pkg/logx"
)

func waitPost(t *testing.T, run <-chan func(), timeout time.Duration) func() {
	t.Helper()
	select {
	case fn := <-run:
		return fn
	case <-time.After(timeout):
		t.Fatal("no callback posted to run queue")
		return nil
	}
}

func TestEveryFiresOnRunQueue(t *testing.T) {
	t.Parallel()
	run := make(chan func(), 4)
	s := New(logx.Nop(), run)
	s.Start()
	defer s.Stop(context.Background())

	fired := 0
	if err := s.Every("tick", time.Second, func() { fired++ }); err != nil {
		t.Fatalf("Every: %v", err)
	}

	// First fire comes one interval after registration.
	fn := waitPost(t, run, 3*time.Second)
	fn()
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestEveryBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop(), make(chan func(), 1))
	if err := s.Every("tick", time.Second, func() {}); err == nil {
		t.Fatal("Every before Start should fail")
	}
}

func TestAfterPostsExactlyOnce(t *testing.T) {
	t.Parallel()
	run := make(chan func(), 4)
	s := New(logx.Nop(), run)
	s.Start()
	defer s.Stop(context.Background())

	fired := 0
	s.After("retry", 20*time.Millisecond, func() { fired++ })

	fn := waitPost(t, run, 2*time.Second)
	fn()
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	select {
	case <-run:
		t.Fatal("one-shot posted twice")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStopCancelsPendingOneShot(t *testing.T) {
	t.Parallel()
	run := make(chan func(), 4)
	s := New(logx.Nop(), run)
	s.Start()

	s.After("later", 300*time.Millisecond, func() {})
	s.Stop(context.Background())

	select {
	case <-run:
		t.Fatal("cancelled one-shot still posted")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestStartIdempotent(t *testing.T) {
	t.Parallel()
	run := make(chan func(), 4)
	s := New(logx.Nop(), run)
	s.Start()
	s.Start()
	defer s.Stop(context.Background())

	if err := s.Every("tick", time.Minute, func() {}); err != nil {
		t.Fatalf("Every after double Start: %v", err)
	}
}

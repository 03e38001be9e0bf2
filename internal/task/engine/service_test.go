package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "kavitabot/pkg/logx"
)

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 2, QueueSize: 4}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	done := make(chan struct{})
	err := s.Enqueue(Task{ID: "1", Name: "ok", Run: func(context.Context) error {
		close(done)
		return nil
	}}, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("task did not run")
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}, nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err=%v", err)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1, QueueSize: 1}, logx.Nop())
	s.Start(context.Background())

	block := make(chan struct{})
	running := make(chan struct{})
	_ = s.Enqueue(Task{Name: "blocker", Run: func(context.Context) error {
		close(running)
		<-block
		return nil
	}}, nil)
	<-running

	var dropped sync.WaitGroup
	dropped.Add(1)
	if err := s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }}, func(err error) {
		if !errors.Is(err, ErrStopped) {
			t.Errorf("onDrop err=%v", err)
		}
		dropped.Done()
	}); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := s.Enqueue(Task{Name: "overflow", Run: func(context.Context) error { return nil }}, nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err=%v, want ErrQueueFull", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = s.Stop(ctx)
	close(block)
	dropped.Wait()
	if s.Snapshot().Dropped != 1 {
		t.Fatalf("dropped=%d", s.Snapshot().Dropped)
	}
}

func TestPanicIsRecordedInHistory(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1, HistorySize: 2}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	for i := 0; i < 3; i++ {
		_ = s.Enqueue(Task{Name: "panics", Run: func(context.Context) error { panic("boom") }}, nil)
	}
	deadline := time.Now().Add(time.Second)
	for len(s.Snapshot().History) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h := s.Snapshot().History
	if len(h) != 2 || h[0].Error == "" {
		t.Fatalf("history=%+v", h)
	}
}

package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kavitabot/internal/task/engine"
	logx "kavitabot/pkg/logx"
)

func newLoop(t *testing.T) *Loop {
	t.Helper()
	pool := engine.New(engine.Config{Workers: 4, QueueSize: 16}, logx.Nop())
	pool.Start(context.Background())
	l := New(Config{QueueSize: 16}, pool, logx.Nop())
	l.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Stop(ctx)
		_ = pool.Stop(ctx)
	})
	return l
}

func TestFetchThenDeliver(t *testing.T) {
	t.Parallel()
	l := newLoop(t)

	done := make(chan error, 1)
	var delivered string
	err := l.TrySubmit(&Work{
		Name: "greet",
		Fetch: func(context.Context) (Deliver, error) {
			name := "kavita"
			return func(context.Context) error {
				delivered = "hello " + name
				return nil
			}, nil
		},
		Done: func(err error) { done <- err },
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("done err: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("work not finished")
	}
	if delivered != "hello kavita" {
		t.Fatalf("delivered=%q", delivered)
	}
}

func TestDeliversAreSerialized(t *testing.T) {
	t.Parallel()
	l := newLoop(t)

	var running, maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		_ = l.TrySubmit(&Work{
			Name: "send",
			Fetch: func(context.Context) (Deliver, error) {
				return func(context.Context) error {
					n := running.Add(1)
					if n > maxSeen.Load() {
						maxSeen.Store(n)
					}
					time.Sleep(2 * time.Millisecond)
					running.Add(-1)
					return nil
				}, nil
			},
			Done: func(error) { wg.Done() },
		})
	}
	wg.Wait()
	if maxSeen.Load() != 1 {
		t.Fatalf("max concurrent delivers=%d, want 1", maxSeen.Load())
	}
}

func TestFetchErrorAndPanicReachDone(t *testing.T) {
	t.Parallel()
	l := newLoop(t)

	boom := errors.New("upstream down")
	cases := []struct {
		name  string
		fetch func(context.Context) (Deliver, error)
		check func(error) bool
	}{
		{"error", func(context.Context) (Deliver, error) { return nil, boom }, func(err error) bool { return errors.Is(err, boom) }},
		{"panic", func(context.Context) (Deliver, error) { panic("bad") }, func(err error) bool { return err != nil }},
		{"nothing to send", func(context.Context) (Deliver, error) { return nil, nil }, func(err error) bool { return err == nil }},
	}
	for _, tc := range cases {
		done := make(chan error, 1)
		if err := l.TrySubmit(&Work{Name: tc.name, Fetch: tc.fetch, Done: func(err error) { done <- err }}); err != nil {
			t.Fatalf("%s: submit: %v", tc.name, err)
		}
		select {
		case err := <-done:
			if !tc.check(err) {
				t.Fatalf("%s: unexpected err %v", tc.name, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: not finished", tc.name)
		}
	}
}

func TestSubmitAfterStop(t *testing.T) {
	t.Parallel()
	l := newLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	err := l.TrySubmit(&Work{Name: "late", Deliver: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err=%v, want ErrStopped", err)
	}
}

func TestStopDrainsAcceptedWork(t *testing.T) {
	t.Parallel()
	l := newLoop(t)

	var sent atomic.Bool
	_ = l.TrySubmit(&Work{
		Name: "slow",
		Fetch: func(context.Context) (Deliver, error) {
			time.Sleep(20 * time.Millisecond)
			return func(context.Context) error { sent.Store(true); return nil }, nil
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !sent.Load() {
		t.Fatalf("accepted work was not delivered before stop returned")
	}
}

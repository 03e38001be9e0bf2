// Package loop serializes chat-side work on one goroutine.
//
// Producers (the scheduler, interaction handlers) submit Work. A Work's
// Fetch stage runs on the engine's worker pool so blocking library calls
// never stall the loop; the Deliver it returns is posted back onto the same
// channel and executed on the loop goroutine, one at a time.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"kavitabot/internal/task/engine"
	logx "kavitabot/pkg/logx"

	rtsup "kavitabot/internal/runtime/supervisor"
)

var (
	ErrStopped   = errors.New("loop stopped")
	ErrQueueFull = errors.New("loop queue full")
)

// Deliver performs chat I/O. It always runs on the loop goroutine.
type Deliver func(ctx context.Context) error

// Work is the task descriptor passed through the loop channel.
type Work struct {
	ID   string
	Name string

	// Fetch runs off-loop. It may return a nil Deliver when there is
	// nothing to send.
	Fetch func(ctx context.Context) (Deliver, error)

	// Deliver is used directly when Fetch is nil.
	Deliver Deliver

	// Done is called exactly once with the final outcome of accepted work.
	// It is not called when Submit returns an error.
	Done func(err error)
}

type stage int

const (
	stageFetch stage = iota
	stageDeliver
)

type envelope struct {
	stage   stage
	work    *Work
	deliver Deliver
}

type Config struct {
	QueueSize      int
	DeliverTimeout time.Duration
}

type Loop struct {
	cfg  Config
	log  logx.Logger
	pool *engine.Service

	in       chan envelope
	sup      *rtsup.Supervisor
	mu       sync.RWMutex
	stopping bool
	started  bool

	pending sync.WaitGroup
	depth   atomic.Int64
}

func New(cfg Config, pool *engine.Service, log logx.Logger) *Loop {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 5 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{cfg: cfg, log: log, pool: pool, in: make(chan envelope, cfg.QueueSize)}
}

func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	l.sup = rtsup.New(ctx, rtsup.WithLogger(l.log))
	l.sup.GoRestart("loop.run", func(c context.Context) error {
		l.run(c)
		return c.Err()
	})
}

// Depth is the number of accepted Work items that have not finished.
func (l *Loop) Depth() int64 { return l.depth.Load() }

// TrySubmit enqueues w without blocking.
func (l *Loop) TrySubmit(w *Work) error {
	return l.submit(context.Background(), w, false)
}

// Submit enqueues w, waiting for queue space until ctx ends.
func (l *Loop) Submit(ctx context.Context, w *Work) error {
	return l.submit(ctx, w, true)
}

func (l *Loop) submit(ctx context.Context, w *Work, wait bool) error {
	if w == nil || (w.Fetch == nil && w.Deliver == nil) {
		return errors.New("loop: empty work")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopping || !l.started {
		return ErrStopped
	}

	l.pending.Add(1)
	l.depth.Add(1)
	env := envelope{stage: stageFetch, work: w}
	if w.Fetch == nil {
		env = envelope{stage: stageDeliver, work: w, deliver: w.Deliver}
	}
	if wait {
		select {
		case l.in <- env:
			return nil
		case <-ctx.Done():
			l.reject()
			return ctx.Err()
		}
	}
	select {
	case l.in <- env:
		return nil
	default:
		l.reject()
		return ErrQueueFull
	}
}

// reject undoes the bookkeeping of a Work that was never accepted. Done is
// not called; the caller sees the error from Submit instead.
func (l *Loop) reject() {
	l.depth.Add(-1)
	l.pending.Done()
}

// settle marks w as finished. err is reported through Done; a nil Done
// with a non-nil err is logged here.
func (l *Loop) settle(w *Work, err error) {
	defer l.pending.Done()
	defer l.depth.Add(-1)
	if w.Done != nil {
		w.Done(err)
		return
	}
	if err != nil {
		l.log.Error("work failed", logx.String("work", w.Name), logx.String("id", w.ID), logx.Err(err))
	}
}

func (l *Loop) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-l.in:
			switch env.stage {
			case stageFetch:
				l.offload(ctx, env.work)
			case stageDeliver:
				l.deliver(ctx, env.work, env.deliver)
			}
		}
	}
}

func (l *Loop) offload(ctx context.Context, w *Work) {
	err := l.pool.Enqueue(engine.Task{
		ID:   w.ID,
		Name: w.Name,
		Run: func(tctx context.Context) error {
			d, err := l.fetch(tctx, w)
			if err != nil || d == nil {
				l.settle(w, err)
				return err
			}
			select {
			case l.in <- envelope{stage: stageDeliver, work: w, deliver: d}:
			case <-ctx.Done():
				l.settle(w, ErrStopped)
			}
			return nil
		},
	}, func(err error) { l.settle(w, err) })
	if err != nil {
		l.settle(w, fmt.Errorf("offload %s: %w", w.Name, err))
	}
}

func (l *Loop) fetch(ctx context.Context, w *Work) (d Deliver, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("fetch panicked", logx.String("work", w.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.Fetch(ctx)
}

func (l *Loop) deliver(ctx context.Context, w *Work, d Deliver) {
	dctx, cancel := context.WithTimeout(ctx, l.cfg.DeliverTimeout)
	defer cancel()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				l.log.Error("deliver panicked", logx.String("work", w.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return d(dctx)
	}()
	l.settle(w, err)
}

// Stop refuses new work, waits for accepted work to finish (or ctx to
// expire) and then stops the loop goroutine.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.started || l.stopping {
		l.mu.Unlock()
		return nil
	}
	l.stopping = true
	sup := l.sup
	l.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(drained)
	}()
	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("loop drain: %w", ctx.Err())
	}
	if serr := sup.Stop(ctx); serr != nil && err == nil {
		err = serr
	}
	return err
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "kavitabot/pkg/logx"

	rtsup "kavitabot/internal/runtime/supervisor"
)

const warnThrottleEvery = 5 * time.Second

// Service is a fixed-size worker pool fed by a bounded queue. Enqueue never
// blocks; a full queue is reported to the caller.
type Service struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	q       chan queuedTask
	sup     *rtsup.Supervisor
	stopped bool

	inFlight atomic.Int32
	dropped  atomic.Uint64

	lastFullWarnAt atomic.Int64

	hmu     sync.Mutex
	history []HistoryItem
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	onDrop     func(error)
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q != nil {
		return
	}
	s.q = make(chan queuedTask, s.cfg.QueueSize)
	s.stopped = false
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "engine"))))
	for i := 0; i < s.cfg.Workers; i++ {
		queue := s.q
		s.sup.Go0(fmt.Sprintf("engine.worker.%d", i), func(c context.Context) {
			s.worker(c, queue)
		})
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop refuses new tasks and waits for workers. Queued tasks that never
// ran get their onDrop callback with ErrStopped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.q == nil || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	sup, queue := s.sup, s.q
	s.mu.Unlock()

	err := sup.Stop(ctx)
	for {
		select {
		case qt := <-queue:
			if qt.onDrop != nil {
				qt.onDrop(ErrStopped)
			}
		default:
			return err
		}
	}
}

// Enqueue schedules t. onDrop, if set, is called when t will never run
// after Enqueue has already returned nil.
func (s *Service) Enqueue(t Task, onDrop func(error)) error {
	if t.Run == nil {
		return errors.New("engine: task has no Run")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q == nil {
		return ErrNotStarted
	}
	if s.stopped {
		return ErrStopped
	}
	select {
	case s.q <- queuedTask{task: t, enqueuedAt: time.Now(), onDrop: onDrop}:
		return nil
	default:
		s.dropped.Add(1)
		s.warnQueueFull(t)
		return ErrQueueFull
	}
}

func (s *Service) warnQueueFull(t Task) {
	now := time.Now().UnixNano()
	last := s.lastFullWarnAt.Load()
	if now-last < int64(warnThrottleEvery) || !s.lastFullWarnAt.CompareAndSwap(last, now) {
		return
	}
	s.log.Warn("task engine queue full", logx.String("task", t.Name), logx.Int("cap", cap(s.q)))
}

func (s *Service) worker(ctx context.Context, queue chan queuedTask) {
	for {
		select {
		case <-ctx.Done():
			return
		case qt := <-queue:
			s.exec(ctx, qt)
		}
	}
}

func (s *Service) exec(ctx context.Context, qt queuedTask) {
	start := time.Now()
	delay := start.Sub(qt.enqueuedAt)
	if s.cfg.MaxQueueDelay > 0 && delay > s.cfg.MaxQueueDelay {
		s.dropped.Add(1)
		s.log.Warn("task dropped (stale)", logx.String("task", qt.task.Name), logx.Duration("queue_delay", delay))
		if qt.onDrop != nil {
			qt.onDrop(ErrStale)
		}
		return
	}

	timeout := qt.task.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.inFlight.Add(1)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("task panicked",
					logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return qt.task.Run(tctx)
	}()
	s.inFlight.Add(-1)

	item := HistoryItem{
		ID:         qt.task.ID,
		Name:       qt.task.Name,
		Started:    start,
		QueueDelay: delay,
		Duration:   time.Since(start),
	}
	if err != nil {
		item.Error = err.Error()
	}
	s.record(item)
}

func (s *Service) record(it HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, it)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	q := s.q
	s.mu.Unlock()

	snap := Snapshot{
		Workers:  s.cfg.Workers,
		InFlight: int(s.inFlight.Load()),
		Dropped:  s.dropped.Load(),
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

package alert

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"kavitabot/internal/eventbus"
	logx "kavitabot/pkg/logx"
)

// Event topics.
const (
	TopicSent    = "alert.sent"
	TopicFailed  = "alert.failed"
	TopicDeduped = "alert.deduped"
)

type Event struct {
	Key   string
	Error string
}

type Config struct {
	DedupWindow   time.Duration
	DedupMax      int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMax <= 0 {
		c.DedupMax = 500
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// Service wraps a Pager with duplicate suppression and retries. It also
// serves as the log alert sink.
type Service struct {
	cfg   Config
	pager Pager
	bus   eventbus.Bus
	log   logx.Logger

	mu    sync.Mutex
	dedup map[string]time.Time
	now   func() time.Time
}

func NewService(cfg Config, pager Pager, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		pager: pager,
		bus:   bus,
		log:   log,
		dedup: map[string]time.Time{},
		now:   time.Now,
	}
}

// Page delivers text unless the same text was paged within the dedup
// window. Failed attempts are retried with jittered exponential backoff.
func (s *Service) Page(ctx context.Context, text string) error {
	if s.pager == nil {
		return ErrNoPager
	}
	key := dedupKey(text)
	if !s.allow(key) {
		s.publish(TopicDeduped, Event{Key: key})
		return nil
	}

	attempts := 1 + s.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.pager.Page(callCtx, text)
		cancel()
		if err == nil {
			s.publish(TopicSent, Event{Key: key})
			return nil
		}
		lastErr = err
		s.log.Debug("page failed", logx.Int("attempt", attempt), logx.Int("max", attempts), logx.Err(err))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(s.retryDelay(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			attempt = attempts
		}
	}
	s.forget(key)
	s.publish(TopicFailed, Event{Key: key, Error: lastErr.Error()})
	return fmt.Errorf("page administrator: %w", lastErr)
}

// Deliver implements logx.AlertSink.
func (s *Service) Deliver(ctx context.Context, text string) error { return s.Page(ctx, text) }

func (s *Service) allow(key string) bool {
	if s.cfg.DedupWindow == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(s.cfg.DedupWindow)
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > s.cfg.DedupMax {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

// forget lets a text that never got through be paged again right away.
func (s *Service) forget(key string) {
	s.mu.Lock()
	delete(s.dedup, key)
	s.mu.Unlock()
}

func (s *Service) retryDelay(attempt int) time.Duration {
	d := s.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.RetryMaxDelay {
			d = s.cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, s.cfg.RetryMaxDelay)
}

func (s *Service) publish(topic string, e Event) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: topic, Time: time.Now(), Data: e})
	}
}

func dedupKey(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

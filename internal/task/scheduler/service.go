package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"kavitabot/internal/eventbus"
	"kavitabot/internal/jobs"
	"kavitabot/internal/task/loop"
	logx "kavitabot/pkg/logx"
)

type Service struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	sub     Submitter
	actions Actions
	now     func() time.Time

	mu      sync.Mutex
	c       *cron.Cron
	quit    chan struct{}
	loc     *time.Location
	entries map[string]*entry

	lmu      sync.Mutex
	onMissed []func(eventbus.JobEvent)
}

func New(cfg Config, sub Submitter, actions Actions, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		sub:     sub,
		actions: actions,
		now:     time.Now,
		entries: map[string]*entry{},
		loc:     loadLocation(cfg.Timezone, log),
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid scheduler timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// OnMissed registers a listener called for every late firing. Listeners
// run on the cron goroutine and must not block.
func (s *Service) OnMissed(fn func(eventbus.JobEvent)) {
	s.lmu.Lock()
	s.onMissed = append(s.onMissed, fn)
	s.lmu.Unlock()
}

// Add registers job, replacing any job with the same id. Invalid jobs are
// rejected and leave the registered set unchanged. Disabled jobs are
// accepted but not registered.
func (s *Service) Add(job jobs.Job) error {
	if err := job.Validate(); err != nil {
		s.log.Error("job rejected", logx.String("job", job.ID), logx.Err(err))
		return fmt.Errorf("job %q: %w", job.ID, err)
	}
	if !job.Enabled {
		s.log.Info("job disabled; not registered", logx.String("job", job.ID))
		s.mu.Lock()
		s.removeLocked(job.ID)
		s.mu.Unlock()
		return nil
	}
	spec, _ := job.Trigger.Spec()
	sched, err := jobs.Parser.Parse(spec)
	if err != nil {
		s.log.Error("job rejected", logx.String("job", job.ID), logx.String("spec", spec), logx.Err(err))
		return fmt.Errorf("job %q: %w", job.ID, err)
	}

	e := &entry{job: job, spec: spec, schedule: sched, slots: make(chan struct{}, s.cfg.MaxInstances)}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(job.ID)
	s.entries[job.ID] = e
	if s.c != nil {
		s.registerLocked(e)
	}
	s.log.Info("job registered",
		logx.String("job", job.ID), logx.String("trigger", job.Trigger.String()),
		logx.String("action", job.Action.String()), logx.String("next", s.previewLocked(e, 3)))
	return nil
}

// Replace swaps the whole job set. It returns the errors of rejected jobs;
// the valid ones are registered regardless.
func (s *Service) Replace(list []jobs.Job) []error {
	s.mu.Lock()
	for id := range s.entries {
		s.removeLocked(id)
	}
	s.mu.Unlock()

	var errs []error
	for _, j := range list {
		if err := s.Add(j); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (s *Service) removeLocked(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if s.c != nil {
		s.c.Remove(e.cronID)
	}
	delete(s.entries, id)
}

func (s *Service) registerLocked(e *entry) {
	e.mu.Lock()
	e.planned = e.schedule.Next(s.now().In(s.loc))
	e.mu.Unlock()
	id := s.c.Schedule(e.schedule, cron.FuncJob(func() { s.fire(e) }))
	e.mu.Lock()
	e.cronID = id
	e.mu.Unlock()
}

// Len is the number of registered (enabled, valid) jobs.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs the cron until Stop is called or ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.quit = make(chan struct{})
	go func(quit chan struct{}) {
		select {
		case <-ctx.Done():
			s.Stop(context.Background())
		case <-quit:
		}
	}(s.quit)
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithParser(jobs.Parser),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
	for _, e := range s.entries {
		s.registerLocked(e)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.entries)))
}

// Stop prevents new firings and waits for in-progress trigger callbacks.
// Work already handed to the loop is not affected.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	if s.quit != nil {
		close(s.quit)
		s.quit = nil
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		next := e.planned
		e.mu.Unlock()
		if next.IsZero() {
			next = e.schedule.Next(s.now().In(s.loc))
		}
		out = append(out, JobInfo{
			ID:       e.job.ID,
			Trigger:  e.job.Trigger.String(),
			Spec:     e.spec,
			Action:   e.job.Action.String(),
			Next:     next,
			InFlight: len(e.slots),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Preview returns the next n fire times of job after from.
func Preview(job jobs.Job, loc *time.Location, from time.Time, n int) ([]time.Time, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	spec, _ := job.Trigger.Spec()
	sched, err := jobs.Parser.Parse(spec)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	out := make([]time.Time, 0, n)
	t := from.In(loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Service) previewLocked(e *entry, n int) string {
	parts := make([]string, 0, n)
	t := s.now().In(s.loc)
	for i := 0; i < n; i++ {
		t = e.schedule.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format(time.RFC3339))
	}
	return strings.Join(parts, ", ")
}

// fire runs on a cron goroutine. It never blocks on the action.
func (s *Service) fire(e *entry) {
	now := s.now().In(s.loc)

	e.mu.Lock()
	planned := e.planned
	if planned.IsZero() || planned.After(now) {
		planned = now
	}
	coalesced := 0
	for t := e.schedule.Next(planned); !t.IsZero() && !t.After(now) && coalesced < 10000; t = e.schedule.Next(t) {
		coalesced++
	}
	e.planned = e.schedule.Next(now)
	e.mu.Unlock()

	ev := eventbus.JobEvent{
		JobID:     e.job.ID,
		RunID:     uuid.NewString(),
		Planned:   planned,
		Lateness:  now.Sub(planned),
		Coalesced: coalesced,
	}
	log := s.log.With(logx.String("job", ev.JobID), logx.String("run_id", ev.RunID))

	if ev.Lateness > s.cfg.MisfireThreshold {
		log.Warn("job run missed its scheduled time; running late",
			logx.Time("planned", planned), logx.Duration("lateness", ev.Lateness), logx.Int("coalesced", coalesced))
		s.publish(eventbus.JobMissed, ev)
		s.lmu.Lock()
		listeners := append([]func(eventbus.JobEvent){}, s.onMissed...)
		s.lmu.Unlock()
		for _, fn := range listeners {
			fn(ev)
		}
	}

	select {
	case e.slots <- struct{}{}:
	default:
		log.Warn("job firing rejected", logx.Int("max_instances", cap(e.slots)))
		ev.Err = ErrMaxInstances
		s.publish(eventbus.JobRejected, ev)
		return
	}

	started := s.now()
	work := &loop.Work{
		ID:    ev.RunID,
		Name:  "job:" + ev.JobID,
		Fetch: s.actions.Prepare(e.job, ev.RunID),
		Done: func(err error) {
			<-e.slots
			done := ev
			done.Took = s.now().Sub(started)
			done.Err = err
			if err != nil {
				log.Error("job action failed", logx.Duration("took", done.Took), logx.Err(err))
				s.publish(eventbus.JobFailed, done)
				return
			}
			log.Info("job action finished", logx.Duration("took", done.Took))
			s.publish(eventbus.JobDone, done)
		},
	}
	s.publish(eventbus.JobFired, ev)
	if err := s.sub.TrySubmit(work); err != nil {
		<-e.slots
		log.Warn("job dispatch failed", logx.Err(err))
		ev.Err = err
		s.publish(eventbus.JobRejected, ev)
	}
}

func (s *Service) publish(topic string, ev eventbus.JobEvent) {
	s.bus.Publish(eventbus.Event{Type: topic, Data: ev})
}

// cronLogger adapts logx to cron.Logger for the Recover wrapper.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kavitabot/internal/jobs"
	"kavitabot/internal/task/loop"
)

var (
	ErrMaxInstances = errors.New("job has reached its max concurrent instances")
	ErrNotStarted   = errors.New("scheduler not started")
)

type Config struct {
	Timezone string

	// MaxInstances bounds in-flight runs per job. Default 3.
	MaxInstances int

	// MisfireThreshold is how late a firing may be before it is reported
	// as missed. Default 1s.
	MisfireThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxInstances <= 0 {
		c.MaxInstances = 3
	}
	if c.MisfireThreshold <= 0 {
		c.MisfireThreshold = time.Second
	}
	return c
}

// Actions turns a fired job into the fetch stage of its loop work.
type Actions interface {
	Prepare(job jobs.Job, runID string) func(ctx context.Context) (loop.Deliver, error)
}

// Submitter accepts work without blocking.
type Submitter interface {
	TrySubmit(w *loop.Work) error
}

// JobInfo is a read-only view of one registered job.
type JobInfo struct {
	ID       string
	Trigger  string
	Spec     string
	Action   string
	Next     time.Time
	InFlight int
}

type entry struct {
	job      jobs.Job
	spec     string
	schedule cron.Schedule
	slots    chan struct{}

	mu      sync.Mutex
	cronID  cron.EntryID
	planned time.Time
}

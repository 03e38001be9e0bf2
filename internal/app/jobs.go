package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"kavitabot/internal/config"
	"kavitabot/internal/jobs"
	"kavitabot/internal/storage"
	logx "kavitabot/pkg/logx"
)

// readJobs returns the raw jobs document and the name used to pick its
// decoder. A missing document is an empty job list.
func readJobs(ctx context.Context, file string, store storage.Store) (name string, data []byte, err error) {
	if file = strings.TrimSpace(file); file != "" {
		b, err := os.ReadFile(file)
		if errors.Is(err, os.ErrNotExist) {
			return file, nil, nil
		}
		return file, b, err
	}
	b, err := store.Load(ctx, storage.DocJobs)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.DocJobs + ".json", nil, nil
	}
	return storage.DocJobs + ".json", b, err
}

func parseJobs(name string, data []byte) ([]jobs.Job, []jobs.Rejected, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil, nil
	}
	list, rejected, err := jobs.Parse(name, data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return list, rejected, nil
}

// LoadJobs reads the job set the bot would run with cfg, from
// scheduler.jobs_file or the storage document.
func LoadJobs(ctx context.Context, cfg *config.Config) (source string, list []jobs.Job, rejected []jobs.Rejected, err error) {
	var store storage.Store
	if strings.TrimSpace(cfg.Scheduler.JobsFile) == "" {
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			return "", nil, nil, err
		}
		if store, err = storage.Open(sc, logx.Nop()); err != nil {
			return "", nil, nil, fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()
	}
	source, data, err := readJobs(ctx, cfg.Scheduler.JobsFile, store)
	if err != nil {
		return source, nil, nil, fmt.Errorf("read jobs: %w", err)
	}
	list, rejected, err = parseJobs(source, data)
	return source, list, rejected, err
}

// reloadJobs parses the jobs document and swaps the scheduler's job set.
// A document that does not parse leaves the current jobs running.
func (a *App) reloadJobs(ctx context.Context, file string) error {
	name, data, err := readJobs(ctx, file, a.store)
	if err != nil {
		return fmt.Errorf("read jobs: %w", err)
	}
	list, rejected, err := parseJobs(name, data)
	if err != nil {
		return err
	}
	for _, r := range rejected {
		a.log.Warn("job rejected", logx.String("source", name), logx.Err(r))
	}
	for _, err := range a.sched.Replace(list) {
		a.log.Warn("job not scheduled", logx.Err(err))
	}
	a.log.Info("jobs loaded", logx.String("source", name), logx.Int("count", a.sched.Len()))
	return nil
}

package app

import (
	"fmt"
	"strings"
	"time"

	"kavitabot/internal/commands"
	"kavitabot/internal/config"
	"kavitabot/internal/storage"
	"kavitabot/internal/task/engine"
	"kavitabot/internal/task/loop"
	"kavitabot/internal/task/scheduler"
	logx "kavitabot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	out := logx.Config{
		Level:   lc.Level,
		Console: lc.Console == nil || *lc.Console,
		File: logx.FileConfig{
			Enabled: strings.TrimSpace(lc.File) != "",
			Path:    lc.File,
		},
	}
	if lvl := strings.TrimSpace(lc.AlertLevel); lvl != "" && cfg.Telegram.Token != "" {
		out.Alert = logx.AlertConfig{Enabled: true, MinLevel: lvl, RatePerMin: lc.AlertPerMinute}
	}
	return out
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "memory":
		return storage.Config{Driver: driver}, nil
	case "postgres", "postgresql", "redis":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: driver, DSN: strings.TrimSpace(sc.DSN), Prefix: sc.Prefix}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		if busy == 0 {
			busy = time.Second
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapKavitaTimeout returns the per-request timeout for the Kavita client.
func mapKavitaTimeout(cfg *config.Config) time.Duration {
	return config.Duration(cfg.Kavita.Timeout, 10*time.Second)
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	ec := cfg.Engine
	return engine.Config{
		Workers:        ec.Workers,
		QueueSize:      ec.QueueSize,
		DefaultTimeout: config.Duration(ec.Timeout, 0),
	}
}

func mapLoopConfig(cfg *config.Config) loop.Config {
	return loop.Config{
		QueueSize:      cfg.Engine.LoopQueueSize,
		DeliverTimeout: config.Duration(cfg.Engine.DeliverTimeout, 0),
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	sc := cfg.Scheduler
	return scheduler.Config{
		Timezone:         sc.Timezone,
		MaxInstances:     sc.MaxInstances,
		MisfireThreshold: config.Duration(sc.MisfireThreshold, 0),
	}
}

func mapSettings(cfg *config.Config) commands.Settings {
	return commands.Settings{
		AdminUserID:     cfg.Discord.AdminUserID,
		InviteLibraries: append([]int(nil), cfg.Kavita.InviteLibraries...),
		StatsExclude:    cfg.Kavita.StatsExclude,
	}
}

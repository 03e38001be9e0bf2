package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

const appName = "kavitabot"

type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Kavita    KavitaConfig    `json:"kavita"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type DiscordConfig struct {
	Token       string `json:"token,omitempty"`
	GuildID     string `json:"guild_id,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	AdminUserID string `json:"admin_user_id,omitempty"`
	Status      string `json:"status,omitempty"`
}

// KavitaConfig locates the library server. Either base_url + api_key or
// opds_url (which embeds both) must be set.
type KavitaConfig struct {
	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	OPDSURL    string `json:"opds_url,omitempty"`
	PublicURL  string `json:"public_url,omitempty"`
	PluginName string `json:"plugin_name,omitempty"`
	Timeout    string `json:"timeout,omitempty"`

	InviteLibraries []int  `json:"invite_libraries,omitempty"`
	StatsExclude    string `json:"stats_exclude_prefix,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token,omitempty"`
	AdminChatID int64  `json:"admin_chat_id,omitempty"`
	ThreadID    int    `json:"thread_id,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"`
	File    string `json:"file,omitempty"`

	// AlertLevel forwards records at or above it to the Telegram pager.
	// Empty disables forwarding.
	AlertLevel     string `json:"alert_level,omitempty"`
	AlertPerMinute int    `json:"alert_per_minute,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// DSN is the postgres connection string or redis:// URL.
	DSN    string `json:"dsn,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`

	// JobsFile reads jobs from a file instead of the storage "jobs" document.
	JobsFile string `json:"jobs_file,omitempty"`

	MaxInstances     int    `json:"max_instances,omitempty"`
	MisfireThreshold string `json:"misfire_threshold,omitempty"`
}

type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	LoopQueueSize  int    `json:"loop_queue_size,omitempty"`
	DeliverTimeout string `json:"deliver_timeout,omitempty"`
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty"`

	// Pprof mounts the Go profiler under /debug on the metrics listener.
	Pprof bool `json:"pprof,omitempty"`
}

// ApplyDefaults fills unset fields. It derives the Kavita base URL and API
// key from opds_url when those are empty.
func (c *Config) ApplyDefaults() {
	if c.Kavita.OPDSURL != "" && (c.Kavita.BaseURL == "" || c.Kavita.APIKey == "") {
		if base, key, err := SplitOPDS(c.Kavita.OPDSURL); err == nil {
			if c.Kavita.BaseURL == "" {
				c.Kavita.BaseURL = base
			}
			if c.Kavita.APIKey == "" {
				c.Kavita.APIKey = key
			}
		}
	}
	c.Kavita.BaseURL = strings.TrimRight(c.Kavita.BaseURL, "/")
	if c.Kavita.PublicURL == "" {
		c.Kavita.PublicURL = c.Kavita.BaseURL
	}
	if c.Kavita.PluginName == "" {
		c.Kavita.PluginName = appName
	}
	if c.Kavita.StatsExclude == "" {
		c.Kavita.StatsExclude = "/doujinshi/"
	}
	if len(c.Kavita.InviteLibraries) == 0 {
		c.Kavita.InviteLibraries = []int{3, 4}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Console == nil {
		on := true
		c.Logging.Console = &on
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStatePath(c.Storage.Driver)
	}
	if c.Scheduler.MaxInstances <= 0 {
		c.Scheduler.MaxInstances = 3
	}
}

// DefaultConfigPath returns the first kavitabot/config.yaml found in the
// XDG config dirs, else config.yaml in the working directory.
func DefaultConfigPath() string {
	if p, err := xdg.SearchConfigFile(filepath.Join(appName, "config.yaml")); err == nil {
		return p
	}
	return "config.yaml"
}

// DefaultStatePath places state under $XDG_DATA_HOME/kavitabot.
func DefaultStatePath(driver string) string {
	dir := filepath.Join(xdg.DataHome, appName)
	if driver == "sqlite" || driver == "sqlite3" {
		return filepath.Join(dir, appName+".db")
	}
	return dir
}

// SplitOPDS extracts the server origin and API key from a Kavita OPDS URL
// such as https://host/api/opds/<key>.
func SplitOPDS(raw string) (base, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("opds_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", errors.New("opds_url: missing scheme or host")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	key = parts[len(parts)-1]
	if key == "" {
		return "", "", errors.New("opds_url: missing api key segment")
	}
	return u.Scheme + "://" + u.Host, key, nil
}

// Validate checks fields that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Discord.Token) == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if c.Kavita.BaseURL == "" || c.Kavita.APIKey == "" {
		errs = append(errs, errors.New("kavita.base_url and kavita.api_key (or kavita.opds_url) are required"))
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "postgres", "postgresql", "redis":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.dsn (or KAVITABOT_STORAGE_DSN) is required for driver %s", c.Storage.Driver))
		}
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"kavita.timeout", c.Kavita.Timeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"scheduler.misfire_threshold", c.Scheduler.MisfireThreshold},
		{"engine.timeout", c.Engine.Timeout},
		{"engine.deliver_timeout", c.Engine.DeliverTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

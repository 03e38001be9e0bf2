package config

import (
	"reflect"

	logx "kavitabot/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields that never include secrets.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var attrs []logx.Field

	if oldCfg.Discord.Token != newCfg.Discord.Token ||
		oldCfg.Discord.GuildID != newCfg.Discord.GuildID ||
		oldCfg.Discord.ChannelID != newCfg.Discord.ChannelID ||
		oldCfg.Discord.AdminUserID != newCfg.Discord.AdminUserID ||
		oldCfg.Discord.Status != newCfg.Discord.Status {
		changed = append(changed, "discord")
		attrs = append(attrs, logx.Bool("discord.token_changed", oldCfg.Discord.Token != newCfg.Discord.Token))
	}
	if oldCfg.Kavita.BaseURL != newCfg.Kavita.BaseURL || oldCfg.Kavita.APIKey != newCfg.Kavita.APIKey ||
		oldCfg.Kavita.Timeout != newCfg.Kavita.Timeout || oldCfg.Kavita.PublicURL != newCfg.Kavita.PublicURL {
		changed = append(changed, "kavita")
		attrs = append(attrs, logx.String("kavita.base_url", newCfg.Kavita.BaseURL))
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.enabled", newCfg.Telegram.Token != "" && newCfg.Telegram.AdminChatID != 0))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
	}
	return changed, attrs
}

// HotReloadable reports whether every changed section can be applied
// without a restart.
func HotReloadable(changed []string) bool {
	for _, c := range changed {
		switch c {
		case "logging", "scheduler":
		default:
			return false
		}
	}
	return true
}

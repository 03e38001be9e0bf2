package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Secrets can be supplied through the environment (or a .env file) so the
// config document can be committed without credentials.
type Secrets struct {
	DiscordToken  string `envconfig:"DISCORD_TOKEN"`
	KavitaAPIKey  string `envconfig:"KAVITA_API_KEY"`
	KavitaOPDSURL string `envconfig:"KAVITA_OPDS_URL"`
	KavitaBaseURL string `envconfig:"KAVITA_BASE_URL"`
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	MetricsAddr   string `envconfig:"METRICS_ADDR"`
	StorageDSN    string `envconfig:"STORAGE_DSN"`
}

// LoadDotEnv loads a .env file if present. Existing variables win.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ReadSecrets decodes KAVITABOT_* variables.
func ReadSecrets() (Secrets, error) {
	var s Secrets
	err := envconfig.Process(appName, &s)
	return s, err
}

// Overlay copies non-empty secrets over cfg.
func (s Secrets) Overlay(cfg *Config) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Discord.Token, s.DiscordToken)
	set(&cfg.Kavita.APIKey, s.KavitaAPIKey)
	set(&cfg.Kavita.OPDSURL, s.KavitaOPDSURL)
	set(&cfg.Kavita.BaseURL, s.KavitaBaseURL)
	set(&cfg.Telegram.Token, s.TelegramToken)
	set(&cfg.Metrics.Addr, s.MetricsAddr)
	set(&cfg.Storage.DSN, s.StorageDSN)
}

// Package config loads settings from an optional YAML file, then applies env
// overrides. Secrets (token, PIN, store DSNs) normally come from env; the
// file carries tunables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BotToken      string `yaml:"bot_token"`
	AllowedChatID int64  `yaml:"allowed_chat_id"`
	BotPIN        string `yaml:"bot_pin"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
	Namespace   string `yaml:"namespace"`

	OrderHistoryURL string `yaml:"order_history_url"`
	DeliverURL      string `yaml:"deliver_url"`

	HTTPTimeoutSec  int `yaml:"http_timeout_sec"`
	PollIntervalSec int `yaml:"poll_interval_sec"`
	ErrorBackoffSec int `yaml:"error_backoff_sec"`
	AnnounceCap     int `yaml:"announce_cap"`

	Port string `yaml:"port"`
}

func defaults() Config {
	return Config{
		Namespace:       "tokomon",
		OrderHistoryURL: "https://tokoku-gateway.itemku.com/order-history",
		DeliverURL:      "https://tokoku-gateway.itemku.com/order-history/deliver",
		HTTPTimeoutSec:  15,
		PollIntervalSec: 10,
		ErrorBackoffSec: 15,
		AnnounceCap:     10,
		Port:            "8080",
	}
}

// Load reads the YAML file at path (skipped when path is ""), layers env
// overrides on top, and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	setStr(&cfg.BotToken, "BOT_TOKEN")
	if v := os.Getenv("ALLOWED_CHAT_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.AllowedChatID = n
		}
	}
	setStr(&cfg.BotPIN, "BOT_PIN")
	setStr(&cfg.RedisURL, "REDIS_URL")
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.Namespace, "STORE_NAMESPACE")
	setStr(&cfg.OrderHistoryURL, "ORDER_HISTORY_URL")
	setStr(&cfg.DeliverURL, "DELIVER_URL")
	setInt(&cfg.HTTPTimeoutSec, "HTTP_TIMEOUT_SEC")
	setInt(&cfg.PollIntervalSec, "POLL_INTERVAL_SEC")
	setInt(&cfg.ErrorBackoffSec, "ERROR_BACKOFF_SEC")
	setInt(&cfg.AnnounceCap, "ANNOUNCE_CAP")
	setStr(&cfg.Port, "PORT")
}

func (c Config) validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("bot_token (BOT_TOKEN) is required")
	}
	if c.AllowedChatID == 0 {
		return fmt.Errorf("allowed_chat_id (ALLOWED_CHAT_ID) is required")
	}
	if c.BotPIN == "" {
		return fmt.Errorf("bot_pin (BOT_PIN) is required")
	}
	if c.OrderHistoryURL == "" || c.DeliverURL == "" {
		return fmt.Errorf("order_history_url and deliver_url must be set")
	}
	return nil
}

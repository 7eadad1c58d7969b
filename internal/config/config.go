// Package config provides YAML-based configuration loading for Parley.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Parley configuration, loaded from parley.yaml.
// Everything is supplied at process start; there is no hot reload.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Channels ChannelsConfig `yaml:"channels"`
	Expiry   ExpiryConfig   `yaml:"expiry"`
}

// HTTPConfig holds settings for the sessions HTTP API.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig holds connection settings for the MySQL session store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// NATSConfig holds the result-event bus servers. An empty list disables
// result publishing.
type NATSConfig struct {
	Servers []string `yaml:"servers"`
}

// ChannelsConfig selects and configures the outbound channel client.
type ChannelsConfig struct {
	Provider    string        `yaml:"provider"`     // "rest", "slack", "discord", "none"
	BaseURL     string        `yaml:"base_url"`     // rest provider: channels API base
	ResponseURL string        `yaml:"response_url"` // webhook URL channels post responses to
	Slack       SlackConfig   `yaml:"slack"`
	Discord     DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack credentials for the slack provider.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord credentials for the discord provider.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// ExpiryConfig controls the expiry scheduler.
type ExpiryConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Database == "" {
		c.Database.Database = "parley_sessions"
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Channels.Provider == "" {
		c.Channels.Provider = "none"
	}
	if c.Channels.ResponseURL == "" {
		c.Channels.ResponseURL = fmt.Sprintf("http://localhost:%d/channels/response", c.HTTP.Port)
	}
	if c.Expiry.IntervalSeconds == 0 {
		c.Expiry.IntervalSeconds = 300
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Channels.Provider {
	case "none":
	case "rest":
		if c.Channels.BaseURL == "" {
			errs = append(errs, "channels.base_url is required for the rest provider")
		}
	case "slack":
		if c.Channels.Slack.BotToken == "" {
			errs = append(errs, "channels.slack.bot_token is required for the slack provider")
		}
	case "discord":
		if c.Channels.Discord.BotToken == "" {
			errs = append(errs, "channels.discord.bot_token is required for the discord provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("channels.provider %q is not one of rest, slack, discord, none", c.Channels.Provider))
	}
	if c.Expiry.IntervalSeconds < 0 {
		errs = append(errs, "expiry.interval_seconds must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Package config loads and validates the kumodash YAML configuration and
// watches the file for rule changes. Secrets (SMTP password, webhook URLs)
// are referenced by environment variable name rather than stored inline.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kumodash/kumodash/internal/alerts"
)

// Default values for the configuration.
const (
	DefaultHTTPPort     = 8080
	DefaultPollInterval = 5 * time.Second
	DefaultStoreTTL     = 5 * time.Minute
)

// Config is the root of the kumodash configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	KumoMTA  KumoMTAConfig  `yaml:"kumomta"`
	Store    StoreConfig    `yaml:"store"`
	Channels ChannelsConfig `yaml:"channels"`
	Rules    []alerts.Rule  `yaml:"rules"`
}

// ServerConfig holds the dashboard HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on
	// (default 8080).
	HTTPPort int `yaml:"http_port"`
}

// KumoMTAConfig describes the upstream mail server to poll.
type KumoMTAConfig struct {
	// Endpoint is the base URL of the KumoMTA HTTP listener,
	// e.g. "http://localhost:8000".
	Endpoint string `yaml:"endpoint"`

	// PollInterval is the metric polling cadence (default 5s). Ticks fire on
	// schedule regardless of whether the previous poll has settled.
	PollInterval time.Duration `yaml:"poll_interval"`

	// APIKeyEnv names the environment variable holding the API key sent on
	// every request. Empty means unauthenticated.
	APIKeyEnv string `yaml:"api_key_env"`

	// Header is the request header carrying the API key.
	// Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// APIKey returns the API key resolved from the environment.
func (k KumoMTAConfig) APIKey() string {
	if k.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(k.APIKeyEnv)
}

// StoreConfig controls dashboard state retention.
type StoreConfig struct {
	// TTL is how long a queue entry stays visible after its last update.
	// Default: 5m.
	TTL time.Duration `yaml:"ttl"`
}

// ChannelsConfig holds the notification channel adapter settings.
type ChannelsConfig struct {
	Email   EmailChannelConfig   `yaml:"email"`
	Slack   SlackChannelConfig   `yaml:"slack"`
	Webhook WebhookChannelConfig `yaml:"webhook"`
}

// EmailChannelConfig configures the SMTP adapter. Missing host, port, or
// from address leaves the email channel permanently unconfigured.
type EmailChannelConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"password_env"`
	From        string   `yaml:"from"`
	Recipients  []string `yaml:"recipients"`
}

// Password returns the SMTP password resolved from the environment.
func (c EmailChannelConfig) Password() string {
	if c.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.PasswordEnv)
}

// SlackChannelConfig configures the Slack adapter.
type SlackChannelConfig struct {
	// WebhookURLEnv names the environment variable holding the Slack
	// incoming webhook URL.
	WebhookURLEnv string `yaml:"webhook_url_env"`

	// Channel is the default target channel, e.g. "#mail-ops".
	Channel string `yaml:"channel"`
}

// WebhookURL returns the Slack webhook URL resolved from the environment.
func (c SlackChannelConfig) WebhookURL() string {
	if c.WebhookURLEnv == "" {
		return ""
	}
	return os.Getenv(c.WebhookURLEnv)
}

// WebhookChannelConfig configures the generic webhook adapter.
type WebhookChannelConfig struct {
	// URLEnv names the environment variable holding the default target URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (c WebhookChannelConfig) URL() string {
	if c.URLEnv == "" {
		return ""
	}
	return os.Getenv(c.URLEnv)
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
		},
		KumoMTA: KumoMTAConfig{
			PollInterval: DefaultPollInterval,
		},
		Store: StoreConfig{
			TTL: DefaultStoreTTL,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.KumoMTA.Endpoint == "" {
		return fmt.Errorf("kumomta.endpoint is required")
	}
	if cfg.KumoMTA.PollInterval <= 0 {
		return fmt.Errorf("kumomta.poll_interval must be positive")
	}
	if cfg.Store.TTL < 0 {
		return fmt.Errorf("store.ttl must not be negative")
	}
	for i, rule := range cfg.Rules {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}

// validateRule checks one alert rule definition.
func validateRule(rule alerts.Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("id is required")
	}
	if rule.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch rule.Severity {
	case alerts.SeverityInfo, alerts.SeverityWarning, alerts.SeverityError, alerts.SeverityCritical:
	default:
		return fmt.Errorf("severity %q unknown: want info|warning|error|critical", rule.Severity)
	}
	switch rule.Condition.Type {
	case alerts.ConditionQueueDepth, alerts.ConditionBounceRate,
		alerts.ConditionDeliveryRate, alerts.ConditionDomainSuspension,
		alerts.ConditionSystemHealth:
	default:
		return fmt.Errorf("condition.type %q unknown", rule.Condition.Type)
	}
	switch rule.Condition.Operator {
	case alerts.OpGreater, alerts.OpLess, alerts.OpGreaterEqual,
		alerts.OpLessEqual, alerts.OpEqual, alerts.OpNotEqual:
	default:
		return fmt.Errorf("condition.operator %q unknown", rule.Condition.Operator)
	}
	if rule.Condition.TimeWindow < 0 {
		return fmt.Errorf("condition.time_window must not be negative")
	}
	for _, ch := range rule.Channels {
		switch ch {
		case "email", "slack", "webhook":
		default:
			return fmt.Errorf("channel %q unknown: want email|slack|webhook", ch)
		}
	}
	if t := rule.Throttle; t != nil {
		if t.Period <= 0 {
			return fmt.Errorf("throttle.period must be positive")
		}
		if t.MaxAlerts <= 0 {
			return fmt.Errorf("throttle.max_alerts must be positive")
		}
	}
	return nil
}

package config

import (
	"fmt"
	"net/url"
	"time"
)

// NotifyConfig represents notification configuration
type NotifyConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Notification channels
	Webhook WebhookConfig `mapstructure:"webhook"`
	Slack   SlackConfig   `mapstructure:"slack"`

	RateLimit NotifyRateLimitConfig `mapstructure:"rate_limit"`
}

// NotifyRateLimitConfig represents rate limiting configuration
type NotifyRateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	MaxEvents int           `mapstructure:"max_events"`
}

// WebhookConfig represents the webhook notification configuration
type WebhookConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	URL        string            `mapstructure:"url"`
	Secret     string            `mapstructure:"secret"`
	Method     string            `mapstructure:"method"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	MaxRetries int               `mapstructure:"max_retries"`
	Headers    map[string]string `mapstructure:"headers"`
	CommonData map[string]any    `mapstructure:"common_data"`
}

// SlackConfig represents Slack notification configuration
type SlackConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Channel    string        `mapstructure:"channel"`
	Username   string        `mapstructure:"username"`
	IconEmoji  string        `mapstructure:"icon_emoji"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// SetDefaults fills unset values
func (cfg *NotifyConfig) SetDefaults() {
	if cfg.RateLimit.Interval == 0 {
		cfg.RateLimit.Interval = time.Minute
	}
	if cfg.RateLimit.MaxEvents == 0 {
		cfg.RateLimit.MaxEvents = 10
	}
	if cfg.Webhook.Method == "" {
		cfg.Webhook.Method = "POST"
	}
	if cfg.Webhook.Timeout <= 0 {
		cfg.Webhook.Timeout = 10 * time.Second
	}
	if cfg.Webhook.MaxRetries == 0 {
		cfg.Webhook.MaxRetries = 3
	}
	if cfg.Slack.Timeout <= 0 {
		cfg.Slack.Timeout = 10 * time.Second
	}
}

// Validate notification configuration
func (cfg *NotifyConfig) Validate() error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Interval <= 0 {
			return fmt.Errorf("rate_limit.interval must be positive")
		}
		if cfg.RateLimit.MaxEvents <= 0 {
			return fmt.Errorf("rate_limit.max_events must be positive")
		}
	}

	if cfg.Webhook.Enabled {
		if err := cfg.Webhook.Validate(); err != nil {
			return fmt.Errorf("invalid webhook config: %w", err)
		}
	}

	if cfg.Slack.Enabled {
		if err := cfg.Slack.Validate(); err != nil {
			return fmt.Errorf("invalid slack config: %w", err)
		}
	}

	return nil
}

// Validate validates webhook configuration
func (cfg *WebhookConfig) Validate() error {
	if cfg.URL == "" {
		return fmt.Errorf("url is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

// Validate validates slack configuration
func (cfg *SlackConfig) Validate() error {
	if cfg.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL is required")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cfgkeeper/internal/checkpoint"
	commonCfg "cfgkeeper/internal/config"
	"cfgkeeper/internal/retry"
	"cfgkeeper/internal/types"
	"cfgkeeper/internal/validator"

	"github.com/spf13/viper"
)

// Config represents agent configuration
type Config struct {
	// Plugin options
	URL             string `mapstructure:"url" validate:"required,httpurl"`
	APIToken        string `mapstructure:"api_token" validate:"notblank"`
	PollingInterval int    `mapstructure:"polling_interval" validate:"min=1"` // minutes
	VerifySSL       bool   `mapstructure:"verify_ssl"`
	GitURL          string `mapstructure:"git_url" validate:"required,httpurl"`
	GitUser         string `mapstructure:"git_user" validate:"notblank"`
	GitToken        string `mapstructure:"git_token" validate:"notblank"`

	Sync       SyncConfig             `mapstructure:"sync"`
	RateLimit  retry.Config           `mapstructure:"rate_limit"`
	Committer  types.Committer        `mapstructure:"committer"`
	Log        commonCfg.LogConfig    `mapstructure:"log"`
	Status     StatusConfig           `mapstructure:"status"`
	Checkpoint checkpoint.Config      `mapstructure:"checkpoint"`
	Publish    PublishConfig          `mapstructure:"publish"`
	Notify     commonCfg.NotifyConfig `mapstructure:"notify"`
}

// SyncConfig represents sync loop configuration
type SyncConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	CollapseDuplicates bool          `mapstructure:"collapse_duplicates"`
	Timeout            time.Duration `mapstructure:"timeout"` // per HTTP request, 0 disables
}

// StatusConfig represents the status server configuration
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// PublishConfig represents cycle report publishing configuration
type PublishConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

// PollingDuration returns the polling interval as a duration
func (c *Config) PollingDuration() time.Duration {
	return time.Duration(c.PollingInterval) * time.Minute
}

// PollingIntervalMs returns the polling interval in milliseconds
func (c *Config) PollingIntervalMs() int64 {
	return c.PollingDuration().Milliseconds()
}

// LoadConfig loads the agent configuration. An empty path searches the
// default locations; when no file is found the configuration may come
// entirely from CFGKEEPER_* environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		// Add search paths
		v.AddConfigPath(commonCfg.InDot)
		v.AddConfigPath(commonCfg.InHome)
		v.AddConfigPath(commonCfg.InHomeDot)
		v.AddConfigPath(commonCfg.InEtc)
	}

	v.SetEnvPrefix(commonCfg.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set defaults if not specified
	setDefaults(&config)

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// registerDefaults makes every key known to viper so environment
// overrides are picked up by Unmarshal
func registerDefaults(v *viper.Viper) {
	for _, key := range []string{"url", "api_token", "git_url", "git_user", "git_token"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("polling_interval", 1)
	v.SetDefault("verify_ssl", true)

	v.SetDefault("sync.tick_interval", "10s")
	v.SetDefault("sync.collapse_duplicates", false)
	v.SetDefault("sync.timeout", "0s")

	v.SetDefault("committer.name", "cfgkeeper")
	v.SetDefault("committer.email", "cfgkeeper@users.noreply.github.com")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.address", ":8089")

	v.SetDefault("checkpoint.driver", checkpoint.DriverMemory)
	v.SetDefault("checkpoint.redis.addr", "")
	v.SetDefault("checkpoint.redis.password", "")
	v.SetDefault("checkpoint.redis.key", checkpoint.DefaultRedisKey)

	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.brokers", []string{})
	v.SetDefault("publish.topic", "cfgkeeper.cycles")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.secret", "")
	v.SetDefault("notify.slack.webhook_url", "")
}

// setDefaults sets default values if not specified
func setDefaults(config *Config) {
	config.URL = strings.TrimRight(strings.TrimSpace(config.URL), "/")
	config.APIToken = strings.TrimSpace(config.APIToken)
	config.GitURL = strings.TrimRight(strings.TrimSpace(config.GitURL), "/")

	if config.Sync.TickInterval <= 0 {
		config.Sync.TickInterval = 10 * time.Second
	}

	platform := retry.DefaultPlatformConfig()
	if config.RateLimit.ResetHeader == "" {
		config.RateLimit.ResetHeader = platform.ResetHeader
	}
	if config.RateLimit.ResetUnit == 0 {
		config.RateLimit.ResetUnit = platform.ResetUnit
	}
	if config.RateLimit.DefaultDelay == 0 {
		config.RateLimit.DefaultDelay = platform.DefaultDelay
	}

	if config.Log.MaxSize == 0 {
		config.Log.MaxSize = 100
	}
	if config.Log.MaxBackups == 0 {
		config.Log.MaxBackups = 3
	}
	if config.Log.MaxAge == 0 {
		config.Log.MaxAge = 28
	}

	if config.Status.Address == "" {
		config.Status.Address = ":8089"
	}

	if config.Publish.BatchTimeout == 0 {
		config.Publish.BatchTimeout = time.Second
	}
	if config.Publish.WriteTimeout == 0 {
		config.Publish.WriteTimeout = 10 * time.Second
	}
	if config.Publish.BufferSize == 0 {
		config.Publish.BufferSize = 100
	}

	config.Notify.SetDefaults()
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}

	if err := config.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}

	if err := config.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if err := config.Checkpoint.Validate(); err != nil {
		return err
	}

	if config.Publish.Enabled {
		if len(config.Publish.Brokers) == 0 {
			return fmt.Errorf("at least one broker is required when publishing is enabled")
		}
		if config.Publish.Topic == "" {
			return fmt.Errorf("publish.topic is required when publishing is enabled")
		}
	}

	if err := config.Notify.Validate(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	return nil
}

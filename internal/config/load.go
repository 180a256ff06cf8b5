package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config file and from environment
// variables with a VERSIO_ prefix. Environment variables take precedence over
// values from the config file. Returns a populated Config or an error if
// loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file in the working directory.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; environment variables and defaults apply.
	}

	// VERSIO_SERVER_PORT overrides server.port, and so on.
	v.SetEnvPrefix("VERSIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the defaults every deployment can fall back to.
// database.url and queue.redis_url have no safe default and must be provided.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	// Registered empty so AutomaticEnv can override them; validation rejects
	// a deployment that leaves database.url unset.
	v.SetDefault("database.url", "")
	v.SetDefault("queue.redis_url", "")

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.batch_size", 4)
	v.SetDefault("queue.poll_interval_ms", 2000)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_ms", 1000)
	v.SetDefault("queue.backoff_max_ms", 60000)
	v.SetDefault("queue.claim_expiry_sec", 300)

	v.SetDefault("artifact.dir", "/tmp/versio/exports")
	v.SetDefault("artifact.ttl_minutes", 60)
	v.SetDefault("artifact.sweep_interval_minutes", 10)

	v.SetDefault("lifecycle.heartbeat_interval_sec", 30)
	v.SetDefault("lifecycle.drain_grace_sec", 60)
	v.SetDefault("lifecycle.drain_poll_ms", 250)
}

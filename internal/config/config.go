package config

// Config holds all application configuration.
// It is constructed once at startup by Load, validated, and then passed by
// dependency injection into each component; nothing mutates it afterwards.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue"     validate:"required"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"  validate:"required"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains the settings for the read-only content database.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// QueueConfig contains the job queue settings shared by all backends.
type QueueConfig struct {
	// Backend selects the queue implementation: "memory" for a single-node
	// in-process queue, "redis" for the durable broker.
	Backend string `mapstructure:"backend" validate:"required,oneof=memory redis"`

	// RedisURL is required when Backend is "redis".
	RedisURL string `mapstructure:"redis_url" validate:"required_if=Backend redis"`

	// BatchSize bounds how many jobs one poll may claim, and therefore how
	// many export pipelines run concurrently.
	BatchSize int `mapstructure:"batch_size" validate:"required,gt=0"`

	// PollIntervalMs is the fixed delay between queue polls.
	PollIntervalMs int `mapstructure:"poll_interval_ms" validate:"required,gt=0"`

	// MaxAttempts is the retry budget per job, counting the first delivery.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gt=0"`

	// BackoffBaseMs seeds the exponential backoff between redeliveries.
	BackoffBaseMs int `mapstructure:"backoff_base_ms" validate:"required,gt=0"`

	// BackoffMaxMs caps the exponential backoff.
	BackoffMaxMs int `mapstructure:"backoff_max_ms" validate:"required,gtefield=BackoffBaseMs"`

	// ClaimExpirySec is how long a claimed job may go unacknowledged before
	// it becomes eligible for redelivery.
	ClaimExpirySec int `mapstructure:"claim_expiry_sec" validate:"required,gt=0"`
}

// ArtifactConfig contains the ephemeral artifact store settings.
type ArtifactConfig struct {
	Dir                  string `mapstructure:"dir"                    validate:"required"`
	TTLMinutes           int    `mapstructure:"ttl_minutes"            validate:"required,gt=0"`
	SweepIntervalMinutes int    `mapstructure:"sweep_interval_minutes" validate:"required,gt=0"`
}

// LifecycleConfig contains shutdown draining and heartbeat settings.
type LifecycleConfig struct {
	HeartbeatIntervalSec int `mapstructure:"heartbeat_interval_sec" validate:"required,gt=0"`
	DrainGraceSec        int `mapstructure:"drain_grace_sec"        validate:"required,gt=0"`
	DrainPollMs          int `mapstructure:"drain_poll_ms"          validate:"required,gt=0"`
}

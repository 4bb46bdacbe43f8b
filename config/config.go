// Package config loads daemon configuration from a file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	qerrors "github.com/loamlabs/taskqueue/errors"
)

// Config is the root daemon configuration.
type Config struct {
	Redis   RedisConfig   `mapstructure:"redis"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RedisConfig configures the shared store connection.
type RedisConfig struct {
	URI            string `mapstructure:"uri"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	UseTLS         bool   `mapstructure:"use_tls"`
	TLSSkipVerify  bool   `mapstructure:"tls_skip_verify"`
	TLSCertPath    string `mapstructure:"tls_cert_path"`
}

// QueueConfig configures queue semantics.
type QueueConfig struct {
	Namespace      string        `mapstructure:"namespace"`
	MaxRetries     int           `mapstructure:"max_retries"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	StatusTTL      time.Duration `mapstructure:"status_ttl"`
	ResultTTL      time.Duration `mapstructure:"result_ttl"`
}

// WorkerConfig configures the dispatcher pool.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReaperInterval  time.Duration `mapstructure:"reaper_interval"`
	// Types restricts which job types this daemon registers processors
	// for. Empty means all.
	Types []string `mapstructure:"types"`
}

// AMQPConfig configures the notification broker. An empty URI disables the
// notification processor.
type AMQPConfig struct {
	URI      string `mapstructure:"uri"`
	Exchange string `mapstructure:"exchange"`
}

// PathsConfig locates the artifacts processors work on.
type PathsConfig struct {
	DatabasePath  string        `mapstructure:"database_path"`
	BackupsDir    string        `mapstructure:"backups_dir"`
	ExportsDir    string        `mapstructure:"exports_dir"`
	CleanupMaxAge time.Duration `mapstructure:"cleanup_max_age"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file (optional) and from
// TASKQUEUE_-prefixed environment variables, which take precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("redis.uri", "redis://localhost:6379/")
	v.SetDefault("redis.max_connections", 10)
	v.SetDefault("redis.max_idle", 2)
	v.SetDefault("redis.use_tls", false)
	v.SetDefault("redis.tls_skip_verify", false)
	v.SetDefault("redis.tls_cert_path", "")
	v.SetDefault("queue.namespace", "job:")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.default_timeout", time.Hour)
	v.SetDefault("queue.status_ttl", 7*24*time.Hour)
	v.SetDefault("queue.result_ttl", 7*24*time.Hour)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.shutdown_timeout", 30*time.Second)
	v.SetDefault("worker.reaper_interval", 30*time.Second)
	v.SetDefault("worker.types", []string{})
	v.SetDefault("amqp.uri", "")
	v.SetDefault("amqp.exchange", "taskqueue.notifications")
	v.SetDefault("paths.database_path", "data/tasks.db")
	v.SetDefault("paths.backups_dir", "backups")
	v.SetDefault("paths.exports_dir", "exports")
	v.SetDefault("paths.cleanup_max_age", 30*24*time.Hour)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetEnvPrefix("TASKQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Redis.URI == "" {
		return fmt.Errorf("%w: redis.uri is required", qerrors.ErrInvalidConfig)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("%w: worker.concurrency must be positive", qerrors.ErrInvalidConfig)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("%w: queue.max_retries cannot be negative", qerrors.ErrInvalidConfig)
	}
	return nil
}

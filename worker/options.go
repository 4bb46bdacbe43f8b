package worker

import (
	"time"
)

// Config holds worker pool configuration
type Config struct {
	Concurrency     int
	PollInterval    time.Duration
	ErrorPause      time.Duration
	ShutdownTimeout time.Duration
	// ReaperInterval is how often stuck processing jobs are swept back
	// into rotation. Zero disables the reaper.
	ReaperInterval time.Duration
}

// Option is a function that modifies pool configuration
type Option func(*Config)

// defaultConfig returns default configuration
func defaultConfig() *Config {
	return &Config{
		Concurrency:     4,
		PollInterval:    time.Second,
		ErrorPause:      time.Second,
		ShutdownTimeout: 30 * time.Second,
		ReaperInterval:  30 * time.Second,
	}
}

// WithConcurrency sets the number of concurrent dispatcher loops
func WithConcurrency(n int) Option {
	return func(c *Config) {
		c.Concurrency = n
	}
}

// WithPollInterval sets the sleep between empty polls
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithErrorPause sets the pause after a polling error
func WithErrorPause(d time.Duration) Option {
	return func(c *Config) {
		c.ErrorPause = d
	}
}

// WithShutdownTimeout sets the graceful shutdown timeout
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ShutdownTimeout = d
	}
}

// WithReaperInterval sets the stuck-job sweep interval; zero disables it
func WithReaperInterval(d time.Duration) Option {
	return func(c *Config) {
		c.ReaperInterval = d
	}
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/loamlabs/taskqueue/config"
	"github.com/loamlabs/taskqueue/queue"
	redisstore "github.com/loamlabs/taskqueue/store/redis"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "taskqueued",
	Short:         "Background job queue daemon for the task tracking service",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Logging)
	return cfg, nil
}

// newStore builds the Redis store from configuration.
func newStore(cfg *config.Config) *redisstore.Store {
	opts := redisstore.DefaultOptions()
	opts.URI = cfg.Redis.URI
	opts.MaxConnections = cfg.Redis.MaxConnections
	opts.MaxIdle = cfg.Redis.MaxIdle
	opts.UseTLS = cfg.Redis.UseTLS
	opts.TLSSkipVerify = cfg.Redis.TLSSkipVerify
	opts.TLSCertPath = cfg.Redis.TLSCertPath
	return redisstore.New(opts)
}

// newQueue builds the queue over the given store from configuration.
func newQueue(cfg *config.Config, s *redisstore.Store) *queue.Queue {
	return queue.New(s,
		queue.WithNamespace(cfg.Queue.Namespace),
		queue.WithMaxRetries(cfg.Queue.MaxRetries),
		queue.WithDefaultTimeout(cfg.Queue.DefaultTimeout),
		queue.WithStatusTTL(cfg.Queue.StatusTTL),
		queue.WithResultTTL(cfg.Queue.ResultTTL),
	)
}

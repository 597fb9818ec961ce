package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Config holds Redis and worker settings.
type Config struct {
	RedisURL    string        `mapstructure:"redis_url" yaml:"redis_url" json:"redis_url"`
	Queue       string        `mapstructure:"queue" yaml:"queue" json:"queue"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	MaxRetry    int           `mapstructure:"max_retry" yaml:"max_retry" json:"max_retry"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Retention   time.Duration `mapstructure:"retention" yaml:"retention" json:"retention"` // how long results stay readable
}

// DefaultConfig returns settings for a local Redis.
func DefaultConfig() Config {
	return Config{
		RedisURL:    "redis://localhost:6379/0",
		Queue:       "docrec",
		Concurrency: 4,
		MaxRetry:    3,
		Timeout:     5 * time.Minute,
		Retention:   24 * time.Hour,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.RedisURL == "" {
		return errors.New("redis_url is required")
	}
	if c.Queue == "" {
		return errors.New("queue is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.MaxRetry < 0 {
		return fmt.Errorf("max_retry must not be negative, got %d", c.MaxRetry)
	}
	return nil
}

func (c Config) redisOpt() (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return opt, nil
}

// taskOptions are applied to every enqueued recognition task.
func (c Config) taskOptions(jobID string) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(c.Queue),
		asynq.MaxRetry(c.MaxRetry),
		asynq.TaskID(jobID),
	}
	if c.Timeout > 0 {
		opts = append(opts, asynq.Timeout(c.Timeout))
	}
	if c.Retention > 0 {
		opts = append(opts, asynq.Retention(c.Retention))
	}
	return opts
}

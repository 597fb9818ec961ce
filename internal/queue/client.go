package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Client enqueues recognition tasks.
type Client struct {
	cfg Config
	c   *asynq.Client
}

// NewClient connects to the Redis named by cfg.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opt, err := cfg.redisOpt()
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, c: asynq.NewClient(opt)}, nil
}

// Enqueue submits p and returns the job ID, which is also the task ID.
// A missing JobID is generated.
func (c *Client) Enqueue(ctx context.Context, p RecognizePayload) (string, error) {
	if p.JobID == "" {
		p.JobID = uuid.NewString()
	}
	task, err := NewRecognizeTask(p, c.cfg.taskOptions(p.JobID)...)
	if err != nil {
		return "", err
	}
	if _, err := c.c.EnqueueContext(ctx, task); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", p.JobID, err)
	}
	return p.JobID, nil
}

// Close releases the Redis connection.
func (c *Client) Close() error { return c.c.Close() }

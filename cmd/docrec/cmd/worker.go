package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docrec/internal/queue"
)

func newWorkerCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "worker",
		Short: "Process queued recognitions from Redis",
		Long: `Run an asynq worker that recognizes the jobs queued through
POST /jobs and stores the results.

Examples:
  docrec worker --redis-url redis://localhost:6379/0
  docrec worker --concurrency 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Queue.RedisURL == "" {
				a.cfg.Queue.RedisURL = queue.DefaultConfig().RedisURL
			}
			svc, closeSvc, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSvc()

			w, err := queue.NewWorker(a.cfg.Queue, &queue.Handler{Service: svc})
			if err != nil {
				return fmt.Errorf("failed to create worker: %w", err)
			}
			return w.Run()
		},
	}
	c.Flags().String("redis-url", "", "Redis URL of the job queue (default redis://localhost:6379/0)")
	c.Flags().String("queue", "docrec", "queue name")
	c.Flags().Int("concurrency", 4, "number of concurrent tasks")
	bindFlag(c.Flags(), "redis-url", "queue.redis_url")
	bindFlag(c.Flags(), "queue", "queue.queue")
	bindFlag(c.Flags(), "concurrency", "queue.concurrency")
	return c
}

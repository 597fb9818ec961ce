package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/MeKo-Tech/docrec/internal/align"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/service"
	"github.com/MeKo-Tech/docrec/internal/template"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

// Handler processes recognition tasks with a Service.
type Handler struct {
	Service *service.Service
	Logger  *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// ProcessTask implements asynq.Handler. Failures that would repeat on
// retry (bad payload, unknown template, undecodable photo, failed
// alignment) skip the remaining retries; OCR failures are retried.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	p, err := ParseRecognizeTask(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	log := h.logger().With("job", p.JobID, "template", p.Template)
	log.Info("Processing recognition task", "bytes", len(p.Image), "path", p.Path)

	res, err := h.Service.Recognize(ctx, service.Request{
		JobID:    p.JobID,
		Template: p.Template,
		Source:   pipeline.Source{Path: p.Path, Data: p.Image},
	})
	if err != nil {
		log.Warn("Recognition task failed", "error", err, "duration", time.Since(start))
		if permanent(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if w := t.ResultWriter(); w != nil {
		data, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			log.Warn("Writing task result failed", "error", err)
		}
	}
	log.Info("Recognition task completed", "cached", res.Cached, "duration", time.Since(start))
	return nil
}

func permanent(err error) bool {
	var ipe *utils.ImageProcessingError
	return errors.Is(err, align.ErrAlignment) ||
		errors.Is(err, template.ErrTemplateNotFound) ||
		errors.Is(err, template.ErrTemplateFormat) ||
		errors.As(err, &ipe)
}

// Worker runs a Handler on an asynq server.
type Worker struct {
	cfg    Config
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker configures an asynq server for cfg and registers h.
func NewWorker(cfg Config, h *Handler) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if h == nil || h.Service == nil {
		return nil, errors.New("handler with a service is required")
	}
	opt, err := cfg.redisOpt()
	if err != nil {
		return nil, err
	}
	log := h.logger()
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.Queue: 10,
			"default": 1,
		},
		RetryDelayFunc: retryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			log.Error("Task processing error", "type", task.Type(), "error", err)
		}),
		Logger: slogAdapter{log.With("component", "asynq")},
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeRecognize, h)
	return &Worker{cfg: cfg, server: server, mux: mux}, nil
}

// Run processes tasks until the process receives SIGTERM or SIGINT.
func (w *Worker) Run() error {
	slog.Info("Starting queue worker", "queue", w.cfg.Queue, "concurrency", w.cfg.Concurrency)
	return w.server.Run(w.mux)
}

// Start processes tasks in the background until Shutdown.
func (w *Worker) Start() error { return w.server.Start(w.mux) }

// Shutdown waits for active tasks and stops the server.
func (w *Worker) Shutdown() { w.server.Shutdown() }

// retryDelay backs off 5s, 10s, 20s, ... capped at a minute.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return min(time.Duration(5*(1<<min(n, 8)))*time.Second, time.Minute)
}

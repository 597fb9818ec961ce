package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/docrec/internal/extract"
	"github.com/MeKo-Tech/docrec/internal/template"
)

// ErrClosed is reported for jobs submitted after Close.
var ErrClosed = errors.New("pipeline is closed")

// ParallelConfig holds configuration for the async worker pool.
type ParallelConfig struct {
	Workers   int `mapstructure:"workers" yaml:"workers" json:"workers"`          // 0 = runtime.NumCPU()
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" json:"queue_size"` // buffered jobs before Submit blocks
}

// DefaultParallelConfig returns one worker per CPU.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{Workers: runtime.NumCPU(), QueueSize: 64}
}

type asyncJob struct {
	ctx context.Context //nolint:containedctx // carried to the worker with the job
	job Job
	out chan Outcome
}

// AsyncPipeline runs jobs of a Pipeline on a fixed pool of workers.
type AsyncPipeline struct {
	p       *Pipeline
	workers int
	jobs    chan asyncJob
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts cfg.Workers workers over p.
func NewAsync(p *Pipeline, cfg ParallelConfig) *AsyncPipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	a := &AsyncPipeline{
		p:       p,
		workers: workers,
		jobs:    make(chan asyncJob, max(cfg.QueueSize, 0)),
	}
	for range workers {
		a.wg.Add(1)
		go a.worker()
	}
	return a
}

func (a *AsyncPipeline) worker() {
	defer a.wg.Done()
	for j := range a.jobs {
		if err := j.ctx.Err(); err != nil {
			j.out <- Outcome{JobID: j.job.ID, Source: j.job.Source.Name(), Err: err}
			continue
		}
		j.out <- a.p.Process(j.ctx, j.job)
	}
}

// Workers returns the pool size.
func (a *AsyncPipeline) Workers() int { return a.workers }

// Pipeline returns the synchronous pipeline the workers run.
func (a *AsyncPipeline) Pipeline() *Pipeline { return a.p }

// Submit queues job and returns a channel that receives exactly one
// Outcome.
func (a *AsyncPipeline) Submit(ctx context.Context, job Job) <-chan Outcome {
	out := make(chan Outcome, 1)
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		out <- Outcome{JobID: job.ID, Source: job.Source.Name(), Err: ErrClosed}
		return out
	}
	select {
	case a.jobs <- asyncJob{ctx: ctx, job: job, out: out}:
	case <-ctx.Done():
		out <- Outcome{JobID: job.ID, Source: job.Source.Name(), Err: ctx.Err()}
	}
	return out
}

// Recognize submits one job and waits for it.
func (a *AsyncPipeline) Recognize(ctx context.Context, src Source, tpl *template.Template) (*extract.Record, error) {
	select {
	case out := <-a.Submit(ctx, Job{Source: src, Template: tpl}):
		return out.Record, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RecognizeBatch runs all jobs concurrently and returns their outcomes in
// input order.
func (a *AsyncPipeline) RecognizeBatch(ctx context.Context, jobs []Job) []Outcome {
	prog := progressOrNoop(a.p.progress)
	prog.OnStart(len(jobs))
	defer prog.OnComplete()

	// Outcome channels are buffered; workers never wait for the collector.
	pending := make([]<-chan Outcome, len(jobs))
	for i, job := range jobs {
		pending[i] = a.Submit(ctx, job)
	}

	outs := make([]Outcome, len(jobs))
	for i, ch := range pending {
		outs[i] = <-ch
		outs[i].Index = i
		if outs[i].Err != nil {
			prog.OnError(i, outs[i].Err)
		}
		prog.OnProgress(i+1, len(jobs))
	}
	return outs
}

// Close stops accepting jobs, lets queued jobs finish and waits for the
// workers.
func (a *AsyncPipeline) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.jobs)
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}

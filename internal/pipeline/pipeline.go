// Package pipeline sequences alignment, OCR and field extraction for a
// document photo.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/docrec/internal/align"
	"github.com/MeKo-Tech/docrec/internal/extract"
	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/recognize"
	"github.com/MeKo-Tech/docrec/internal/template"
)

// ErrNoTemplate is returned when template extraction is requested without
// a template.
var ErrNoTemplate = errors.New("template is required")

// ErrNoOCR is returned by Build when no OCR backend was configured.
var ErrNoOCR = errors.New("ocr backend is required")

// Config holds configuration for the recognition pipeline.
type Config struct {
	Align       align.Config   `mapstructure:"align" yaml:"align" json:"align"`
	JPEGQuality int            `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"` // quality of the aligned image sent to OCR
	Parallel    ParallelConfig `mapstructure:"parallel" yaml:"parallel" json:"parallel"`
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Align:       align.DefaultConfig(),
		JPEGQuality: 95,
		Parallel:    DefaultParallelConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Align.Validate(); err != nil {
		return fmt.Errorf("align: %w", err)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be in [1,100], got %d", c.JPEGQuality)
	}
	if c.Parallel.Workers < 0 {
		return fmt.Errorf("parallel.workers must not be negative, got %d", c.Parallel.Workers)
	}
	return nil
}

// Job is one recognition request.
type Job struct {
	ID       string
	Source   Source
	Template *template.Template
}

// Outcome is the result of a Job.
type Outcome struct {
	Index    int
	JobID    string
	Source   string
	Template string
	Record   *extract.Record
	Align    *AlignStats
	Duration time.Duration
	Err      error
}

// AlignStats summarizes the alignment step.
type AlignStats struct {
	PhotoKeypoints    int           `json:"photo_keypoints"`
	TemplateKeypoints int           `json:"template_keypoints"`
	Matches           int           `json:"matches"`
	Retained          int           `json:"retained"`
	Inliers           int           `json:"inliers"`
	Duration          time.Duration `json:"duration_ns"`
}

func statsOf(r *align.Result) *AlignStats {
	return &AlignStats{
		PhotoKeypoints:    r.PhotoKeypoints,
		TemplateKeypoints: r.TemplateKeypoints,
		Matches:           r.Matches,
		Retained:          r.Retained,
		Inliers:           r.Inliers,
		Duration:          r.Duration,
	}
}

// Runner recognizes documents. Pipeline runs on the calling goroutine;
// AsyncPipeline dispatches to a worker pool.
type Runner interface {
	Recognize(ctx context.Context, src Source, tpl *template.Template) (*extract.Record, error)
	RecognizeBatch(ctx context.Context, jobs []Job) []Outcome
	Close() error
}

// Pipeline runs align, OCR and extract synchronously. It is safe for
// concurrent use when its aligner and OCR backend are.
type Pipeline struct {
	cfg       Config
	aligner   align.Aligner
	ocr       ocr.Backend
	extractor *extract.Extractor
	progress  ProgressCallback
	profiler  *Profiler
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Profiler returns the cumulative stage timings.
func (p *Pipeline) Profiler() *Profiler { return p.profiler }

// Close releases nothing; it exists to satisfy Runner.
func (p *Pipeline) Close() error { return nil }

// Align decodes src and warps it into the frame of tpl.
func (p *Pipeline) Align(ctx context.Context, src Source, tpl *template.Template) (*align.Result, error) {
	if tpl == nil {
		return nil, ErrNoTemplate
	}
	photo, err := src.Decode()
	if err != nil {
		return nil, err
	}
	return p.aligner.Align(ctx, photo, tpl)
}

// Annotate runs OCR on src. With a template the photo is aligned first and
// the aligned image is sent; without one the photo is sent as is.
func (p *Pipeline) Annotate(ctx context.Context, src Source, tpl *template.Template) (*ocr.Response, *align.Result, error) {
	img := src.ocrImage()
	var res *align.Result
	if tpl != nil {
		start := time.Now()
		var err error
		res, err = p.Align(ctx, src, tpl)
		if err != nil {
			return nil, nil, err
		}
		p.profiler.addAlign(time.Since(start))

		data, err := res.EncodeJPEG(p.cfg.JPEGQuality)
		if err != nil {
			return nil, nil, err
		}
		img.Content = data
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	resp, err := p.ocr.Annotate(ctx, img)
	if err != nil {
		return nil, nil, err
	}
	p.profiler.addOCR(time.Since(start))
	return resp, res, nil
}

// Recognize aligns src to tpl, runs OCR on the aligned image and extracts
// the template fields. Alignment and OCR errors are returned unchanged.
func (p *Pipeline) Recognize(ctx context.Context, src Source, tpl *template.Template) (*extract.Record, error) {
	out := p.Process(ctx, Job{Source: src, Template: tpl})
	return out.Record, out.Err
}

// Process runs a job and reports statistics along with the record.
func (p *Pipeline) Process(ctx context.Context, job Job) Outcome {
	start := time.Now()
	out := Outcome{JobID: job.ID, Source: job.Source.Name()}
	if job.Template == nil {
		out.Err = ErrNoTemplate
		return out
	}
	out.Template = job.Template.Name

	resp, res, err := p.Annotate(ctx, job.Source, job.Template)
	if err != nil {
		out.Err = err
		out.Duration = time.Since(start)
		slog.Debug("Recognition failed", "source", out.Source, "template", out.Template, "error", err)
		return out
	}
	out.Align = statsOf(res)

	exStart := time.Now()
	out.Record = p.extractor.Extract(resp.Annotations, job.Template)
	p.profiler.addExtract(time.Since(exStart), out.Record.Len())

	out.Duration = time.Since(start)
	slog.Debug("Recognized document",
		"source", out.Source,
		"template", out.Template,
		"fragments", len(resp.Annotations),
		"duration", out.Duration)
	return out
}

// RecognizeBatch processes jobs one after another, reporting progress.
func (p *Pipeline) RecognizeBatch(ctx context.Context, jobs []Job) []Outcome {
	outs := make([]Outcome, len(jobs))
	prog := progressOrNoop(p.progress)
	prog.OnStart(len(jobs))
	defer prog.OnComplete()
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			outs[i] = Outcome{Index: i, JobID: job.ID, Source: job.Source.Name(), Err: err}
			continue
		}
		outs[i] = p.Process(ctx, job)
		outs[i].Index = i
		if outs[i].Err != nil {
			prog.OnError(i, outs[i].Err)
		}
		prog.OnProgress(i+1, len(jobs))
	}
	return outs
}

// RecognizeAs runs OCR for r and builds its result. Recognizers that are
// bound to a template get the aligned photo; all others the raw photo.
func RecognizeAs[T any](ctx context.Context, p *Pipeline, src Source, r recognize.Recognizer[T]) (T, error) {
	var tpl *template.Template
	if tb, ok := r.(recognize.TemplateBound); ok {
		tpl = tb.Template()
	}
	resp, _, err := p.Annotate(ctx, src, tpl)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.Recognize(ctx, resp)
}

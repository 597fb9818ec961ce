package pipeline

import (
	"fmt"

	"github.com/MeKo-Tech/docrec/internal/align"
	"github.com/MeKo-Tech/docrec/internal/extract"
	"github.com/MeKo-Tech/docrec/internal/ocr"
)

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg       Config
	aligner   align.Aligner
	backend   ocr.Backend
	extractor *extract.Extractor
	progress  ProgressCallback
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithAlignConfig sets the alignment configuration used when no aligner
// is given explicitly.
func (b *Builder) WithAlignConfig(cfg align.Config) *Builder {
	b.cfg.Align = cfg
	return b
}

// WithAligner uses a ready aligner instead of building one from config.
func (b *Builder) WithAligner(a align.Aligner) *Builder {
	b.aligner = a
	return b
}

// WithOCR sets the OCR backend.
func (b *Builder) WithOCR(backend ocr.Backend) *Builder {
	b.backend = backend
	return b
}

// WithExtractor overrides the default extractor.
func (b *Builder) WithExtractor(e *extract.Extractor) *Builder {
	b.extractor = e
	return b
}

// WithJPEGQuality sets the quality of the aligned image sent to OCR.
func (b *Builder) WithJPEGQuality(q int) *Builder {
	if q > 0 {
		b.cfg.JPEGQuality = q
	}
	return b
}

// WithWorkers sets the worker count of an async pipeline.
func (b *Builder) WithWorkers(n int) *Builder {
	if n > 0 {
		b.cfg.Parallel.Workers = n
	}
	return b
}

// WithQueueSize sets the number of jobs an async pipeline buffers.
func (b *Builder) WithQueueSize(n int) *Builder {
	if n >= 0 {
		b.cfg.Parallel.QueueSize = n
	}
	return b
}

// WithProgressCallback sets the progress callback for batch processing.
func (b *Builder) WithProgressCallback(cb ProgressCallback) *Builder {
	b.progress = cb
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Build creates a synchronous pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	if b.backend == nil {
		return nil, ErrNoOCR
	}
	a := b.aligner
	if a == nil {
		var err error
		a, err = align.New(b.cfg.Align)
		if err != nil {
			return nil, fmt.Errorf("init aligner: %w", err)
		}
	}
	ex := b.extractor
	if ex == nil {
		ex = extract.New()
	}
	return &Pipeline{
		cfg:       b.cfg,
		aligner:   a,
		ocr:       b.backend,
		extractor: ex,
		progress:  b.progress,
		profiler:  &Profiler{},
	}, nil
}

// BuildAsync creates a pipeline backed by a worker pool. Close it to stop
// the workers.
func (b *Builder) BuildAsync() (*AsyncPipeline, error) {
	p, err := b.Build()
	if err != nil {
		return nil, err
	}
	return NewAsync(p, b.cfg.Parallel), nil
}

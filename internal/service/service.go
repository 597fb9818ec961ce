// Package service runs recognition requests end to end: template lookup,
// result reuse, the pipeline and persistence. The HTTP server and the
// queue worker share it.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/store"
	"github.com/MeKo-Tech/docrec/internal/template"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

// Request names a photo and the template to read it with.
type Request struct {
	JobID    string
	Template string
	Source   pipeline.Source
}

// Result is the outcome of a successful request.
type Result struct {
	ID         uuid.UUID            `json:"id"`
	JobID      string               `json:"job_id"`
	Template   string               `json:"template"`
	Fields     json.RawMessage      `json:"fields"`
	Align      *pipeline.AlignStats `json:"align,omitempty"`
	Cached     bool                 `json:"cached"`
	DurationMs int64                `json:"duration_ms"`
}

// Service wires a pipeline to a template registry and an optional store.
type Service struct {
	Runner    pipeline.Runner
	Templates *template.Registry
	Store     store.Store   // nil disables persistence
	CacheTTL  time.Duration // 0 disables reuse of stored results
	Logger    *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Template resolves a template by name.
func (s *Service) Template(name string) (*template.Template, error) {
	if s.Templates == nil {
		return nil, fmt.Errorf("%w: %s", template.ErrTemplateNotFound, name)
	}
	return s.Templates.Get(name)
}

// Recognize runs req. Pipeline errors are returned unchanged so callers
// can classify them with errors.Is and errors.As.
func (s *Service) Recognize(ctx context.Context, req Request) (*Result, error) {
	tpl, err := s.Template(req.Template)
	if err != nil {
		return nil, err
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	src, err := materialize(req.Source)
	if err != nil {
		return nil, err
	}
	hash := store.HashImage(src.Data)

	if s.Store != nil && s.CacheTTL > 0 {
		hit, err := s.Store.FindByHash(ctx, hash, tpl.Name, s.CacheTTL)
		switch {
		case err == nil:
			s.logger().Debug("Reusing stored recognition", "job", req.JobID, "id", hit.ID, "template", tpl.Name)
			return &Result{ID: hit.ID, JobID: req.JobID, Template: tpl.Name, Fields: hit.Fields, Cached: true}, nil
		case !errors.Is(err, store.ErrNotFound):
			s.logger().Warn("Result lookup failed", "job", req.JobID, "error", err)
		}
	}

	out := s.run(ctx, pipeline.Job{ID: req.JobID, Source: src, Template: tpl})

	entry, saveErr := s.save(ctx, out, hash)
	if out.Err != nil {
		return nil, out.Err
	}
	if saveErr != nil {
		s.logger().Warn("Storing recognition failed", "job", req.JobID, "error", saveErr)
	}

	fields, err := json.Marshal(out.Record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	res := &Result{
		JobID:      req.JobID,
		Template:   tpl.Name,
		Fields:     fields,
		Align:      out.Align,
		DurationMs: out.Duration.Milliseconds(),
	}
	if entry != nil {
		res.ID = entry.ID
	}
	return res, nil
}

func (s *Service) run(ctx context.Context, job pipeline.Job) pipeline.Outcome {
	switch r := s.Runner.(type) {
	case *pipeline.Pipeline:
		return r.Process(ctx, job)
	case *pipeline.AsyncPipeline:
		return <-r.Submit(ctx, job)
	default:
		return r.RecognizeBatch(ctx, []pipeline.Job{job})[0]
	}
}

func (s *Service) save(ctx context.Context, out pipeline.Outcome, hash string) (*store.Entry, error) {
	if s.Store == nil {
		return nil, nil
	}
	e, err := store.EntryFromOutcome(out, hash)
	if err != nil {
		return nil, err
	}
	if err := s.Store.Save(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// materialize reads path sources into memory so the photo can be hashed.
// The path is kept for OCR backends that key on it.
func materialize(src pipeline.Source) (pipeline.Source, error) {
	if len(src.Data) > 0 {
		return src, nil
	}
	if src.Path == "" {
		return src, &utils.ImageProcessingError{Operation: "load photo", Err: ocr.ErrEmptyImage}
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return src, &utils.ImageProcessingError{Operation: "read photo", Err: err}
	}
	src.Data = data
	return src, nil
}

// Package batch recognizes many photos against one template and renders
// the outcomes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/docrec/internal/pdf"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/template"
)

// ErrNoPhotos is returned when discovery finds nothing to recognize.
var ErrNoPhotos = errors.New("no image files found")

// Result holds the outcomes of a batch run in discovery order. Files[i]
// names the photo behind Outcomes[i]; images taken out of a PDF are
// labeled "<doc>.pdf#p<page>.<n>".
type Result struct {
	Outcomes []pipeline.Outcome
	Files    []string
	Duration time.Duration
	Workers  int
}

// Run discovers the photos named by args and recognizes each of them
// against tpl with runner. Per-photo failures are kept in the outcomes;
// only discovery errors fail the run.
func Run(ctx context.Context, runner pipeline.Runner, tpl *template.Template, args []string, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	paths, err := Discover(args, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(paths) == 0 {
		return nil, ErrNoPhotos
	}

	workers := 1
	if a, ok := runner.(*pipeline.AsyncPipeline); ok {
		workers = a.Workers()
	}

	start := time.Now()
	items := expand(paths, cfg.PDF)
	var jobs []pipeline.Job
	for _, it := range items {
		if it.err == nil {
			jobs = append(jobs, pipeline.Job{ID: uuid.NewString(), Source: it.source, Template: tpl})
		}
	}
	outs := runner.RecognizeBatch(ctx, jobs)

	res := &Result{Workers: workers}
	next := 0
	for i, it := range items {
		var o pipeline.Outcome
		if it.err != nil {
			o = pipeline.Outcome{JobID: uuid.NewString(), Source: it.source.Name(), Err: it.err}
		} else {
			o = outs[next]
			next++
		}
		o.Index = i
		res.Outcomes = append(res.Outcomes, o)
		res.Files = append(res.Files, it.file)
	}
	res.Duration = time.Since(start)
	return res, nil
}

type item struct {
	file   string
	source pipeline.Source
	err    error
}

// expand turns discovered paths into photo sources, one per embedded
// image for PDF scans. A PDF that cannot be read becomes a single failed
// item.
func expand(paths []string, opts pdf.Options) []item {
	var items []item
	for _, p := range paths {
		if !pdf.IsPDF(p) {
			items = append(items, item{file: p, source: pipeline.FromPath(p)})
			continue
		}
		scans, err := pdf.ExtractScans(p, opts)
		if err != nil {
			items = append(items, item{file: p, source: pipeline.Source{Label: filepath.Base(p)}, err: err})
			continue
		}
		for _, sc := range scans {
			label := sc.Label(p)
			items = append(items, item{
				file:   label,
				source: pipeline.Source{Path: p, Data: sc.Data, Label: label},
			})
		}
	}
	return items
}

// Stats summarizes a batch run.
type Stats struct {
	Total      int
	Recognized int
	Failed     int
	Workers    int
	Duration   time.Duration
	PerPhoto   time.Duration
	Throughput float64
}

// Stats computes counts and throughput.
func (r *Result) Stats() Stats {
	s := Stats{Total: len(r.Outcomes), Workers: r.Workers, Duration: r.Duration}
	for _, o := range r.Outcomes {
		if o.Err != nil {
			s.Failed++
		} else {
			s.Recognized++
		}
	}
	if s.Total > 0 {
		s.PerPhoto = r.Duration / time.Duration(s.Total)
	}
	if r.Duration > 0 {
		s.Throughput = float64(s.Total) / r.Duration.Seconds()
	}
	return s
}

// Err returns the first per-photo error, if any.
func (r *Result) Err() error {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return fmt.Errorf("%s: %w", r.Files[o.Index], o.Err)
		}
	}
	return nil
}

// PrintStats writes processing statistics to w.
func (r *Result) PrintStats(w io.Writer) {
	s := r.Stats()
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total photos: %d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Recognized: %d\n", s.Recognized)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", s.Workers)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", s.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Avg per photo: %v\n", s.PerPhoto.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Throughput: %.1f photos/sec\n", s.Throughput)
}

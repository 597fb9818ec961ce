package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pdf"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/template"
)

// registry loads every layout of the templates directory. A missing
// directory yields an empty registry.
func (a *app) registry() (*template.Registry, error) {
	reg, err := template.LoadRegistry(a.cfg.TemplatesDir)
	if errors.Is(err, fs.ErrNotExist) {
		return template.NewRegistry(), nil
	}
	return reg, err
}

// resolveTemplate accepts a layout file path or a template name.
func (a *app) resolveTemplate(ref string) (*template.Template, error) {
	if ref == "" {
		return nil, errors.New("a template is required (--template)")
	}
	if slices.Contains(template.SupportedLayoutExtensions, strings.ToLower(filepath.Ext(ref))) {
		if _, err := os.Stat(ref); err == nil {
			return template.Load(ref)
		}
	}
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	return reg.Get(ref)
}

// openPipeline builds a synchronous pipeline over the configured OCR
// engine. The returned close function is never nil.
func (a *app) openPipeline(ctx context.Context) (*pipeline.Pipeline, func() error, error) {
	backend, closeOCR, err := ocr.Open(ctx, a.cfg.OCR)
	if err != nil {
		return nil, nil, fmt.Errorf("open ocr engine: %w", err)
	}
	p, err := pipeline.NewBuilder().WithConfig(a.cfg.Pipeline).WithOCR(backend).Build()
	if err != nil {
		_ = closeOCR()
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p, func() error {
		_ = p.Close()
		return closeOCR()
	}, nil
}

// sources expands a photo path into pipeline sources. Scanned PDFs yield
// one source per embedded image.
func (a *app) sources(path string) ([]pipeline.Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input file not found: %s", path)
	}
	if !pdf.IsPDF(path) {
		return []pipeline.Source{pipeline.FromPath(path)}, nil
	}
	scans, err := pdf.ExtractScans(path, a.cfg.PDF.Options())
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.Source, 0, len(scans))
	for _, s := range scans {
		out = append(out, pipeline.Source{Data: s.Data, Label: s.Label(path)})
	}
	return out, nil
}

// writeOutput prints data or writes it to path.
func writeOutput(cmd *cobra.Command, data []byte, path string) error {
	if path == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func validateFormat(format string, allowed ...string) error {
	if !slices.Contains(allowed, format) {
		return fmt.Errorf("unsupported format %q (want %s)", format, strings.Join(allowed, ", "))
	}
	return nil
}

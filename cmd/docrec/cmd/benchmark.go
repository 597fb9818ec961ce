package cmd

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docrec/internal/common"
	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
)

func newBenchmarkCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "benchmark PHOTO",
		Short: "Measure alignment (and optionally OCR) time for a photo",
		Long: `Repeat the recognition of one photo and report the average time and
allocations per iteration. Without --ocr only the alignment runs, so no
OCR engine or credentials are needed.

Examples:
  docrec benchmark --template driver_license photo.jpg -n 20
  docrec benchmark --template driver_license photo.jpg --ocr --ocr-engine file`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBenchmark(cmd, args[0])
		},
	}
	c.Flags().StringP("template", "t", "", "template name or layout file")
	c.Flags().IntP("iterations", "n", 10, "number of iterations")
	c.Flags().Bool("ocr", false, "include OCR and field extraction")
	return c
}

func (a *app) runBenchmark(cmd *cobra.Command, path string) error {
	n, _ := cmd.Flags().GetInt("iterations")
	if n < 1 {
		return fmt.Errorf("iterations must be positive, got %d", n)
	}
	withOCR, _ := cmd.Flags().GetBool("ocr")
	out := cmd.OutOrStdout()

	setup := common.NewNamedTimer("setup")
	ref, _ := cmd.Flags().GetString("template")
	tpl, err := a.resolveTemplate(ref)
	if err != nil {
		return err
	}
	if _, err := tpl.Image(); err != nil {
		return err
	}
	setup.Lap("template")

	data, err := os.ReadFile(path) //nolint:gosec // G304: benchmark input chosen by the user
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	src := pipeline.Source{Path: path, Data: data}

	var p *pipeline.Pipeline
	if withOCR {
		var closeFn func() error
		p, closeFn, err = a.openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = closeFn() }()
	} else {
		noOCR := ocr.BackendFunc(func(context.Context, ocr.Image) (*ocr.Response, error) {
			return nil, ocr.ErrUnavailable
		})
		p, err = pipeline.NewBuilder().WithConfig(a.cfg.Pipeline).WithOCR(noOCR).Build()
		if err != nil {
			return fmt.Errorf("failed to create pipeline: %w", err)
		}
	}
	setup.Lap("pipeline")
	setup.Stop()
	_, _ = fmt.Fprintln(out, setup)

	ctx := cmd.Context()
	name := "align"
	run := func(int) error {
		_, err := p.Align(ctx, src, tpl)
		return err
	}
	if withOCR {
		name = "recognize"
		run = func(int) error {
			_, err := p.Recognize(ctx, src, tpl)
			return err
		}
	}

	// warm-up builds the template keypoints once
	if err := run(0); err != nil {
		return err
	}
	res := common.Measure(name, n, run)
	_, _ = fmt.Fprintln(out, res)
	_, _ = fmt.Fprintln(out, "Memory:", res.MemoryAfter)
	if withOCR {
		snap := p.Profiler().Snapshot()
		for _, k := range slices.Sorted(maps.Keys(snap)) {
			_, _ = fmt.Fprintf(out, "  %s: %v\n", k, snap[k])
		}
	}
	return res.Error
}

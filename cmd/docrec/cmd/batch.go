package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docrec/internal/batch"
	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
)

func newBatchCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "batch [files or directories...]",
		Short: "Recognize many photos with one template in parallel",
		Long: `Recognize every photo and scanned PDF found in the given files and
directories with the same template. Failed photos are reported in the
output; the command fails only when no photo could be read.

Supported formats: JPEG, PNG, BMP, GIF, TIFF, PDF (embedded scans)

Examples:
  docrec batch scans/ --template driver_license
  docrec batch scans/ -r --workers 8 --format csv --output results.csv
  docrec batch a.jpg b.pdf --template passport_page --include '*.jpg' --stats`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd, args)
		},
	}
	f := c.Flags()
	f.StringP("template", "t", "", "template name or layout file")
	f.IntP("workers", "w", 0, "number of parallel workers (0 = one per CPU)")
	f.BoolP("recursive", "r", false, "process directories recursively")
	f.StringSlice("include", nil, "file patterns to include (e.g. '*.jpg')")
	f.StringSlice("exclude", nil, "file patterns to exclude")
	f.StringP("format", "f", batch.FormatJSON, "output format: json, csv or text")
	f.StringP("output", "o", "", "output file (default stdout)")
	f.Bool("stats", false, "print processing statistics to stderr")
	f.BoolP("quiet", "q", false, "suppress the progress bar")
	f.String("pages", "", "PDF pages to read, e.g. 1-3,5")
	f.String("password", "", "password of encrypted PDFs")
	bindFlag(f, "workers", "pipeline.parallel.workers")
	bindFlag(f, "recursive", "batch.recursive")
	bindFlag(f, "include", "batch.include")
	bindFlag(f, "exclude", "batch.exclude")
	bindFlag(f, "format", "output.format")
	bindFlag(f, "output", "output.file")
	bindFlag(f, "stats", "batch.show_stats")
	bindFlag(f, "pages", "pdf.pages")
	bindFlag(f, "password", "pdf.user_password")
	return c
}

func (a *app) runBatch(cmd *cobra.Command, args []string) error {
	ref, _ := cmd.Flags().GetString("template")
	tpl, err := a.resolveTemplate(ref)
	if err != nil {
		return err
	}
	bcfg := a.cfg.ToBatchConfig()
	bcfg.Quiet, _ = cmd.Flags().GetBool("quiet")
	if err := bcfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	backend, closeOCR, err := ocr.Open(ctx, a.cfg.OCR)
	if err != nil {
		return fmt.Errorf("open ocr engine: %w", err)
	}
	defer func() { _ = closeOCR() }()

	b := pipeline.NewBuilder().WithConfig(a.cfg.Pipeline).WithOCR(backend)
	if bcfg.ShowProgress && !bcfg.Quiet {
		bar := pipeline.NewConsoleProgress(cmd.ErrOrStderr(), "Recognizing ")
		bar.SetInterval(bcfg.ProgressInterval)
		b = b.WithProgressCallback(bar)
	}

	var runner pipeline.Runner
	if a.cfg.Pipeline.Parallel.Workers == 1 {
		runner, err = b.Build()
	} else {
		runner, err = b.BuildAsync()
	}
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer func() { _ = runner.Close() }()

	res, err := batch.Run(ctx, runner, tpl, args, bcfg)
	if err != nil {
		return err
	}

	if bcfg.OutputFile != "" {
		if err := res.Save(bcfg.Format, bcfg.OutputFile); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	} else {
		out, err := res.Format(bcfg.Format)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
	}
	if bcfg.ShowStats {
		res.PrintStats(cmd.ErrOrStderr())
	}
	if s := res.Stats(); s.Recognized == 0 {
		return res.Err()
	}
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

func newAlignCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "align PHOTO",
		Short: "Warp a photo onto a template without running OCR",
		Long: `Align a photo to the template image and write the warped result.
The output has exactly the template's size. Use --debug-dir to keep the
keypoint and match visualizations.

Examples:
  docrec align --template driver_license photo.jpg
  docrec align --template driver_license photo.jpg -o aligned.png --debug-dir debug/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAlign(cmd, args[0])
		},
	}
	c.Flags().StringP("template", "t", "", "template name or layout file")
	c.Flags().StringP("output", "o", "", "aligned image path (default <photo>_aligned.jpg)")
	c.Flags().Int("quality", 95, "JPEG quality of the aligned image")
	c.Flags().String("debug-dir", "", "directory for keypoint and match debug images")
	c.Flags().String("backend", "orb", "alignment backend: orb or opencv")
	bindFlag(c.Flags(), "quality", "pipeline.jpeg_quality")
	bindFlag(c.Flags(), "debug-dir", "pipeline.align.debug_dir")
	bindFlag(c.Flags(), "backend", "pipeline.align.backend")
	return c
}

func (a *app) runAlign(cmd *cobra.Command, path string) error {
	ref, _ := cmd.Flags().GetString("template")
	tpl, err := a.resolveTemplate(ref)
	if err != nil {
		return err
	}
	if !utils.IsSupportedImage(path) {
		return fmt.Errorf("unsupported photo format: %s", filepath.Ext(path))
	}
	// alignment never reaches the OCR stage
	noOCR := ocr.BackendFunc(func(context.Context, ocr.Image) (*ocr.Response, error) {
		return nil, ocr.ErrUnavailable
	})
	p, err := pipeline.NewBuilder().WithConfig(a.cfg.Pipeline).WithOCR(noOCR).Build()
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	res, err := p.Align(cmd.Context(), pipeline.FromPath(path), tpl)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + "_aligned.jpg"
	}
	if err := res.Save(out, a.cfg.Pipeline.JPEGQuality); err != nil {
		return fmt.Errorf("failed to save aligned image: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "aligned %s -> %s (matches %d, inliers %d, %v)\n",
		path, out, res.Matches, res.Inliers, res.Duration.Round(1e6))
	return nil
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docrec/internal/extract"
	"github.com/MeKo-Tech/docrec/internal/ocr"
)

func newExtractCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "extract LAYOUT RESPONSE",
		Short: "Assign recorded OCR fragments to the regions of a template",
		Long: `Run only the field extraction: read an OCR response saved as JSON
(fragments already in template coordinates) and print the typed value of
every region. No photo, alignment or OCR engine is involved.

LAYOUT is a layout file or a template name from the templates directory.

Examples:
  docrec extract templates/driver_license.yaml photos/card.json
  docrec extract driver_license card.json --separator '' --keep-latin --format text`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExtract(cmd, args[0], args[1])
		},
	}
	c.Flags().String("separator", " ", "text placed between fragments of one region")
	c.Flags().Bool("keep-latin", false, "keep Latin letters instead of stripping them")
	c.Flags().StringP("format", "f", "json", "output format: json or text")
	c.Flags().StringP("output", "o", "", "output file (default stdout)")
	return c
}

func (a *app) runExtract(cmd *cobra.Command, ref, responsePath string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format, "json", "text"); err != nil {
		return err
	}
	tpl, err := a.resolveTemplate(ref)
	if err != nil {
		return err
	}
	resp, err := ocr.LoadResponse(responsePath)
	if err != nil {
		return err
	}

	ex := extract.New()
	ex.Separator, _ = cmd.Flags().GetString("separator")
	if keep, _ := cmd.Flags().GetBool("keep-latin"); keep {
		ex.Filter = extract.TrimOnly
	}
	rec := ex.Extract(resp.Annotations, tpl)

	data, err := renderRecognition([]recognizeOutput{{Source: responsePath, Template: tpl.Name, Fields: rec}}, format)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("output")
	return writeOutput(cmd, data, out)
}

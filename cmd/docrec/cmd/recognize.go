package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docrec/internal/extract"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
)

// recognizeOutput is the JSON form of one recognized photo.
type recognizeOutput struct {
	Source   string               `json:"source"`
	Template string               `json:"template"`
	Fields   *extract.Record      `json:"fields,omitempty"`
	Align    *pipeline.AlignStats `json:"align,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func newRecognizeCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "recognize PHOTO",
		Short: "Read the fields of a document photo with a template",
		Long: `Align a photo (or every scan of a PDF) to a template, run OCR on
the aligned image and print the field values of every template region.

--template takes a template name from the templates directory or the
path of a layout file (.xml, .yaml).

Examples:
  docrec recognize --template driver_license photo.jpg
  docrec recognize --template layouts/passport.xml scan.pdf --format text
  docrec recognize --template driver_license --ocr-engine file --ocr-responses responses/ photo.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRecognize(cmd, args[0])
		},
	}
	c.Flags().StringP("template", "t", "", "template name or layout file")
	c.Flags().StringP("format", "f", "json", "output format: json or text")
	c.Flags().StringP("output", "o", "", "output file (default stdout)")
	c.Flags().String("pages", "", "PDF pages to read, e.g. 1-3,5")
	c.Flags().String("password", "", "password of an encrypted PDF")
	bindFlag(c.Flags(), "pages", "pdf.pages")
	bindFlag(c.Flags(), "password", "pdf.user_password")
	return c
}

func (a *app) runRecognize(cmd *cobra.Command, path string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format, "json", "text"); err != nil {
		return err
	}
	ref, _ := cmd.Flags().GetString("template")
	tpl, err := a.resolveTemplate(ref)
	if err != nil {
		return err
	}
	srcs, err := a.sources(path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	p, closeFn, err := a.openPipeline(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	results := make([]recognizeOutput, 0, len(srcs))
	var failed error
	for i, src := range srcs {
		out := p.Process(ctx, pipeline.Job{ID: fmt.Sprint(i + 1), Source: src, Template: tpl})
		r := recognizeOutput{Source: src.Name(), Template: tpl.Name, Fields: out.Record, Align: out.Align}
		if out.Err != nil {
			r.Error = out.Err.Error()
			if failed == nil {
				failed = fmt.Errorf("recognize %s: %w", src.Name(), out.Err)
			}
		}
		results = append(results, r)
	}

	data, err := renderRecognition(results, format)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("output")
	if err := writeOutput(cmd, data, out); err != nil {
		return err
	}
	// Scans of a PDF fail individually; the command fails when nothing was read.
	if failed != nil && allFailed(results) {
		return failed
	}
	return nil
}

func allFailed(results []recognizeOutput) bool {
	for _, r := range results {
		if r.Error == "" {
			return false
		}
	}
	return true
}

func renderRecognition(results []recognizeOutput, format string) ([]byte, error) {
	if format == "text" {
		var sb strings.Builder
		for _, r := range results {
			fmt.Fprintf(&sb, "%s (%s)\n", r.Source, r.Template)
			if r.Error != "" {
				fmt.Fprintf(&sb, "  error: %s\n", r.Error)
				continue
			}
			for _, name := range r.Fields.Names() {
				v, _ := r.Fields.Get(name)
				fmt.Fprintf(&sb, "  %s: %s\n", name, v)
			}
		}
		return []byte(sb.String()), nil
	}

	var v any = results
	if len(results) == 1 {
		v = results[0]
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return append(data, '\n'), nil
}

package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/MeKo-Tech/docrec/internal/extract"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
)

type photoJSON struct {
	ID         string               `json:"id"`
	File       string               `json:"file"`
	Template   string               `json:"template,omitempty"`
	Fields     *extract.Record      `json:"fields,omitempty"`
	Align      *pipeline.AlignStats `json:"align,omitempty"`
	DurationMs int64                `json:"duration_ms"`
	Error      string               `json:"error,omitempty"`
}

// Format renders the outcomes as json, csv or text.
func (r *Result) Format(format string) (string, error) {
	switch format {
	case FormatJSON, "":
		return r.formatJSON()
	case FormatCSV:
		return r.formatCSV()
	case FormatText:
		return r.formatText(), nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

// Save writes the formatted outcomes to path.
func (r *Result) Save(format, path string) error {
	out, err := r.Format(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func (r *Result) formatJSON() (string, error) {
	doc := struct {
		Photos []photoJSON `json:"photos"`
	}{Photos: make([]photoJSON, len(r.Outcomes))}
	for i, o := range r.Outcomes {
		p := photoJSON{
			ID:         o.JobID,
			File:       r.Files[i],
			Template:   o.Template,
			Fields:     o.Record,
			Align:      o.Align,
			DurationMs: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			p.Error = o.Err.Error()
		}
		doc.Photos[i] = p
	}
	bts, err := json.MarshalIndent(doc, "", "  ")
	return string(bts), err
}

// formatCSV writes one row per recognized field; failed photos get a
// single row carrying the error.
func (r *Result) formatCSV() (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	rows := [][]string{{"file", "template", "field", "type", "value", "error"}}
	for i, o := range r.Outcomes {
		file := r.Files[i]
		if o.Err != nil {
			rows = append(rows, []string{file, o.Template, "", "", "", o.Err.Error()})
			continue
		}
		for _, name := range o.Record.Names() {
			v, _ := o.Record.Get(name)
			rows = append(rows, []string{file, o.Template, name, string(v.Type()), v.String(), ""})
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (r *Result) formatText() string {
	var sb strings.Builder
	for i, o := range r.Outcomes {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "# %s\n", r.Files[i])
		if o.Err != nil {
			fmt.Fprintf(&sb, "error: %v\n", o.Err)
			continue
		}
		for _, name := range o.Record.Names() {
			v, _ := o.Record.Get(name)
			if !v.Present() {
				fmt.Fprintf(&sb, "%s: -\n", name)
				continue
			}
			fmt.Fprintf(&sb, "%s: %s\n", name, v.String())
		}
	}
	return sb.String()
}

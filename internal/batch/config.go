package batch

import (
	"fmt"
	"slices"
	"time"

	"github.com/MeKo-Tech/docrec/internal/pdf"
)

// Output formats understood by Result.Format.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatText = "text"
)

// Config holds all configuration for batch recognition.
type Config struct {
	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// PDF selects pages and passwords for scanned documents
	PDF pdf.Options

	// Output settings
	Format     string
	OutputFile string

	// Progress settings
	ShowProgress     bool
	Quiet            bool
	ShowStats        bool
	ProgressInterval time.Duration
}

// DefaultConfig returns JSON output over a non-recursive scan.
func DefaultConfig() Config {
	return Config{Format: FormatJSON, ShowProgress: true, ProgressInterval: 100 * time.Millisecond}
}

// Validate checks the output format and patterns.
func (c Config) Validate() error {
	if c.Format != "" && !slices.Contains([]string{FormatJSON, FormatCSV, FormatText}, c.Format) {
		return fmt.Errorf("unsupported format %q (want json, csv or text)", c.Format)
	}
	for _, p := range append(slices.Clone(c.IncludePatterns), c.ExcludePatterns...) {
		if err := checkPattern(p); err != nil {
			return err
		}
	}
	return nil
}

// Package config loads the docrec configuration from files, environment
// variables and command-line flags.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/docrec/internal/batch"
	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pdf"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/queue"
	"github.com/MeKo-Tech/docrec/internal/server"
	"github.com/MeKo-Tech/docrec/internal/store"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config is the complete configuration of the docrec commands.
type Config struct {
	// Global settings
	LogLevel     string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose      bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	TemplatesDir string `mapstructure:"templates_dir" yaml:"templates_dir" json:"templates_dir"`

	Pipeline pipeline.Config `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	OCR      ocr.Config      `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Output   OutputConfig    `mapstructure:"output" yaml:"output" json:"output"`
	PDF      PDFConfig       `mapstructure:"pdf" yaml:"pdf" json:"pdf"`
	Batch    BatchConfig     `mapstructure:"batch" yaml:"batch" json:"batch"`
	Server   server.Config   `mapstructure:"server" yaml:"server" json:"server"`
	Store    store.Config    `mapstructure:"store" yaml:"store" json:"store"`
	Queue    queue.Config    `mapstructure:"queue" yaml:"queue" json:"queue"`
}

// OutputConfig controls how recognition results are written.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// PDFConfig selects the pages of scanned PDFs and unlocks encrypted ones.
type PDFConfig struct {
	Pages         string `mapstructure:"pages" yaml:"pages" json:"pages"`
	UserPassword  string `mapstructure:"user_password" yaml:"user_password" json:"-"`
	OwnerPassword string `mapstructure:"owner_password" yaml:"owner_password" json:"-"`
}

// Options returns the extraction options.
func (c PDFConfig) Options() pdf.Options {
	return pdf.Options{
		Pages:       c.Pages,
		Credentials: pdf.Credentials{UserPassword: c.UserPassword, OwnerPassword: c.OwnerPassword},
	}
}

// BatchConfig contains batch discovery and reporting settings.
type BatchConfig struct {
	Recursive        bool          `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	Include          []string      `mapstructure:"include" yaml:"include" json:"include"`
	Exclude          []string      `mapstructure:"exclude" yaml:"exclude" json:"exclude"`
	ShowStats        bool          `mapstructure:"show_stats" yaml:"show_stats" json:"show_stats"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval" json:"progress_interval"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	b := batch.DefaultConfig()
	q := queue.DefaultConfig()
	q.RedisURL = "" // the job queue is opt-in
	return Config{
		LogLevel:     "info",
		TemplatesDir: "templates",
		Pipeline:     pipeline.DefaultConfig(),
		OCR:          ocr.DefaultConfig(),
		Output:       OutputConfig{Format: batch.FormatJSON},
		Batch:        BatchConfig{ProgressInterval: b.ProgressInterval},
		Server:       server.DefaultConfig(),
		Store:        store.DefaultConfig(),
		Queue:        q,
	}
}

// Validate checks every section. The queue is only validated when a
// Redis URL is configured.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	validFormats := []string{batch.FormatJSON, batch.FormatCSV, batch.FormatText}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.OCR.Validate(); err != nil {
		return fmt.Errorf("ocr: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.Queue.RedisURL != "" {
		if err := c.Queue.Validate(); err != nil {
			return fmt.Errorf("queue: %w", err)
		}
	}
	if err := c.ToBatchConfig().Validate(); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	return nil
}

// ToBatchConfig converts the batch and output sections.
func (c *Config) ToBatchConfig() batch.Config {
	b := batch.DefaultConfig()
	b.Recursive = c.Batch.Recursive
	b.IncludePatterns = c.Batch.Include
	b.ExcludePatterns = c.Batch.Exclude
	b.PDF = c.PDF.Options()
	b.Format = c.Output.Format
	b.OutputFile = c.Output.File
	b.ShowStats = c.Batch.ShowStats
	if c.Batch.ProgressInterval > 0 {
		b.ProgressInterval = c.Batch.ProgressInterval
	}
	return b
}

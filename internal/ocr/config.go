package ocr

import (
	"context"
	"fmt"
)

// Engine names accepted by Config.Engine.
const (
	EngineVision    = "vision"
	EngineTesseract = "tesseract"
	EngineFile      = "file"
)

// Config selects and configures the OCR engine.
type Config struct {
	Engine          string      `mapstructure:"engine" yaml:"engine" json:"engine"`
	CredentialsFile string      `mapstructure:"credentials_file" yaml:"credentials_file" json:"credentials_file"`
	Languages       []string    `mapstructure:"languages" yaml:"languages" json:"languages"`
	ResponseDir     string      `mapstructure:"response_dir" yaml:"response_dir" json:"response_dir"` // file engine lookup, or where to record responses
	Record          bool        `mapstructure:"record" yaml:"record" json:"record"`                   // save every response into ResponseDir
	Retry           RetryConfig `mapstructure:"retry" yaml:"retry" json:"retry"`
}

// DefaultConfig returns the Vision engine with default retries.
func DefaultConfig() Config {
	return Config{
		Engine: EngineVision,
		Retry:  DefaultRetryConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Engine {
	case EngineVision, EngineTesseract, EngineFile:
	default:
		return fmt.Errorf("unknown ocr engine %q", c.Engine)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Record && c.ResponseDir == "" {
		return fmt.Errorf("record requires response_dir")
	}
	return nil
}

// Open creates the configured backend. The returned close function
// releases engine resources and is never nil.
func Open(ctx context.Context, cfg Config) (Backend, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	noop := func() error { return nil }

	var (
		b       Backend
		closeFn = noop
	)
	switch cfg.Engine {
	case EngineFile:
		return &FileBackend{Dir: cfg.ResponseDir}, noop, nil
	case EngineTesseract:
		t, err := NewTesseract(cfg.Languages...)
		if err != nil {
			return nil, nil, err
		}
		b = t
	default:
		v, err := DialVision(ctx, cfg.CredentialsFile, WithLanguageHints(cfg.Languages...))
		if err != nil {
			return nil, nil, err
		}
		b, closeFn = v, v.Close
	}

	if cfg.Retry.MaxRetries > 0 {
		b = WithRetry(b, cfg.Retry)
	}
	if cfg.Record {
		b = &Recorder{Next: b, Dir: cfg.ResponseDir}
	}
	return b, closeFn, nil
}

package align

import (
	"fmt"

	"github.com/MeKo-Tech/docrec/internal/features"
)

// Backend selects the alignment implementation.
type Backend string

const (
	// BackendORB uses the pure Go keypoint detector and RANSAC estimator.
	BackendORB Backend = "orb"
	// BackendOpenCV uses OpenCV through gocv (requires -tags=gocv).
	BackendOpenCV Backend = "opencv"
)

// Config holds configuration for aligning photos to templates.
type Config struct {
	Backend         Backend         `mapstructure:"backend" yaml:"backend" json:"backend"`
	MatchFraction   float64         `mapstructure:"match_fraction" yaml:"match_fraction" json:"match_fraction"`       // share of best matches kept (0-1]
	RansacThreshold float64         `mapstructure:"ransac_threshold" yaml:"ransac_threshold" json:"ransac_threshold"` // max reprojection error in template pixels
	MaxIterations   int             `mapstructure:"max_iterations" yaml:"max_iterations" json:"max_iterations"`       // RANSAC iteration cap
	Confidence      float64         `mapstructure:"confidence" yaml:"confidence" json:"confidence"`                   // RANSAC stop confidence
	Seed            uint64          `mapstructure:"seed" yaml:"seed" json:"seed"`                                     // RANSAC sampling seed
	Features        features.Config `mapstructure:"features" yaml:"features" json:"features"`
	// Debug dumping
	DebugDir string `mapstructure:"debug_dir" yaml:"debug_dir" json:"debug_dir"` // if non-empty, writes match and comparison PNGs here
}

// DefaultConfig returns the alignment defaults.
func DefaultConfig() Config {
	return Config{
		Backend:         BackendORB,
		MatchFraction:   0.5,
		RansacThreshold: 5.0,
		MaxIterations:   2000,
		Confidence:      0.995,
		Seed:            1,
		Features:        features.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendORB, BackendOpenCV, "":
	default:
		return fmt.Errorf("unknown alignment backend %q", c.Backend)
	}
	if c.MatchFraction <= 0 || c.MatchFraction > 1 {
		return fmt.Errorf("match_fraction must be in (0,1], got %.3f", c.MatchFraction)
	}
	if c.RansacThreshold <= 0 {
		return fmt.Errorf("ransac_threshold must be positive, got %.3f", c.RansacThreshold)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.Confidence <= 0 || c.Confidence >= 1 {
		return fmt.Errorf("confidence must be in (0,1), got %.3f", c.Confidence)
	}
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	return nil
}

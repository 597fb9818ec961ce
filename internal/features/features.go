// Package features detects oriented FAST keypoints with rotated BRIEF
// descriptors and matches them by Hamming distance.
package features

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"math/bits"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
)

const (
	patchSize     = 31
	halfPatchSize = patchSize / 2
	// minBorder keeps rotated sampling pairs and the orientation disk
	// inside the level image.
	minBorder = halfPatchSize + 4
)

// Config controls keypoint detection.
type Config struct {
	MaxFeatures   int     `mapstructure:"max_features" yaml:"max_features" json:"max_features"`       // upper bound over all levels
	ScaleFactor   float64 `mapstructure:"scale_factor" yaml:"scale_factor" json:"scale_factor"`       // pyramid decimation ratio, > 1
	Levels        int     `mapstructure:"levels" yaml:"levels" json:"levels"`                         // pyramid levels
	FastThreshold int     `mapstructure:"fast_threshold" yaml:"fast_threshold" json:"fast_threshold"` // FAST intensity threshold
	EdgeThreshold int     `mapstructure:"edge_threshold" yaml:"edge_threshold" json:"edge_threshold"` // border without keypoints
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		MaxFeatures:   30000,
		ScaleFactor:   1.2,
		Levels:        8,
		FastThreshold: 20,
		EdgeThreshold: 31,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxFeatures <= 0 {
		return fmt.Errorf("max_features must be positive, got %d", c.MaxFeatures)
	}
	if c.ScaleFactor <= 1 {
		return fmt.Errorf("scale_factor must be > 1, got %.3f", c.ScaleFactor)
	}
	if c.Levels <= 0 {
		return fmt.Errorf("levels must be positive, got %d", c.Levels)
	}
	if c.FastThreshold <= 0 || c.FastThreshold > 255 {
		return fmt.Errorf("fast_threshold must be in (0,255], got %d", c.FastThreshold)
	}
	if c.EdgeThreshold < 0 {
		return errors.New("edge_threshold must not be negative")
	}
	return nil
}

// Keypoint is a detected corner in level-0 pixel coordinates.
type Keypoint struct {
	X        float64
	Y        float64
	Angle    float64 // orientation in radians
	Response float64 // Harris response on its level
	Octave   int     // pyramid level
	Size     float64 // patch diameter in level-0 pixels
}

// Descriptor is a 256-bit binary descriptor.
type Descriptor [4]uint64

// Distance returns the Hamming distance between two descriptors.
func Distance(a, b Descriptor) int {
	return bits.OnesCount64(a[0]^b[0]) + bits.OnesCount64(a[1]^b[1]) +
		bits.OnesCount64(a[2]^b[2]) + bits.OnesCount64(a[3]^b[3])
}

// Set holds keypoints and their descriptors, index-aligned.
type Set struct {
	Keypoints   []Keypoint
	Descriptors []Descriptor
}

// Len returns the number of keypoints.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Keypoints)
}

// Detector extracts keypoints and descriptors. It holds no mutable state
// and can be shared between goroutines.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector, falling back to defaults for zero fields.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = def.MaxFeatures
	}
	if cfg.ScaleFactor <= 1 {
		cfg.ScaleFactor = def.ScaleFactor
	}
	if cfg.Levels <= 0 {
		cfg.Levels = def.Levels
	}
	if cfg.FastThreshold <= 0 {
		cfg.FastThreshold = def.FastThreshold
	}
	return &Detector{cfg: cfg}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

type level struct {
	index  int
	gray   *plane
	blur   *plane
	scaleX float64
	scaleY float64
}

// Detect finds up to MaxFeatures keypoints on img. The result depends
// only on the pixel values of img.
func (d *Detector) Detect(img image.Image) *Set {
	levels := d.buildPyramid(img)
	if len(levels) == 0 {
		return &Set{}
	}
	budgets := levelBudgets(d.cfg.MaxFeatures, d.cfg.ScaleFactor, len(levels))
	border := max(d.cfg.EdgeThreshold, minBorder)

	perLevel := make([]Set, len(levels))
	var wg sync.WaitGroup
	for i, lv := range levels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			perLevel[i] = d.detectLevel(lv, budgets[i], border)
		}()
	}
	wg.Wait()

	out := &Set{}
	for _, s := range perLevel {
		out.Keypoints = append(out.Keypoints, s.Keypoints...)
		out.Descriptors = append(out.Descriptors, s.Descriptors...)
	}
	slog.Debug("Detected keypoints", "count", out.Len(), "levels", len(levels))
	return out
}

func (d *Detector) buildPyramid(img image.Image) []level {
	if img == nil {
		return nil
	}
	base := imaging.Grayscale(img)
	w0, h0 := base.Bounds().Dx(), base.Bounds().Dy()
	minSide := 2*max(d.cfg.EdgeThreshold, minBorder) + 1

	var levels []level
	for i := range d.cfg.Levels {
		scale := math.Pow(d.cfg.ScaleFactor, float64(i))
		w := int(math.Round(float64(w0) / scale))
		h := int(math.Round(float64(h0) / scale))
		if w < minSide || h < minSide {
			break
		}
		lvImg := base
		if i > 0 {
			lvImg = imaging.Resize(base, w, h, imaging.Linear)
		}
		levels = append(levels, level{
			index:  i,
			gray:   planeFromNRGBA(lvImg),
			blur:   planeFromNRGBA(imaging.Blur(lvImg, 2)),
			scaleX: float64(w0) / float64(w),
			scaleY: float64(h0) / float64(h),
		})
	}
	return levels
}

// levelBudgets distributes total over n levels geometrically so that each
// level gets a share proportional to its area scale.
func levelBudgets(total int, scaleFactor float64, n int) []int {
	budgets := make([]int, n)
	factor := 1 / scaleFactor
	desired := float64(total) * (1 - factor) / (1 - math.Pow(factor, float64(n)))
	sum := 0
	for i := range n - 1 {
		budgets[i] = int(math.Round(desired))
		sum += budgets[i]
		desired *= factor
	}
	budgets[n-1] = max(total-sum, 0)
	return budgets
}

func (d *Detector) detectLevel(lv level, budget, border int) Set {
	if budget <= 0 {
		return Set{}
	}
	corners := fastCorners(lv.gray, d.cfg.FastThreshold, border)
	for i := range corners {
		corners[i].response = harrisResponse(lv.gray, corners[i].x, corners[i].y)
	}
	sort.SliceStable(corners, func(i, j int) bool { return corners[i].response > corners[j].response })
	if len(corners) > budget {
		corners = corners[:budget]
	}

	set := Set{
		Keypoints:   make([]Keypoint, len(corners)),
		Descriptors: make([]Descriptor, len(corners)),
	}
	for i, c := range corners {
		angle := intensityCentroidAngle(lv.gray, c.x, c.y)
		set.Keypoints[i] = Keypoint{
			X:        float64(c.x) * lv.scaleX,
			Y:        float64(c.y) * lv.scaleY,
			Angle:    angle,
			Response: c.response,
			Octave:   lv.index,
			Size:     patchSize * lv.scaleX,
		}
		set.Descriptors[i] = describe(lv.blur, c.x, c.y, angle)
	}
	return set
}

// plane is a single-channel 8-bit image with origin at 0,0.
type plane struct {
	w, h int
	pix  []uint8
}

func (p *plane) at(x, y int) int { return int(p.pix[y*p.w+x]) }

func planeFromNRGBA(img *image.NRGBA) *plane {
	b := img.Bounds()
	p := &plane{w: b.Dx(), h: b.Dy(), pix: make([]uint8, b.Dx()*b.Dy())}
	for y := range p.h {
		row := img.Pix[y*img.Stride:]
		for x := range p.w {
			p.pix[y*p.w+x] = row[x*4]
		}
	}
	return p
}

// Package align warps document photos into the coordinate frame of a
// template through keypoint matching and a RANSAC homography.
package align

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"time"

	"github.com/MeKo-Tech/docrec/internal/features"
	"github.com/MeKo-Tech/docrec/internal/template"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

// Aligner transforms a photo into a template's pixel frame.
type Aligner interface {
	Align(ctx context.Context, photo image.Image, tpl *template.Template) (*Result, error)
}

// Result is an aligned photo together with the estimate that produced it.
type Result struct {
	Image      *image.NRGBA // exactly the template image's width x height
	Homography Homography   // photo -> template

	PhotoKeypoints    int
	TemplateKeypoints int
	Matches           int // cross-checked matches
	Retained          int // after keeping the best MatchFraction
	Inliers           int
	Duration          time.Duration
}

// EncodeJPEG encodes the aligned image into a JPEG buffer.
func (r *Result) EncodeJPEG(quality int) ([]byte, error) {
	return utils.EncodeJPEG(r.Image, quality)
}

// Save writes the aligned image to path; the format follows the extension.
func (r *Result) Save(path string, quality int) error {
	return utils.SaveImage(path, r.Image, quality)
}

// ORBAligner is the pure Go aligner.
type ORBAligner struct {
	cfg      Config
	detector *features.Detector
}

// New creates the aligner selected by cfg.Backend.
func New(cfg Config) (Aligner, error) {
	switch cfg.Backend {
	case BackendOpenCV:
		return NewOpenCV(cfg)
	default:
		return NewORB(cfg)
	}
}

// NewORB creates a pure Go aligner.
func NewORB(cfg Config) (*ORBAligner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid alignment config: %w", err)
	}
	return &ORBAligner{cfg: cfg, detector: features.NewDetector(cfg.Features)}, nil
}

// Config returns the aligner configuration.
func (a *ORBAligner) Config() Config { return a.cfg }

type templateFeaturesKey struct{ cfg features.Config }

// TemplateFeatures returns the keypoints of the template reference image,
// detecting them once per template and detector configuration.
func (a *ORBAligner) TemplateFeatures(tpl *template.Template) (*features.Set, image.Rectangle, error) {
	ref, err := tpl.Image()
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	v, err := tpl.Cached(templateFeaturesKey{a.detector.Config()}, func() (any, error) {
		start := time.Now()
		set := a.detector.Detect(ref)
		slog.Debug("Template keypoints cached", "template", tpl.Name, "count", set.Len(), "duration", time.Since(start))
		return set, nil
	})
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	return v.(*features.Set), ref.Bounds(), nil
}

// Align detects keypoints on photo, matches them against the template,
// estimates the photo->template homography and warps photo to the
// template's size.
func (a *ORBAligner) Align(ctx context.Context, photo image.Image, tpl *template.Template) (*Result, error) {
	start := time.Now()
	if photo == nil {
		return nil, &AlignmentError{Template: tpl.Name, Reason: "photo is nil"}
	}

	ref, refBounds, err := a.TemplateFeatures(tpl)
	if err != nil {
		return nil, fmt.Errorf("load template features: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cand := a.detector.Detect(photo)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := features.MatchCrossCheck(cand.Descriptors, ref.Descriptors)
	retained := retainBest(matches, a.cfg.MatchFraction)
	res := &Result{
		PhotoKeypoints:    cand.Len(),
		TemplateKeypoints: ref.Len(),
		Matches:           len(matches),
		Retained:          len(retained),
	}
	slog.Debug("Matched keypoints",
		"template", tpl.Name,
		"photo_keypoints", res.PhotoKeypoints,
		"template_keypoints", res.TemplateKeypoints,
		"matches", res.Matches,
		"retained", res.Retained)

	if len(retained) < sampleSize {
		return nil, &AlignmentError{Template: tpl.Name, Reason: "too few matches", Matches: len(retained)}
	}

	src := make([]utils.Point, len(retained))
	dst := make([]utils.Point, len(retained))
	for i, m := range retained {
		q, t := cand.Keypoints[m.QueryIdx], ref.Keypoints[m.TrainIdx]
		src[i] = utils.Point{X: q.X, Y: q.Y}
		dst[i] = utils.Point{X: t.X, Y: t.Y}
	}

	est, err := findHomography(src, dst, ransacParams{
		threshold:     a.cfg.RansacThreshold,
		maxIterations: a.cfg.MaxIterations,
		confidence:    a.cfg.Confidence,
		seed:          a.cfg.Seed,
	})
	if err != nil {
		return nil, &AlignmentError{Template: tpl.Name, Reason: "homography estimation", Matches: len(retained), Err: err}
	}
	inv, ok := est.H.Inverse()
	if !ok {
		return nil, &AlignmentError{Template: tpl.Name, Reason: "homography is not invertible", Matches: len(retained), Err: errSingular}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Homography = est.H
	res.Inliers = est.Count
	res.Image = warpPerspective(photo, inv, refBounds.Dx(), refBounds.Dy())
	res.Duration = time.Since(start)

	if a.cfg.DebugDir != "" {
		if refImg, err := tpl.Image(); err == nil {
			if err := dumpMatchesPNG(a.cfg.DebugDir, photo, refImg, src, dst, est.Inliers); err != nil {
				slog.Warn("Failed to write match overlay", "error", err)
			}
			if err := dumpComparePNG(a.cfg.DebugDir, refImg, res.Image, tpl.Regions()); err != nil {
				slog.Warn("Failed to write comparison image", "error", err)
			}
		}
	}

	slog.Debug("Aligned photo", "template", tpl.Name, "inliers", res.Inliers, "duration", res.Duration)
	return res, nil
}

// retainBest sorts matches by ascending distance, keeping the original
// order among equal distances, and returns the best fraction by count.
func retainBest(matches []features.Match, fraction float64) []features.Match {
	sorted := make([]features.Match, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Distance < sorted[j].Distance })
	keep := int(float64(len(sorted)) * fraction)
	return sorted[:keep]
}

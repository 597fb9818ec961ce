//go:build gocv

package align

import (
	"context"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/MeKo-Tech/docrec/internal/template"
	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// CVAligner aligns photos with OpenCV's ORB, brute-force Hamming matcher
// with cross-check, findHomography and warpPerspective.
type CVAligner struct {
	cfg Config
}

// NewOpenCV creates an OpenCV-backed aligner.
func NewOpenCV(cfg Config) (Aligner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid alignment config: %w", err)
	}
	return &CVAligner{cfg: cfg}, nil
}

type cvFeatures struct {
	keypoints   []gocv.KeyPoint
	descriptors gocv.Mat
}

func (a *CVAligner) detect(img image.Image) (*cvFeatures, error) {
	bgr, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer func() { _ = bgr.Close() }()

	gray := gocv.NewMat()
	defer func() { _ = gray.Close() }()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	f := a.cfg.Features
	orb := gocv.NewORBWithParams(f.MaxFeatures, float32(f.ScaleFactor), f.Levels, f.EdgeThreshold,
		0, 2, gocv.ORBScoreTypeHarris, 31, f.FastThreshold)
	defer func() { _ = orb.Close() }()

	mask := gocv.NewMat()
	defer func() { _ = mask.Close() }()
	kps, desc := orb.DetectAndCompute(gray, mask)
	return &cvFeatures{keypoints: kps, descriptors: desc}, nil
}

type cvTemplateKey struct{ cfg Config }

// Align implements Aligner.
func (a *CVAligner) Align(ctx context.Context, photo image.Image, tpl *template.Template) (*Result, error) {
	start := time.Now()
	if photo == nil {
		return nil, &AlignmentError{Template: tpl.Name, Reason: "photo is nil"}
	}
	ref, err := tpl.Image()
	if err != nil {
		return nil, fmt.Errorf("load template image: %w", err)
	}
	v, err := tpl.Cached(cvTemplateKey{a.cfg}, func() (any, error) { return a.detect(ref) })
	if err != nil {
		return nil, fmt.Errorf("detect template features: %w", err)
	}
	refFeat := v.(*cvFeatures)

	cand, err := a.detect(photo)
	if err != nil {
		return nil, &AlignmentError{Template: tpl.Name, Reason: "feature detection", Err: err}
	}
	defer func() { _ = cand.descriptors.Close() }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{PhotoKeypoints: len(cand.keypoints), TemplateKeypoints: len(refFeat.keypoints)}
	if cand.descriptors.Empty() || refFeat.descriptors.Empty() {
		return nil, &AlignmentError{Template: tpl.Name, Reason: "no keypoints"}
	}

	bf := gocv.NewBFMatcherWithParams(gocv.NormHamming, true)
	defer func() { _ = bf.Close() }()
	matches := bf.Match(cand.descriptors, refFeat.descriptors)
	res.Matches = len(matches)

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	keep := int(float64(len(matches)) * a.cfg.MatchFraction)
	matches = matches[:keep]
	res.Retained = keep
	if keep < sampleSize {
		return nil, &AlignmentError{Template: tpl.Name, Reason: "too few matches", Matches: keep}
	}

	srcPts := gocv.NewMatWithSize(keep, 2, gocv.MatTypeCV64F)
	defer func() { _ = srcPts.Close() }()
	dstPts := gocv.NewMatWithSize(keep, 2, gocv.MatTypeCV64F)
	defer func() { _ = dstPts.Close() }()
	for i, m := range matches {
		q, t := cand.keypoints[m.QueryIdx], refFeat.keypoints[m.TrainIdx]
		srcPts.SetDoubleAt(i, 0, q.X)
		srcPts.SetDoubleAt(i, 1, q.Y)
		dstPts.SetDoubleAt(i, 0, t.X)
		dstPts.SetDoubleAt(i, 1, t.Y)
	}

	inlierMask := gocv.NewMat()
	defer func() { _ = inlierMask.Close() }()
	h := gocv.FindHomography(srcPts, &dstPts, gocv.HomographyMethodRANSAC, a.cfg.RansacThreshold,
		&inlierMask, a.cfg.MaxIterations, a.cfg.Confidence)
	defer func() { _ = h.Close() }()
	if h.Empty() {
		return nil, &AlignmentError{Template: tpl.Name, Reason: "homography estimation", Matches: keep}
	}
	for r := range 3 {
		for c := range 3 {
			res.Homography[r*3+c] = h.GetDoubleAt(r, c)
		}
	}
	res.Inliers = gocv.CountNonZero(inlierMask)

	src, err := gocv.ImageToMatRGB(photo)
	if err != nil {
		return nil, &AlignmentError{Template: tpl.Name, Reason: "convert photo", Err: err}
	}
	defer func() { _ = src.Close() }()
	warped := gocv.NewMat()
	defer func() { _ = warped.Close() }()
	b := ref.Bounds()
	gocv.WarpPerspective(src, &warped, h, image.Pt(b.Dx(), b.Dy()))

	out, err := warped.ToImage()
	if err != nil {
		return nil, &AlignmentError{Template: tpl.Name, Reason: "convert aligned image", Err: err}
	}
	res.Image = imaging.Clone(out)
	res.Duration = time.Since(start)
	return res, nil
}

package align

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/MeKo-Tech/docrec/internal/utils"
)

const (
	sampleSize = 4
	// minSampleArea rejects minimal samples containing (nearly) collinear
	// triples; the value is twice the triangle area in square pixels.
	minSampleArea = 1.0
	// maxSampleAttempts bounds the search for a non-degenerate sample.
	maxSampleAttempts = 100
)

var (
	errTooFewPoints   = errors.New("at least 4 point correspondences are required")
	errNoModel        = errors.New("no non-degenerate sample produced a homography")
	errSingular       = errors.New("estimated homography is singular")
	errMismatchedSets = errors.New("point sets differ in length")
)

type ransacParams struct {
	threshold     float64
	maxIterations int
	confidence    float64
	seed          uint64
}

type ransacResult struct {
	H       Homography
	Inliers []bool
	Count   int
}

// findHomography estimates the homography mapping src onto dst with
// RANSAC over minimal 4-point samples, then refines it by least squares
// over the consensus set. A correspondence is an inlier when its
// reprojection error in dst space is at most threshold.
func findHomography(src, dst []utils.Point, p ransacParams) (ransacResult, error) {
	n := len(src)
	if n != len(dst) {
		return ransacResult{}, errMismatchedSets
	}
	if n < sampleSize {
		return ransacResult{}, errTooFewPoints
	}

	rng := rand.New(rand.NewPCG(p.seed, p.seed^0xda3e39cb94b95bdb))
	thr2 := p.threshold * p.threshold

	best := ransacResult{Count: -1}
	iterations := p.maxIterations
	if n == sampleSize {
		iterations = 1
	}

	for iter := 0; iter < iterations; iter++ {
		idx, ok := drawSample(rng, src, dst)
		if !ok {
			continue
		}
		var ps, qs [4]utils.Point
		for k, i := range idx {
			ps[k], qs[k] = src[i], dst[i]
		}
		H, ok := computeHomography(ps, qs)
		if !ok || !H.IsFinite() {
			continue
		}

		mask, count := scoreInliers(H, src, dst, thr2)
		if count > best.Count {
			best = ransacResult{H: H, Inliers: mask, Count: count}
			iterations = min(iterations, adaptiveIterations(count, n, p.confidence, p.maxIterations))
		}
	}

	if best.Count < sampleSize {
		return ransacResult{}, errNoModel
	}

	if refined, ok := refine(best, src, dst, thr2); ok {
		best = refined
	}
	if math.Abs(best.H.Det()) < 1e-12 {
		return ransacResult{}, errSingular
	}
	return best, nil
}

// drawSample picks four distinct indices whose points are in general
// position in both sets and keep the same orientation (no reflection).
func drawSample(rng *rand.Rand, src, dst []utils.Point) ([4]int, bool) {
	n := len(src)
	for range maxSampleAttempts {
		var idx [4]int
		for k := range idx {
		pick:
			for {
				c := rng.IntN(n)
				for j := range k {
					if idx[j] == c {
						continue pick
					}
				}
				idx[k] = c
				break
			}
		}
		if sampleIsValid(idx, src, dst) {
			return idx, true
		}
		if n == sampleSize {
			break
		}
	}
	return [4]int{}, false
}

func sampleIsValid(idx [4]int, src, dst []utils.Point) bool {
	triples := [4][3]int{{0, 1, 2}, {0, 1, 3}, {0, 2, 3}, {1, 2, 3}}
	for _, t := range triples {
		a, b, c := idx[t[0]], idx[t[1]], idx[t[2]]
		cs := utils.Cross(src[a], src[b], src[c])
		cd := utils.Cross(dst[a], dst[b], dst[c])
		if math.Abs(cs) < minSampleArea || math.Abs(cd) < minSampleArea {
			return false
		}
		if (cs > 0) != (cd > 0) {
			return false
		}
	}
	return true
}

func scoreInliers(H Homography, src, dst []utils.Point, thr2 float64) ([]bool, int) {
	mask := make([]bool, len(src))
	count := 0
	for i := range src {
		p := H.Apply(src[i])
		dx, dy := p.X-dst[i].X, p.Y-dst[i].Y
		if dx*dx+dy*dy <= thr2 {
			mask[i] = true
			count++
		}
	}
	return mask, count
}

// adaptiveIterations returns the number of samples needed to draw an
// all-inlier sample with the given confidence at the observed inlier ratio.
func adaptiveIterations(inliers, total int, confidence float64, maxIterations int) int {
	w := float64(inliers) / float64(total)
	num := math.Log(math.Max(1-confidence, 1e-12))
	den := math.Log(math.Max(1-math.Pow(w, sampleSize), 1e-12))
	if den >= 0 {
		return maxIterations
	}
	if den < -1e-12 && num/den < float64(maxIterations) {
		return int(math.Ceil(num / den))
	}
	return maxIterations
}

// refine re-estimates H from all inliers and keeps the refinement only
// when it does not lose support.
func refine(best ransacResult, src, dst []utils.Point, thr2 float64) (ransacResult, bool) {
	var is, id []utils.Point
	for i, ok := range best.Inliers {
		if ok {
			is = append(is, src[i])
			id = append(id, dst[i])
		}
	}
	H, ok := fitHomography(is, id)
	if !ok {
		return ransacResult{}, false
	}
	mask, count := scoreInliers(H, src, dst, thr2)
	if count < best.Count {
		return ransacResult{}, false
	}
	return ransacResult{H: H, Inliers: mask, Count: count}, true
}

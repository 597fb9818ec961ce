package features

import (
	"math"
	"math/rand/v2"
)

// patternExtent bounds sampling coordinates so that any rotation stays
// within minBorder of the keypoint.
const patternExtent = 13

// briefPattern holds 256 point pairs (x1, y1, x2, y2) relative to the
// keypoint. It is generated from a fixed seed so descriptors are stable
// across runs and builds.
var briefPattern = buildPattern()

func buildPattern() [256][4]int {
	rng := rand.New(rand.NewPCG(0x0b5eed, 0x9e3779b97f4a7c15))
	sigma := float64(patchSize) / 5
	sample := func() int {
		for {
			v := math.Round(rng.NormFloat64() * sigma)
			if v >= -patternExtent && v <= patternExtent {
				return int(v)
			}
		}
	}

	var pattern [256][4]int
	for i := range pattern {
		for {
			x1, y1, x2, y2 := sample(), sample(), sample(), sample()
			if x1 != x2 || y1 != y2 {
				pattern[i] = [4]int{x1, y1, x2, y2}
				break
			}
		}
	}
	return pattern
}

// diskRows[v] is the largest |u| with u*u + v*v <= r*r for the orientation
// disk of radius halfPatchSize.
var diskRows = func() [halfPatchSize + 1]int {
	var rows [halfPatchSize + 1]int
	r2 := halfPatchSize * halfPatchSize
	for v := range rows {
		rows[v] = int(math.Sqrt(float64(r2 - v*v)))
	}
	return rows
}()

// intensityCentroidAngle returns the orientation of the vector from the
// keypoint to the intensity centroid of the surrounding disk.
func intensityCentroidAngle(p *plane, x, y int) float64 {
	var m01, m10 int
	for v := -halfPatchSize; v <= halfPatchSize; v++ {
		span := diskRows[absInt(v)]
		row := (y + v) * p.w
		for u := -span; u <= span; u++ {
			i := int(p.pix[row+x+u])
			m10 += u * i
			m01 += v * i
		}
	}
	return math.Atan2(float64(m01), float64(m10))
}

// describe computes the steered BRIEF descriptor on the smoothed level.
func describe(p *plane, x, y int, angle float64) Descriptor {
	sin, cos := math.Sincos(angle)
	rot := func(u, v int) (int, int) {
		fu, fv := float64(u), float64(v)
		return x + int(math.Round(fu*cos-fv*sin)), y + int(math.Round(fu*sin+fv*cos))
	}

	var d Descriptor
	for i, pt := range briefPattern {
		x1, y1 := rot(pt[0], pt[1])
		x2, y2 := rot(pt[2], pt[3])
		if p.at(x1, y1) < p.at(x2, y2) {
			d[i/64] |= 1 << (i % 64)
		}
	}
	return d
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

package features

// circle holds the 16 offsets of a Bresenham circle of radius 3, clockwise
// from the top.
var circle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

const (
	arcLength = 9
	harrisK   = 0.04
	harrisR   = 3 // 7x7 block
)

type corner struct {
	x, y     int
	score    int
	response float64
}

// fastCorners runs the FAST-9 segment test on every pixel at least border
// pixels away from the image edge and keeps 3x3 local maxima of the corner
// score. Corners are returned in raster order.
func fastCorners(p *plane, threshold, border int) []corner {
	if p.w <= 2*border || p.h <= 2*border {
		return nil
	}
	scores := make([]int, p.w*p.h)
	var candidates []corner

	for y := border; y < p.h-border; y++ {
		for x := border; x < p.w-border; x++ {
			if s := segmentScore(p, x, y, threshold); s > 0 {
				scores[y*p.w+x] = s
				candidates = append(candidates, corner{x: x, y: y, score: s})
			}
		}
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if isLocalMax(scores, p.w, c.x, c.y) {
			kept = append(kept, c)
		}
	}
	return kept
}

// segmentScore returns 0 when (x, y) is not a corner, otherwise the summed
// absolute excess over threshold of the brighter or darker ring pixels.
func segmentScore(p *plane, x, y, threshold int) int {
	c := p.at(x, y)
	hi, lo := c+threshold, c-threshold

	var nb, nd int
	for k := 0; k < 16; k += 4 {
		v := p.at(x+circle[k][0], y+circle[k][1])
		if v > hi {
			nb++
		} else if v < lo {
			nd++
		}
	}
	// A contiguous arc of 9 covers at least two of the four compass points.
	if nb < 2 && nd < 2 {
		return 0
	}

	var bright, dark uint32
	var sumBright, sumDark int
	for k, off := range circle {
		v := p.at(x+off[0], y+off[1])
		switch {
		case v > hi:
			bright |= 1 << k
			sumBright += v - hi
		case v < lo:
			dark |= 1 << k
			sumDark += lo - v
		}
	}

	score := 0
	if hasArc(bright) {
		score = sumBright + 1
	}
	if hasArc(dark) && sumDark+1 > score {
		score = sumDark + 1
	}
	return score
}

// hasArc reports whether the 16-bit ring mask contains arcLength
// contiguous set bits, wrapping around.
func hasArc(mask uint32) bool {
	if mask == 0 {
		return false
	}
	doubled := mask | mask<<16
	run := doubled
	for i := 1; i < arcLength; i++ {
		run &= doubled >> i
	}
	return run&0xFFFF != 0
}

// isLocalMax keeps the first pixel in raster order among equal neighbours.
func isLocalMax(scores []int, w, x, y int) bool {
	idx := y*w + x
	s := scores[idx]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := idx + dy*w + dx
			ns := scores[n]
			if ns > s || (ns == s && n < idx) {
				return false
			}
		}
	}
	return true
}

// harrisResponse computes det(M) - k*trace(M)^2 of the structure tensor
// accumulated over a 7x7 block of Sobel gradients.
func harrisResponse(p *plane, x, y int) float64 {
	var a, b, c float64
	for yy := y - harrisR; yy <= y+harrisR; yy++ {
		for xx := x - harrisR; xx <= x+harrisR; xx++ {
			ix := (p.at(xx+1, yy-1) + 2*p.at(xx+1, yy) + p.at(xx+1, yy+1)) -
				(p.at(xx-1, yy-1) + 2*p.at(xx-1, yy) + p.at(xx-1, yy+1))
			iy := (p.at(xx-1, yy+1) + 2*p.at(xx, yy+1) + p.at(xx+1, yy+1)) -
				(p.at(xx-1, yy-1) + 2*p.at(xx, yy-1) + p.at(xx+1, yy-1))
			fx, fy := float64(ix), float64(iy)
			a += fx * fx
			b += fy * fy
			c += fx * fy
		}
	}
	// Normalize so responses are comparable across block sizes.
	const norm = 1.0 / (4 * (2*harrisR + 1) * 255)
	a, b, c = a*norm*norm, b*norm*norm, c*norm*norm
	return a*b - c*c - harrisK*(a+b)*(a+b)
}

package align

import (
	"math"

	"github.com/MeKo-Tech/docrec/internal/utils"
)

// Homography is a row-major 3x3 projective transform.
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography { return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1} }

// Apply maps p through h. Points on the line at infinity map to a far
// off-image sentinel.
func (h Homography) Apply(p utils.Point) utils.Point {
	x, y := applyHomography(h, p.X, p.Y)
	return utils.Point{X: x, Y: y}
}

// Mul returns h*o, i.e. o applied first.
func (h Homography) Mul(o Homography) Homography {
	var r Homography
	for i := range 3 {
		for j := range 3 {
			r[i*3+j] = h[i*3]*o[j] + h[i*3+1]*o[3+j] + h[i*3+2]*o[6+j]
		}
	}
	return r
}

// Det returns the determinant.
func (h Homography) Det() float64 {
	return h[0]*(h[4]*h[8]-h[5]*h[7]) -
		h[1]*(h[3]*h[8]-h[5]*h[6]) +
		h[2]*(h[3]*h[7]-h[4]*h[6])
}

// Inverse returns the inverse transform scaled so that its last element
// is 1 when possible.
func (h Homography) Inverse() (Homography, bool) {
	det := h.Det()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Homography{}, false
	}
	inv := Homography{
		(h[4]*h[8] - h[5]*h[7]) / det,
		(h[2]*h[7] - h[1]*h[8]) / det,
		(h[1]*h[5] - h[2]*h[4]) / det,
		(h[5]*h[6] - h[3]*h[8]) / det,
		(h[0]*h[8] - h[2]*h[6]) / det,
		(h[2]*h[3] - h[0]*h[5]) / det,
		(h[3]*h[7] - h[4]*h[6]) / det,
		(h[1]*h[6] - h[0]*h[7]) / det,
		(h[0]*h[4] - h[1]*h[3]) / det,
	}
	return inv.normalized(), true
}

// IsFinite reports whether all entries are finite numbers.
func (h Homography) IsFinite() bool {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (h Homography) normalized() Homography {
	if h[8] == 0 {
		return h
	}
	s := 1 / h[8]
	for i := range h {
		h[i] *= s
	}
	return h
}

// computeHomography computes H mapping p[i] -> q[i] exactly from four
// correspondences.
func computeHomography(p, q [4]utils.Point) (Homography, bool) {
	A := [8][8]float64{}
	b := [8]float64{}
	for i := range 4 {
		r := 2 * i
		A[r], A[r+1], b[r], b[r+1] = dltRows(p[i], q[i])
	}
	h, ok := solve8x8(A, b)
	if !ok {
		return Homography{}, false
	}
	return Homography{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}, true
}

// dltRows returns the two linear equations that a correspondence
// (X, Y) -> (x, y) imposes on h00..h21 with h22 = 1:
//
//	x = (h00 X + h01 Y + h02) / (h20 X + h21 Y + 1)
//	y = (h10 X + h11 Y + h12) / (h20 X + h21 Y + 1)
func dltRows(src, dst utils.Point) (rx, ry [8]float64, bx, by float64) {
	X, Y := src.X, src.Y
	x, y := dst.X, dst.Y
	rx = [8]float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x}
	ry = [8]float64{0, 0, 0, X, Y, 1, -X * y, -Y * y}
	return rx, ry, x, y
}

// fitHomography solves the least squares problem over all correspondences
// through the normal equations. Coordinates are normalized first so the
// system stays well conditioned for pixel-sized inputs.
func fitHomography(src, dst []utils.Point) (Homography, bool) {
	if len(src) < 4 || len(src) != len(dst) {
		return Homography{}, false
	}
	ts, ok := normalizingTransform(src)
	if !ok {
		return Homography{}, false
	}
	td, ok := normalizingTransform(dst)
	if !ok {
		return Homography{}, false
	}

	var ata [8][8]float64
	var atb [8]float64
	for i := range src {
		rx, ry, bx, by := dltRows(ts.Apply(src[i]), td.Apply(dst[i]))
		accumulate(&ata, &atb, rx, bx)
		accumulate(&ata, &atb, ry, by)
	}
	h, ok := solve8x8(ata, atb)
	if !ok {
		return Homography{}, false
	}
	hn := Homography{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}

	tdInv, ok := td.Inverse()
	if !ok {
		return Homography{}, false
	}
	H := tdInv.Mul(hn).Mul(ts).normalized()
	if !H.IsFinite() {
		return Homography{}, false
	}
	return H, true
}

func accumulate(ata *[8][8]float64, atb *[8]float64, row [8]float64, rhs float64) {
	for i := range 8 {
		if row[i] == 0 {
			continue
		}
		for j := range 8 {
			ata[i][j] += row[i] * row[j]
		}
		atb[i] += row[i] * rhs
	}
}

// normalizingTransform returns the similarity that moves the centroid of
// pts to the origin and scales their mean distance from it to sqrt(2).
func normalizingTransform(pts []utils.Point) (Homography, bool) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n

	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy)
	}
	mean /= n
	if mean < 1e-12 {
		return Homography{}, false
	}
	s := math.Sqrt2 / mean
	return Homography{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}, true
}

func solve8x8(a [8][8]float64, b [8]float64) ([8]float64, bool) {
	matrix := a
	vector := b

	// Gauss-Jordan elimination with partial pivoting
	for i := range 8 {
		if !pivotAndNormalize(&matrix, &vector, i) {
			return [8]float64{}, false
		}
		eliminateColumn(&matrix, &vector, i)
	}

	var x [8]float64
	for i := range 8 {
		x[i] = vector[i]
	}
	return x, true
}

func pivotAndNormalize(matrix *[8][8]float64, vector *[8]float64, col int) bool {
	pivotRow := findPivotRow(*matrix, col)
	if pivotRow == -1 {
		return false
	}
	if pivotRow != col {
		swapRows(matrix, vector, col, pivotRow)
	}
	normalizeRow(matrix, vector, col)
	return true
}

// pivotEpsilon treats near-zero pivots as singular.
const pivotEpsilon = 1e-12

func findPivotRow(matrix [8][8]float64, col int) int {
	maxAbs := math.Abs(matrix[col][col])
	pivotRow := col
	for r := col + 1; r < 8; r++ {
		if math.Abs(matrix[r][col]) > maxAbs {
			maxAbs = math.Abs(matrix[r][col])
			pivotRow = r
		}
	}
	if maxAbs < pivotEpsilon {
		return -1
	}
	return pivotRow
}

func swapRows(matrix *[8][8]float64, vector *[8]float64, row1, row2 int) {
	matrix[row1], matrix[row2] = matrix[row2], matrix[row1]
	vector[row1], vector[row2] = vector[row2], vector[row1]
}

func normalizeRow(matrix *[8][8]float64, vector *[8]float64, row int) {
	div := matrix[row][row]
	for c := row; c < 8; c++ {
		matrix[row][c] /= div
	}
	vector[row] /= div
}

func eliminateColumn(matrix *[8][8]float64, vector *[8]float64, col int) {
	for r := range 8 {
		if r == col {
			continue
		}
		factor := matrix[r][col]
		if factor == 0 {
			continue
		}
		for c := col; c < 8; c++ {
			matrix[r][c] -= factor * matrix[col][c]
		}
		vector[r] -= factor * vector[col]
	}
}

func applyHomography(h Homography, x, y float64) (float64, float64) {
	denom := h[6]*x + h[7]*y + h[8]
	if denom == 0 {
		return -1e9, -1e9
	}
	sx := (h[0]*x + h[1]*y + h[2]) / denom
	sy := (h[3]*x + h[4]*y + h[5]) / denom
	return sx, sy
}

package align

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/docrec/internal/template"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

var (
	inlierColor  = color.RGBA{0, 200, 0, 255}
	outlierColor = color.RGBA{220, 0, 0, 255}
	regionColor  = color.RGBA{0, 120, 255, 255}
)

// sideBySide draws left and right next to each other with a gap and
// returns the canvas and the x offset of the right image.
func sideBySide(left, right image.Image, gap int) (*image.RGBA, int) {
	lb, rb := left.Bounds(), right.Bounds()
	outW := lb.Dx() + gap + rb.Dx()
	outH := max(lb.Dy(), rb.Dy())
	canvas := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.Draw(canvas, image.Rect(0, 0, lb.Dx(), lb.Dy()), left, lb.Min, draw.Src)
	xoff := lb.Dx() + gap
	draw.Draw(canvas, image.Rect(xoff, 0, xoff+rb.Dx(), rb.Dy()), right, rb.Min, draw.Src)
	return canvas, xoff
}

// dumpMatchesPNG draws the photo and the template side by side with a line
// for every retained match, green for inliers and red for outliers.
func dumpMatchesPNG(dir string, photo, ref image.Image, src, dst []utils.Point, inliers []bool) error {
	canvas, xoff := sideBySide(photo, ref, 10)
	for i := range src {
		col := outlierColor
		if i < len(inliers) && inliers[i] {
			col = inlierColor
		}
		to := utils.Point{X: dst[i].X + float64(xoff), Y: dst[i].Y}
		utils.DrawLine(canvas, src[i], to, col, 1)
		utils.DrawCross(canvas, src[i], 2, col)
		utils.DrawCross(canvas, to, 2, col)
	}
	return writePNG(dir, "align_matches", canvas)
}

// dumpComparePNG draws the template and the aligned photo side by side,
// outlining the template regions on both halves.
func dumpComparePNG(dir string, ref, aligned image.Image, regions []template.Region) error {
	canvas, xoff := sideBySide(ref, aligned, 10)
	for _, r := range regions {
		rect := r.Box.ToRect(ref.Bounds())
		utils.DrawRect(canvas, rect, regionColor, 1)
		utils.DrawRect(canvas, rect.Add(image.Pt(xoff, 0)), regionColor, 1)
	}
	return writePNG(dir, "align_compare", canvas)
}

func writePNG(dir, prefix string, img image.Image) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", prefix, time.Now().UnixNano()))
	f, err := os.Create(path) //nolint:gosec // G304: path is constructed from timestamp in debug directory
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return png.Encode(f, img)
}

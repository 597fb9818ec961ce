package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

// CardSize matches the driver license layout used across tests.
var CardSize = ImageSize{617, 366}

// TextLine is a string drawn at a baseline position.
type TextLine struct {
	Text string
	X, Y int
}

// CardConfig holds configuration for generating synthetic document cards.
type CardConfig struct {
	Size       ImageSize
	Seed       uint64
	Blocks     int // number of random rectangles forming the background texture
	Background color.Color
	Foreground color.Color
	Lines      []TextLine
}

// DefaultCardConfig returns a textured card with a few printed lines.
func DefaultCardConfig() CardConfig {
	return CardConfig{
		Size:       CardSize,
		Seed:       7,
		Blocks:     120,
		Background: color.RGBA{236, 232, 220, 255},
		Foreground: color.RGBA{20, 20, 40, 255},
		Lines: []TextLine{
			{"DRIVING LICENCE", 240, 50},
			{"1. BABAYAN", 222, 90},
			{"2. SAMVEL YUR'YEVICH", 221, 127},
			{"3. 01.07.1980", 219, 163},
			{"4a) 23.09.2015  4b) 23.09.2025", 217, 216},
			{"5. 2322803756", 215, 271},
			{"8. KHANTY-MANSIYSKIY AO", 215, 290},
		},
	}
}

// GenerateCard draws a card with a deterministic texture of overlapping
// rectangles and the configured text lines.
func GenerateCard(cfg CardConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Size.Width, cfg.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5bd1e995))
	for range cfg.Blocks {
		w := 6 + rng.IntN(cfg.Size.Width/6+1)
		h := 6 + rng.IntN(cfg.Size.Height/6+1)
		x := rng.IntN(cfg.Size.Width)
		y := rng.IntN(cfg.Size.Height)
		g := uint8(40 + rng.IntN(200))
		c := color.RGBA{g, uint8(int(g) * 9 / 10), uint8(255 - int(g)/2), 255}
		draw.Draw(img, image.Rect(x, y, x+w, y+h), &image.Uniform{c}, image.Point{}, draw.Src)
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{cfg.Foreground},
		Face: basicfont.Face7x13,
	}
	for _, l := range cfg.Lines {
		drawer.Dot = fixed.P(l.X, l.Y)
		drawer.DrawString(l.Text)
	}
	return img
}

// Translate places src at offset (dx, dy) on a black canvas of the given
// size.
func Translate(src image.Image, dx, dy int, size ImageSize) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{color.Black}, image.Point{}, draw.Src)
	b := src.Bounds()
	draw.Draw(dst, image.Rect(dx, dy, dx+b.Dx(), dy+b.Dy()), src, b.Min, draw.Src)
	return dst
}

// Rotate rotates src by angle degrees counter-clockwise, filling with black.
func Rotate(src image.Image, angle float64) *image.NRGBA {
	return imaging.Rotate(src, angle, color.Black)
}

// CreateTestImage creates a uniform image with the specified dimensions and color.
func CreateTestImage(width, height int, backgroundColor color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	return img
}

// SaveImage saves an image as PNG to the specified path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)))

	file, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()

	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// MeanAbsDiff returns the mean absolute difference per channel (0..255)
// over the intersection of both images' bounds, restricted to rect when
// it is non-empty.
func MeanAbsDiff(img1, img2 image.Image, rect image.Rectangle) float64 {
	area := img1.Bounds().Intersect(img2.Bounds())
	if !rect.Empty() {
		area = area.Intersect(rect)
	}
	if area.Empty() {
		return math.Inf(1)
	}

	var total float64
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			r1, g1, b1, _ := img1.At(x, y).RGBA()
			r2, g2, b2, _ := img2.At(x, y).RGBA()
			total += math.Abs(float64(r1)-float64(r2)) +
				math.Abs(float64(g1)-float64(g2)) +
				math.Abs(float64(b1)-float64(b2))
		}
	}
	return total / (3 * 257 * float64(area.Dx()*area.Dy()))
}

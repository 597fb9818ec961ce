package align

import (
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// warpPerspective renders a dstW x dstH image whose pixel (x, y) is
// sampled from src at inv(x, y), where inv maps output coordinates back
// into the source. Samples outside src are black.
func warpPerspective(src image.Image, inv Homography, dstW, dstH int) *image.NRGBA {
	if dstW <= 0 || dstH <= 0 {
		return nil
	}
	in := imaging.Clone(src)
	out := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))

	workers := min(runtime.GOMAXPROCS(0), dstH)
	rows := make(chan int, dstH)
	for y := range dstH {
		rows <- y
	}
	close(rows)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range rows {
				off := y * out.Stride
				for x := range dstW {
					sx, sy := applyHomography(inv, float64(x), float64(y))
					c := bilinearSample(in, sx, sy)
					copy(out.Pix[off+x*4:off+x*4+4], c[:])
				}
			}
		}()
	}
	wg.Wait()
	return out
}

var black = [4]uint8{0, 0, 0, 255}

// edgeEpsilon absorbs floating point noise of near-identity transforms at
// the image border.
const edgeEpsilon = 1e-6

func bilinearSample(src *image.NRGBA, x, y float64) [4]uint8 {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	maxX, maxY := float64(w-1), float64(h-1)
	if x < -edgeEpsilon || y < -edgeEpsilon || x > maxX+edgeEpsilon || y > maxY+edgeEpsilon {
		return black
	}
	x = min(max(x, 0), maxX)
	y = min(max(y, 0), maxY)
	x0 := int(x)
	y0 := int(y)
	x1 := min(x0+1, w-1)
	y1 := min(y0+1, h-1)
	fx := x - float64(x0)
	fy := y - float64(y0)

	p00 := src.Pix[y0*src.Stride+x0*4:]
	p10 := src.Pix[y0*src.Stride+x1*4:]
	p01 := src.Pix[y1*src.Stride+x0*4:]
	p11 := src.Pix[y1*src.Stride+x1*4:]

	var c [4]uint8
	for i := range 4 {
		top := lerp(float64(p00[i]), float64(p10[i]), fx)
		bot := lerp(float64(p01[i]), float64(p11[i]), fx)
		c[i] = uint8(lerp(top, bot, fy) + 0.5)
	}
	return c
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

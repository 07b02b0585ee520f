package detector

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

// padValue is the gray used to fill the letterbox border.
const padValue = 114.0 / 255.0

// letterbox records how a source image was fitted into the network input.
type letterbox struct {
	scale      float64
	padX, padY int
	src        image.Rectangle
}

// toSource maps a point from network input pixels to source pixels.
func (lb letterbox) toSource(x, y float64) (float64, float64) {
	return (x-float64(lb.padX))/lb.scale + float64(lb.src.Min.X),
		(y-float64(lb.padY))/lb.scale + float64(lb.src.Min.Y)
}

// prepareInput resizes img to fit a size x size square keeping the aspect
// ratio, pads the rest and returns a normalized CHW tensor.
func prepareInput(img image.Image, size int) ([]float32, letterbox) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := clampInt(int(math.Round(float64(w)*scale)), 1, size)
	nh := clampInt(int(math.Round(float64(h)*scale)), 1, size)
	lb := letterbox{
		scale: scale,
		padX:  (size - nw) / 2,
		padY:  (size - nh) / 2,
		src:   bounds,
	}

	resized := resize.Resize(uint(nw), uint(nh), img, resize.Bilinear)
	rb := resized.Bounds()

	plane := size * size
	input := make([]float32, 3*plane)
	for i := range input {
		input[i] = padValue
	}

	for y := 0; y < nh; y++ {
		row := (y + lb.padY) * size
		for x := 0; x < nw; x++ {
			idx := row + x + lb.padX
			r, g, b, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			input[idx] = float32(r>>8) / 255.0
			input[idx+plane] = float32(g>>8) / 255.0
			input[idx+2*plane] = float32(b>>8) / 255.0
		}
	}

	return input, lb
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

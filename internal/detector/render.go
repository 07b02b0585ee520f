package detector

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var palette = []color.NRGBA{
	rgb(0xFF3838), rgb(0xFF9D97), rgb(0xFF701F), rgb(0xFFB21D), rgb(0xCFD231),
	rgb(0x48F90A), rgb(0x92CC17), rgb(0x3DDB86), rgb(0x1A9334), rgb(0x00D4BB),
	rgb(0x2C99A8), rgb(0x00C2FF), rgb(0x344593), rgb(0x6473FF), rgb(0x0018EC),
	rgb(0x8438FF), rgb(0x520085), rgb(0xCB38FF), rgb(0xFF95C8), rgb(0xFF37C7),
}

func rgb(hex uint32) color.NRGBA {
	return color.NRGBA{R: uint8(hex >> 16), G: uint8(hex >> 8), B: uint8(hex), A: 255}
}

func classColor(classID int) color.NRGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// textColor picks black or white for legibility on bg.
func textColor(bg color.NRGBA) color.Color {
	lum := 0.299*float64(bg.R) + 0.587*float64(bg.G) + 0.114*float64(bg.B)
	if lum > 160 {
		return color.Black
	}
	return color.White
}

// Render draws every detection on a copy of img. The copy has the same
// dimensions as img, with its origin moved to (0, 0).
func Render(img image.Image, dets []Detection) *image.NRGBA {
	out := imaging.Clone(img)
	if len(dets) == 0 {
		return out
	}

	origin := img.Bounds().Min
	w, h := out.Bounds().Dx(), out.Bounds().Dy()
	lineWidth := max(int(math.Round(float64(w+h)/2*0.003)), 2)
	fontSize := max(math.Round(float64(w+h)/2*0.035), 12)
	labelScale := max(int(math.Round(fontSize/float64(basicfont.Face7x13.Height))), 1)

	for _, d := range dets {
		r := d.Box.Sub(origin).Intersect(out.Bounds())
		if r.Empty() {
			continue
		}
		c := classColor(d.ClassID)
		drawBox(out, r, lineWidth, c)
		drawLabel(out, r, fmt.Sprintf("%s %.2f", d.Label, d.Confidence), c, labelScale)
	}
	return out
}

func drawBox(dst draw.Image, r image.Rectangle, lineWidth int, c color.Color) {
	src := image.NewUniform(c)
	sides := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+lineWidth),
		image.Rect(r.Min.X, r.Max.Y-lineWidth, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+lineWidth, r.Max.Y),
		image.Rect(r.Max.X-lineWidth, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, side := range sides {
		draw.Draw(dst, side.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// drawLabel renders text on a filled tab above the box, or inside its top
// edge when there is no room, scaled up by an integer factor.
func drawLabel(dst *image.NRGBA, r image.Rectangle, text string, bg color.NRGBA, scale int) {
	const pad = 2
	face := basicfont.Face7x13
	metrics := face.Metrics()

	tw := font.MeasureString(face, text).Ceil() + 2*pad
	th := metrics.Height.Ceil() + 2*pad
	tab := image.NewNRGBA(image.Rect(0, 0, tw, th))
	draw.Draw(tab, tab.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  tab,
		Src:  image.NewUniform(textColor(bg)),
		Face: face,
		Dot:  fixed.P(pad, pad+metrics.Ascent.Ceil()),
	}
	drawer.DrawString(text)

	sw, sh := tw*scale, th*scale
	bounds := dst.Bounds()
	x := min(r.Min.X, bounds.Max.X-sw)
	x = max(x, bounds.Min.X)
	y := r.Min.Y - sh
	if y < bounds.Min.Y {
		y = r.Min.Y
	}
	draw.NearestNeighbor.Scale(dst, image.Rect(x, y, x+sw, y+sh), tab, tab.Bounds(), draw.Src, nil)
}

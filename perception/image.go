package perception

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Blackout returns a copy of img with the bottom rows painted black, hiding
// the robot's own chassis from the detector.
func Blackout(img image.Image, rows int) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	if rows <= 0 {
		return out
	}
	if rows > b.Dy() {
		rows = b.Dy()
	}
	mask := image.Rect(0, b.Dy()-rows, b.Dx(), b.Dy())
	draw.Draw(out, mask, image.NewUniform(color.Black), image.Point{}, draw.Src)
	return out
}

// Resize scales img to width, keeping the aspect ratio. A non-positive
// width, or one equal to the current width, returns img unchanged.
func Resize(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || width == b.Dx() || b.Dx() == 0 {
		return img
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}

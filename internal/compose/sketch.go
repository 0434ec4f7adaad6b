package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

const inkThreshold = 240

// PrepareSketch normalizes a user doodle for the sketch task: any pixel that
// is both visible and darker than near-white counts as a stroke and becomes
// pure white on a black background. Users draw dark strokes on the white
// canvas, and the generation service expects the inverse mask.
func PrepareSketch(data []byte) ([]byte, error) {
	src, err := Decode(data)
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	mask := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBA{A: 0xff}
			if isStroke(src.At(x, y)) {
				c.R, c.G, c.B = 0xff, 0xff, 0xff
			}
			mask.Set(x-b.Min.X, y-b.Min.Y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, mask); err != nil {
		return nil, fmt.Errorf("compose: encode sketch mask: %w", err)
	}
	return buf.Bytes(), nil
}

func isStroke(c color.Color) bool {
	r, g, b, a := c.RGBA()
	if a == 0 {
		return false
	}
	mean := (r + g + b) / 3 >> 8
	return mean < inkThreshold
}

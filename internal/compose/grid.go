// Package compose handles the bot's local raster work: combining result
// images into a preview grid, producing blank canvases for sketch prompts and
// normalizing user doodles for the sketch-to-image task.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	_ "image/gif"
)

const (
	tileMargin = 4

	wideAspect = 1.5
	tallAspect = 0.67
)

var ErrNoImages = errors.New("compose: no images to combine")

// Combine arranges up to four images into a grid on a white background and
// returns the encoded JPEG. Tiles keep their aspect ratio, centered on a
// common canvas derived from the largest input; transparency is flattened
// onto white. Callers treat any failure as non-fatal and fall back to sending
// the images individually.
func Combine(images []image.Image) ([]byte, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if len(images) > 4 {
		images = images[:4]
	}

	tileW, tileH := tileSize(images)
	cols, rows := gridShape(len(images))

	canvasW := cols*tileW + (cols-1)*tileMargin
	canvasH := rows*tileH + (rows-1)*tileMargin
	canvas := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	for idx, img := range images {
		x := (idx % cols) * (tileW + tileMargin)
		y := (idx / cols) * (tileH + tileMargin)
		drawTile(canvas, img, image.Rect(x, y, x+tileW, y+tileH))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("compose: encode grid: %w", err)
	}
	return buf.Bytes(), nil
}

// tileSize picks the common tile dimensions from the largest input's aspect
// ratio: wide inputs get a 1024-wide tile, tall inputs a 1024-tall one, and
// near-square inputs a 512 square.
func tileSize(images []image.Image) (int, int) {
	maxW, maxH := 0, 0
	for _, img := range images {
		b := img.Bounds()
		if b.Dx() > maxW {
			maxW = b.Dx()
		}
		if b.Dy() > maxH {
			maxH = b.Dy()
		}
	}
	if maxH == 0 {
		return 512, 512
	}
	aspect := float64(maxW) / float64(maxH)
	switch {
	case aspect > wideAspect:
		return 1024, int(1024 / aspect)
	case aspect < tallAspect:
		return int(1024 * aspect), 1024
	default:
		return 512, 512
	}
}

func gridShape(n int) (cols, rows int) {
	switch {
	case n <= 1:
		return 1, 1
	case n == 2:
		return 2, 1
	default:
		return 2, 2
	}
}

// drawTile scales img to fit the cell, keeping aspect ratio, centers it and
// flattens any transparency onto the white background already present.
func drawTile(canvas *image.RGBA, img image.Image, cell image.Rectangle) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return
	}
	scale := min(float64(cell.Dx())/float64(b.Dx()), float64(cell.Dy())/float64(b.Dy()))
	w := int(float64(b.Dx()) * scale)
	h := int(float64(b.Dy()) * scale)
	if w <= 0 || h <= 0 {
		return
	}
	offsetX := cell.Min.X + (cell.Dx()-w)/2
	offsetY := cell.Min.Y + (cell.Dy()-h)/2

	for y := 0; y < h; y++ {
		srcY := b.Min.Y + y*b.Dy()/h
		for x := 0; x < w; x++ {
			srcX := b.Min.X + x*b.Dx()/w
			r, g, bl, a := img.At(srcX, srcY).RGBA()
			// Flatten onto white: out = src*alpha + white*(1-alpha).
			alpha := float64(a) / 0xffff
			canvas.Set(offsetX+x, offsetY+y, color.RGBA{
				R: flatten(r, alpha),
				G: flatten(g, alpha),
				B: flatten(bl, alpha),
				A: 0xff,
			})
		}
	}
}

func flatten(channel uint32, alpha float64) uint8 {
	premultiplied := float64(channel) / 0xffff * 255
	return uint8(premultiplied + 255*(1-alpha) + 0.5)
}

// BlankCanvas produces the white PNG sent to a user entering sketch mode.
func BlankCanvas(width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("compose: invalid canvas size %dx%d", width, height)
	}
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("compose: encode canvas: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an image payload regardless of format.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compose: decode image: %w", err)
	}
	return img, nil
}

// Package frame decodes raw fingerprint-sensor frames into a canonical
// 8-bit grayscale raster and encodes that raster as PNG for storage.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// Canonical file extension for stored captures.
const Ext = ".png"

var (
	// ErrFormat reports bytes that are malformed for the declared format.
	ErrFormat = errors.New("frame: malformed input for declared format")
	// ErrLengthMismatch reports a raw8 payload whose size disagrees with
	// the declared geometry.
	ErrLengthMismatch = errors.New("frame: payload length does not match width*height")
)

// Image is the canonical raster: 8-bit single-channel, row-major.
type Image struct {
	Width  int
	Height int
	Pixels []byte
}

// Gray returns the raster as a stdlib grayscale image sharing the pixel
// buffer.
func (im *Image) Gray() *image.Gray {
	return &image.Gray{
		Pix:    im.Pixels,
		Stride: im.Width,
		Rect:   image.Rect(0, 0, im.Width, im.Height),
	}
}

// FromImage converts any decoded image into the canonical raster.
func FromImage(src image.Image) *Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := &Image{Width: w, Height: h, Pixels: make([]byte, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(src.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			out.Pixels[y*w+x] = g.Y
		}
	}
	return out
}

// EncodePNG renders the raster as a PNG byte stream.
func EncodePNG(im *Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, im.Gray()); err != nil {
		return nil, fmt.Errorf("frame: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

package frame

import (
	"bytes"
	"fmt"

	wsq "github.com/jtejido/go-wsq"
	"github.com/spakin/netpbm"
)

// Wire formats accepted from capture devices.
const (
	FormatPacked4 = "packed4"
	FormatRaw8    = "raw8"
	FormatPGM     = "pgm"
	FormatWSQ     = "wsq"
)

// Decode converts one sensor frame into the canonical raster. width and
// height describe the sensor's known frame geometry; self-describing
// formats (pgm, wsq) override them with the dimensions found in the
// payload.
func Decode(data []byte, format string, width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: non-positive geometry %dx%d", ErrFormat, width, height)
	}
	switch format {
	case FormatPacked4:
		return decodePacked4(data, width, height), nil
	case FormatRaw8:
		return decodeRaw8(data, width, height)
	case FormatPGM:
		return decodePGM(data)
	case FormatWSQ:
		return decodeWSQ(data)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrFormat, format)
	}
}

// decodePacked4 expands two 4-bit samples per input byte, high nibble
// first. Nibble n stretches linearly to n*17 so 0x0F maps to 255. A short
// payload leaves the tail of the raster at zero; surplus bytes are ignored.
func decodePacked4(data []byte, width, height int) *Image {
	out := make([]byte, width*height)
	n := 0
	for _, b := range data {
		if n >= len(out) {
			break
		}
		out[n] = (b >> 4) * 17
		n++
		if n < len(out) {
			out[n] = (b & 0x0f) * 17
			n++
		}
	}
	return &Image{Width: width, Height: height, Pixels: out}
}

func decodeRaw8(data []byte, width, height int) (*Image, error) {
	if len(data) != width*height {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, len(data), width*height)
	}
	pixels := make([]byte, len(data))
	copy(pixels, data)
	return &Image{Width: width, Height: height, Pixels: pixels}, nil
}

func decodePGM(data []byte) (*Image, error) {
	img, err := netpbm.Decode(bytes.NewReader(data), &netpbm.DecodeOptions{
		Target: netpbm.PGM,
		Exact:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: pgm: %v", ErrFormat, err)
	}
	return FromImage(img), nil
}

func decodeWSQ(data []byte) (*Image, error) {
	img, err := wsq.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: wsq: %v", ErrFormat, err)
	}
	return FromImage(img), nil
}

package frame

import (
	"bytes"
	"fmt"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePacked4Expansion(t *testing.T) {
	img, err := Decode([]byte{0xF0, 0x5A}, FormatPacked4, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 0, 85, 170}, img.Pixels)
}

func TestDecodePacked4ShortInput(t *testing.T) {
	// One byte yields two samples; the rest of the raster stays zero.
	img, err := Decode([]byte{0x11}, FormatPacked4, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{17, 17, 0, 0}, img.Pixels)
}

func TestDecodePacked4SurplusIgnored(t *testing.T) {
	img, err := Decode([]byte{0xFF, 0xFF, 0xFF}, FormatPacked4, 2, 1)
	require.NoError(t, err)
	assert.Len(t, img.Pixels, 2)
}

func TestDecodePacked4Multiples(t *testing.T) {
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	img, err := Decode(payload, FormatPacked4, 16, 8)
	require.NoError(t, err)
	require.Len(t, img.Pixels, 128)
	for i, p := range img.Pixels {
		assert.Zero(t, p%17, "pixel %d = %d is not a multiple of 17", i, p)
	}
}

func TestDecodeRaw8Identity(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6}
	img, err := Decode(payload, FormatRaw8, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, payload, img.Pixels)
}

func TestDecodeRaw8LengthMismatch(t *testing.T) {
	_, err := Decode(make([]byte, 5), FormatRaw8, 3, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestDecodePGM(t *testing.T) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "P5\n# sensor dump\n3 2\n255\n")
	buf.Write([]byte{10, 20, 30, 40, 50, 60})

	// Header dimensions override the caller-supplied geometry.
	img, err := Decode(buf.Bytes(), FormatPGM, 999, 999)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Width)
	assert.Equal(t, 2, img.Height)
	assert.GreaterOrEqual(t, len(img.Pixels), 6)
	assert.Equal(t, []byte{10, 20, 30, 40, 50, 60}, img.Pixels)
}

func TestDecodePGMBadMagic(t *testing.T) {
	_, err := Decode([]byte("P6\n1 1\n255\nxyz"), FormatPGM, 1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeWSQGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not wsq"), FormatWSQ, 256, 288)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeUnknownFormat(t *testing.T) {
	_, err := Decode(nil, "bmp", 1, 1)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestEncodePNGRoundTrip(t *testing.T) {
	img, err := Decode([]byte{0xF0, 0x5A}, FormatPacked4, 2, 2)
	require.NoError(t, err)

	data, err := EncodePNG(img)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	back := FromImage(decoded)
	assert.Equal(t, img.Pixels, back.Pixels)
}

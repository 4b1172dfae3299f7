package vcode

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	return img
}

func TestBinarize_Threshold(t *testing.T) {
	img := gradient()
	bin := Binarize(img, Threshold)

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			lum := img.GrayAt(x, y).Y
			level := bin.Level(x, y)
			require.Contains(t, []uint8{0, 1}, level)
			if lum < Threshold {
				assert.Equal(t, uint8(0), level, "luminance %d", lum)
			} else {
				assert.Equal(t, uint8(1), level, "luminance %d", lum)
			}
		}
	}
}

func TestBinarize_Idempotent(t *testing.T) {
	once := Binarize(gradient(), Threshold)
	twice := Binarize(once, Threshold)

	assert.Equal(t, once.Pix, twice.Pix)
	assert.Equal(t, once.Rect, twice.Rect)
}

func TestBinarize_DoesNotMutateSource(t *testing.T) {
	img := gradient()
	before := append([]uint8(nil), img.Pix...)

	Binarize(img, Threshold)

	assert.Equal(t, before, img.Pix)
}

func TestBinarize_ColorLuminance(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	// pure red has luminance 76
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 200, B: 200, A: 255})

	bin := Binarize(img, Threshold)

	assert.Equal(t, uint8(0), bin.Level(0, 0))
	assert.Equal(t, uint8(1), bin.Level(1, 0))
}

func TestBinarize_OffsetBounds(t *testing.T) {
	img := image.NewGray(image.Rect(5, 5, 7, 6))
	img.SetGray(5, 5, color.Gray{Y: 10})
	img.SetGray(6, 5, color.Gray{Y: 250})

	bin := Binarize(img, Threshold)

	assert.Equal(t, image.Rect(5, 5, 7, 6), bin.Bounds())
	assert.Equal(t, uint8(0), bin.Level(5, 5))
	assert.Equal(t, uint8(1), bin.Level(6, 5))
	assert.Equal(t, uint8(0), bin.Level(0, 0))
}

func TestPreprocess(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, gradient()))

	bin, err := Preprocess(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, Binarize(gradient(), Threshold).Pix, bin.Pix)
}

func TestPreprocess_Garbage(t *testing.T) {
	_, err := Preprocess([]byte("<html>not an image</html>"))
	assert.Error(t, err)
}

func TestEncodePNG_RoundTrip(t *testing.T) {
	bin := Binarize(gradient(), Threshold)

	data, err := EncodePNG(bin)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, bin.Pix, Binarize(decoded, Threshold).Pix)
}

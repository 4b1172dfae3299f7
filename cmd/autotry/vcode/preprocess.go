package vcode

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Threshold is the luminance cut between black and white levels.
const Threshold uint8 = 150

// Binary is a two-level image. Pix holds one byte per pixel, either 0 or 1.
type Binary struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

func NewBinary(r image.Rectangle) *Binary {
	return &Binary{
		Pix:    make([]uint8, r.Dx()*r.Dy()),
		Stride: r.Dx(),
		Rect:   r,
	}
}

func (b *Binary) ColorModel() color.Model { return color.GrayModel }

func (b *Binary) Bounds() image.Rectangle { return b.Rect }

func (b *Binary) At(x, y int) color.Color {
	if b.Level(x, y) == 0 {
		return color.Gray{Y: 0}
	}
	return color.Gray{Y: 255}
}

// Level returns 0 or 1 for pixels inside the bounds and 0 outside.
func (b *Binary) Level(x, y int) uint8 {
	if !(image.Point{X: x, Y: y}.In(b.Rect)) {
		return 0
	}
	return b.Pix[(y-b.Rect.Min.Y)*b.Stride+(x-b.Rect.Min.X)]
}

func (b *Binary) set(x, y int, level uint8) {
	b.Pix[(y-b.Rect.Min.Y)*b.Stride+(x-b.Rect.Min.X)] = level
}

// Binarize maps every pixel of img to 0 if its luminance is below threshold
// and to 1 otherwise. img is not modified.
func Binarize(img image.Image, threshold uint8) *Binary {
	bounds := img.Bounds()
	out := NewBinary(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			lum := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			if lum >= threshold {
				out.set(x, y, 1)
			}
		}
	}

	return out
}

// Preprocess decodes a raw verification image and returns its binarized form.
func Preprocess(raw []byte) (*Binary, error) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("error decoding verification image: %w", err)
	}

	return Binarize(imaging.Grayscale(img), Threshold), nil
}

// EncodePNG renders b for the OCR engine.
func EncodePNG(b *Binary) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, b, imaging.PNG); err != nil {
		return nil, fmt.Errorf("error encoding binarized image: %w", err)
	}

	return buf.Bytes(), nil
}

package types

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when two planes that must share a geometry do not.
var ErrShapeMismatch = errors.New("shape mismatch")

// Image is a 2D grid of pixel values.
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

// NewImage returns a zero-filled Image of the given size.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// NewImageFrom wraps pix as an Image. pix must hold width*height values.
func NewImageFrom(width, height int, pix []float64) (*Image, error) {
	if width < 0 || height < 0 || len(pix) != width*height {
		return nil, fmt.Errorf("types: %dx%d image needs %d pixels, got %d: %w",
			width, height, width*height, len(pix), ErrShapeMismatch)
	}
	return &Image{Width: width, Height: height, Pix: pix}, nil
}

// At returns the value at column x, row y.
func (im *Image) At(x, y int) float64 { return im.Pix[y*im.Width+x] }

// Set stores v at column x, row y.
func (im *Image) Set(x, y int, v float64) { im.Pix[y*im.Width+x] = v }

// Len returns the number of pixels.
func (im *Image) Len() int { return len(im.Pix) }

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := &Image{Width: im.Width, Height: im.Height, Pix: make([]float64, len(im.Pix))}
	copy(out.Pix, im.Pix)
	return out
}

// SameShape reports whether other has the same width and height.
func (im *Image) SameShape(w, h int) bool { return im.Width == w && im.Height == h }

// Fill sets every pixel to v.
func (im *Image) Fill(v float64) {
	for i := range im.Pix {
		im.Pix[i] = v
	}
}

// Sub returns a copy of the rectangle [x0,x1) x [y0,y1).
func (im *Image) Sub(x0, y0, x1, y1 int) (*Image, error) {
	if x0 < 0 || y0 < 0 || x1 > im.Width || y1 > im.Height || x0 >= x1 || y0 >= y1 {
		return nil, fmt.Errorf("types: box [%d,%d)x[%d,%d) outside %dx%d image: %w",
			x0, x1, y0, y1, im.Width, im.Height, ErrShapeMismatch)
	}
	out := NewImage(x1-x0, y1-y0)
	for y := y0; y < y1; y++ {
		copy(out.Pix[(y-y0)*out.Width:(y-y0+1)*out.Width], im.Pix[y*im.Width+x0:y*im.Width+x1])
	}
	return out, nil
}

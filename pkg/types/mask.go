package types

import (
	"fmt"
	"strings"
)

// MaskPixel is the per-pixel bitset of a mask plane.
type MaskPixel uint32

// Mask plane bits.
const (
	MaskBad MaskPixel = 1 << iota
	MaskSat
	MaskSuspect
	MaskNoData
	MaskIntrp
)

var planeNames = []struct {
	name string
	bit  MaskPixel
}{
	{"BAD", MaskBad},
	{"SAT", MaskSat},
	{"SUSPECT", MaskSuspect},
	{"NO_DATA", MaskNoData},
	{"INTRP", MaskIntrp},
}

// PlaneBit returns the bit for a named mask plane such as "BAD" or "SAT".
func PlaneBit(name string) (MaskPixel, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for _, p := range planeNames {
		if p.name == n {
			return p.bit, nil
		}
	}
	return 0, fmt.Errorf("types: unknown mask plane %q", name)
}

// PlanesBits ORs together the bits of the named planes.
func PlanesBits(names []string) (MaskPixel, error) {
	var bits MaskPixel
	for _, n := range names {
		b, err := PlaneBit(n)
		if err != nil {
			return 0, err
		}
		bits |= b
	}
	return bits, nil
}

// String lists the planes set in m, e.g. "BAD|SAT".
func (m MaskPixel) String() string {
	var parts []string
	for _, p := range planeNames {
		if m&p.bit != 0 {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// Mask is a 2D grid of MaskPixel values.
type Mask struct {
	Width  int
	Height int
	Pix    []MaskPixel
}

// NewMask returns an empty Mask of the given size.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]MaskPixel, width*height)}
}

// At returns the mask bits at column x, row y.
func (m *Mask) At(x, y int) MaskPixel { return m.Pix[y*m.Width+x] }

// Or sets bits at column x, row y.
func (m *Mask) Or(x, y int, bits MaskPixel) { m.Pix[y*m.Width+x] |= bits }

// Count returns how many pixels have any of bits set.
func (m *Mask) Count(bits MaskPixel) int {
	var n int
	for _, p := range m.Pix {
		if p&bits != 0 {
			n++
		}
	}
	return n
}

// Sub returns a copy of the rectangle [x0,x1) x [y0,y1).
func (m *Mask) Sub(x0, y0, x1, y1 int) (*Mask, error) {
	if x0 < 0 || y0 < 0 || x1 > m.Width || y1 > m.Height || x0 >= x1 || y0 >= y1 {
		return nil, fmt.Errorf("types: box [%d,%d)x[%d,%d) outside %dx%d mask: %w",
			x0, x1, y0, y1, m.Width, m.Height, ErrShapeMismatch)
	}
	out := NewMask(x1-x0, y1-y0)
	for y := y0; y < y1; y++ {
		copy(out.Pix[(y-y0)*out.Width:(y-y0+1)*out.Width], m.Pix[y*m.Width+x0:y*m.Width+x1])
	}
	return out, nil
}

package stats

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/calibcheck/calibcheck/pkg/types"
)

// Errors returned by Compute.
var (
	ErrNoUsablePixels = errors.New("stats: no usable pixels")
	ErrShapeMismatch  = errors.New("stats: mask shape differs from image")
)

// Result holds the statistics of the usable pixels of a frame.
type Result struct {
	Mean   float64
	Median float64
	Stdev  float64

	// N is the number of pixels the statistics were computed over.
	N int
	// Masked counts pixels excluded by the mask or by a non-finite value.
	Masked int
	// Total is the number of pixels in the frame.
	Total int
}

// MaskedFraction returns Masked/Total, or 0 for an empty frame.
func (r Result) MaskedFraction() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Masked) / float64(r.Total)
}

// Compute returns the statistics of img over pixels whose mask bits do not
// intersect exclude. mask may be nil, in which case only non-finite pixels
// are skipped.
func Compute(img *types.Image, mask *types.Mask, exclude types.MaskPixel) (Result, error) {
	if mask != nil && (mask.Width != img.Width || mask.Height != img.Height) {
		return Result{}, fmt.Errorf("%w: image %dx%d, mask %dx%d",
			ErrShapeMismatch, img.Width, img.Height, mask.Width, mask.Height)
	}

	values := Usable(img, mask, exclude)
	res := Result{
		N:      len(values),
		Total:  img.Len(),
		Masked: img.Len() - len(values),
	}
	if len(values) == 0 {
		return res, ErrNoUsablePixels
	}

	if len(values) == 1 {
		res.Mean = values[0]
		res.Median = values[0]
		return res, nil
	}

	res.Mean, res.Stdev = stat.MeanStdDev(values, nil)
	slices.Sort(values)
	res.Median = medianSorted(values)
	return res, nil
}

// Usable returns a fresh slice of the finite pixel values not excluded by mask.
func Usable(img *types.Image, mask *types.Mask, exclude types.MaskPixel) []float64 {
	out := make([]float64, 0, img.Len())
	for i, v := range img.Pix {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if mask != nil && mask.Pix[i]&exclude != 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Median returns the median of the usable pixels, or ErrNoUsablePixels.
func Median(img *types.Image, mask *types.Mask, exclude types.MaskPixel) (float64, error) {
	values := Usable(img, mask, exclude)
	if len(values) == 0 {
		return 0, ErrNoUsablePixels
	}
	slices.Sort(values)
	return medianSorted(values), nil
}

// MedianOf returns the median of values without modifying them.
// It returns NaN for an empty slice.
func MedianOf(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return medianSorted(sorted)
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

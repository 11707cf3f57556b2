// Package stats computes frame statistics over the pixels a mask leaves usable.
//
// Compute(img, mask, exclude) is pure: it returns the mean, median and sample
// standard deviation of every finite pixel whose mask bits do not intersect
// exclude. Mean and standard deviation come from gonum's stat package; the
// median averages the two middle values for even counts.
//
// A frame with no usable pixels yields ErrNoUsablePixels rather than NaN.
package stats

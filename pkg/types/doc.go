// Package types defines the in-memory frame types shared by every calibcheck
// package: Image, Mask, Exposure and the mask plane bits.
//
// Pixels are stored row-major: the value at column x, row y lives at index
// y*Width + x. Image, Mask and the variance plane of an Exposure always share
// the same geometry; NewExposure allocates all three together.
package types

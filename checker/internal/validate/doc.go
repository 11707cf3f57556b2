// Package validate checks that a calibrated master frame is normalized to a
// median level of 1.0.
//
// A Validator computes the statistics of the usable pixels (see package
// stats) and requires
//
//	|mean/median - 1| < stdev
//
// Failures are typed: *ToleranceError wraps ErrToleranceExceeded and carries
// the offending mean, median, stdev and deviation; frames with no usable
// pixels fail with stats.ErrNoUsablePixels; a zero median fails with
// ErrZeroMedian instead of dividing by zero.
//
// Policy.Inclusive turns the strict comparison into <=, which a perfectly
// uniform frame (stdev 0) needs in order to pass. Policy.Epsilon widens the
// bound. Policy.Rules adds "field op value" conditions evaluated after the
// tolerance check, e.g. "masked_fraction < 0.1".
package validate

// Package isr performs instrument signature removal on a raw detector frame.
//
// Config is an immutable value: NewTask copies it, and every step toggle is a
// named field documented with its default. DefaultConfig enables saturation,
// suspect, overscan, bias, variance, dark, flat, defect and bad-region steps;
// the remaining toggles (linearity, crosstalk, brighter-fatter, fringe, ...)
// exist so configuration files can name them, but Validate rejects them when
// set because no implementation is provided.
//
// Task.Run applies the enabled steps in this order:
//
//	saturation, suspect   flag raw pixels at or above the detector levels
//	overscan              subtract the per-row median of the overscan columns
//	trim                  keep the data section
//	bias                  subtract the master bias
//	variance              max(image,0)/gain + (readNoise/gain)^2
//	dark                  subtract the master dark scaled by exptime/darkTime
//	flat                  divide by the master flat; non-positive flat → BAD
//	defect                flag defect boxes BAD
//	set bad regions       replace BAD pixels with the median of good pixels
//
// Inputs are never modified; Run returns a new Exposure.
package isr

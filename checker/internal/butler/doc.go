// Package butler is the data-access layer for an on-disk calibration
// repository.
//
// Resolve(datasetType, DataID) is a pure function from a dataset type and an
// identifier to a path relative to the repository root (raw, postISRCCD) or
// the calibration root (bias, dark, flat, defects). Repository joins those
// paths to its roots and reads or writes FITS frames with astrogo/fitsio.
//
// Layout:
//
//	<root>/raw/<exposure>/raw-<exposure>-det<NNN>.fits
//	<root>/postISRCCD/<exposure>/postISRCCD-<exposure>-det<NNN>.fits
//	<calib>/bias/bias-det<NNN>.fits
//	<calib>/dark/dark-det<NNN>.fits
//	<calib>/flat/flat-det<NNN>.fits
//	<calib>/defects/defects-det<NNN>.yaml
//
// Calibration frames are held in a Cache keyed by path. An entry is reused
// until its TTL elapses or the file's modification time changes; Cache.Run
// evicts stale entries in the background.
package butler

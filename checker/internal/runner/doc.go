// Package runner drives one calibcheck pass: for every configured dataset it
// reads the raw frame and calibration products through the butler, runs ISR,
// validates the normalization of the result and records the outcome.
//
// build.go turns the YAML configuration into the ISR configs and validation
// policy the lower packages take. runner.go holds the per-dataset check and
// the reporting to the Prometheus textfile and the SQLite history.
//
// Runner.Run accepts no clock; Runner.now is swapped in tests so the
// recorded timestamps are deterministic.
package runner

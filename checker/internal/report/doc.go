// Package report writes check results as a Prometheus text exposition file,
// suitable for the node_exporter textfile collector.
//
// Each Sample becomes one labelled series (detector, exposure) in the gauge
// families below; Write renders them with expfmt and renames the file into
// place so a scraper never sees a partial write. Read parses a textfile back
// into metric families, which the tests and the CLI use to carry previous
// samples forward for datasets that were not re-checked.
//
//	calibcheck_frame_mean
//	calibcheck_frame_median
//	calibcheck_frame_stdev
//	calibcheck_frame_pixels_used
//	calibcheck_frame_masked_fraction
//	calibcheck_normalization_deviation
//	calibcheck_normalization_ok
//	calibcheck_last_run_timestamp_seconds
package report

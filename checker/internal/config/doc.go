// Package config loads and watches the calibcheck configuration file
// (calibcheck.yaml).
//
// Top-level sections:
//   - repository: package_dir_env (default CI_CPP_GEN2_DIR), root, calib_root;
//     Roots() resolves <pkgdir>/DATA and <pkgdir>/DATA/calibs
//   - detectors: per-detector gain, read_noise, saturation, suspect and the
//     overscan/data column sections
//   - isr: do_* step toggles, defaulting to the master-frame check set
//   - datasets: {detector, exposure} identifiers to check
//   - validation: exclude_planes, inclusive, epsilon, rules
//   - report, history, cache: metrics textfile, SQLite path, calibration TTL
//
// Load(path) reads the YAML file, applies defaults, then validates required
// fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It re-adds the watch after every
// reload so atomic-save editors (vim, VS Code) keep being tracked.
package config

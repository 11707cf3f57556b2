// Package history keeps a SQLite log of normalization checks so a detector's
// frame level can be tracked across runs.
package history

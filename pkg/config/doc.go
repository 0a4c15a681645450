// Package config loads and validates the runner's YAML configuration file:
// the daily start time, the ordered handler list, connection settings for the
// source and target databases, optional Redis (single-run lock) and Sentry
// (error reporting) integrations, and one section per handler with its batch
// size, cut-off time and variant-specific parameters.
//
// Handler sections are optional; a handler missing from the file runs with
// its built-in defaults. Validation is structural only (parseable times,
// positive sizes) — whether a handler knows a given parameter is decided by
// the handler factory at construction time.
package config

// Package logger builds the runner's slog loggers: JSON to stdout for
// operators tailing the nightly run, optionally fanned out to Sentry so
// handler failures surface as issues without anyone watching the logs.
package logger

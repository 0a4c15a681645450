package db

import "errors"

var (
	// ErrInvalidDSN is returned when the connection URL cannot be parsed.
	ErrInvalidDSN = errors.New("db: invalid connection string")

	// ErrConnect is returned when the pool cannot be established after all
	// retry attempts.
	ErrConnect = errors.New("db: failed to connect")

	// ErrMigrate is returned when bookkeeping migrations cannot be applied.
	ErrMigrate = errors.New("db: failed to apply migrations")
)

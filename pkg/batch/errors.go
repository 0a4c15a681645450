package batch

import "errors"

var (
	// ErrInvalidCutOff is returned when a cut-off time string cannot be
	// parsed as HH:MM or HH:MM:SS, or a component is out of range.
	ErrInvalidCutOff = errors.New("batch: invalid cut-off time")

	// ErrNilHandler is returned when a loop is constructed without a handler.
	ErrNilHandler = errors.New("batch: handler is required")

	// ErrAlreadyRan is returned when Run is called on a loop that has
	// already been run. Loops are single-use; build a new one per day.
	ErrAlreadyRan = errors.New("batch: loop already ran")
)

package artifact

import "errors"

var (
	// ErrNotFound is returned when no artifact exists for the run / id pair.
	ErrNotFound = errors.New("artifact not found")

	// ErrEmptyKey is returned when a run id or artifact id is empty.
	ErrEmptyKey = errors.New("artifact key must not be empty")
)

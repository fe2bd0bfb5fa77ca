package engine

import "errors"

var (
	// ErrNothingToUpdate is returned by UpdateStatus when the update carries no fields.
	ErrNothingToUpdate = errors.New("nothing to update")

	errIncidentRace = errors.New("active incident created concurrently")
)

const maxAggregateAttempts = 3

package tsp

import "errors"

// Failure taxonomy for the solve pipeline. Callers classify with errors.Is;
// wrapped messages carry the offending indices or values.
var (
	// ErrInvalidMatrix means the cost table handed to NewMatrix was
	// malformed: not square, a negative or non-finite entry, or a depot
	// index outside the table.
	ErrInvalidMatrix = errors.New("tsp: invalid distance matrix")

	// ErrIndexOutOfRange means a lookup referenced a location index
	// outside [0, N).
	ErrIndexOutOfRange = errors.New("tsp: location index out of range")

	// ErrNoFeasibleTour means the problem admits no tour at all, which
	// only happens with zero locations.
	ErrNoFeasibleTour = errors.New("tsp: no feasible tour")

	// ErrCorruptTour means a tour failed structural validation. It marks
	// an internal defect, never bad caller input.
	ErrCorruptTour = errors.New("tsp: corrupt tour")
)

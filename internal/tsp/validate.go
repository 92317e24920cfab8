package tsp

import "fmt"

// ValidateTour checks the structural contract every returned tour must hold:
// length N+1, the depot at both ends, and every location visited exactly
// once in between. A violation is reported as ErrCorruptTour with the
// offending detail; it signals a defect in the solve pipeline, not bad
// caller input.
func ValidateTour(m *Matrix, tour []int) error {
	n := m.Len()
	if len(tour) != n+1 {
		return fmt.Errorf("%w: length %d, want %d", ErrCorruptTour, len(tour), n+1)
	}
	if tour[0] != m.Depot() || tour[n] != m.Depot() {
		return fmt.Errorf("%w: endpoints (%d,%d), want depot %d", ErrCorruptTour, tour[0], tour[n], m.Depot())
	}
	seen := make([]bool, n)
	for pos, v := range tour[:n] {
		if v < 0 || v >= n {
			return fmt.Errorf("%w: position %d holds %d, outside [0,%d)", ErrCorruptTour, pos, v, n)
		}
		if seen[v] {
			return fmt.Errorf("%w: location %d visited more than once", ErrCorruptTour, v)
		}
		seen[v] = true
	}
	return nil
}

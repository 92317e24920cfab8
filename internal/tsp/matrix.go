package tsp

import (
	"fmt"
	"math"
)

// Matrix is an immutable table of pairwise travel costs with a designated
// depot. Costs need not be symmetric. The diagonal is pinned to zero; a tour
// never travels a self-arc except in the degenerate one-location tour.
// A Matrix is safe for concurrent readers.
type Matrix struct {
	n     int
	depot int
	w     []float64 // row-major, len n*n
}

// NewMatrix copies costs into a validated Matrix. The table must be square
// with non-negative finite entries and the depot inside [0, len(costs)).
// An empty table has no tour at all and fails with ErrNoFeasibleTour.
func NewMatrix(costs [][]float64, depot int) (*Matrix, error) {
	n := len(costs)
	if n == 0 {
		return nil, fmt.Errorf("%w: zero locations", ErrNoFeasibleTour)
	}
	if depot < 0 || depot >= n {
		return nil, fmt.Errorf("%w: depot %d outside [0,%d)", ErrInvalidMatrix, depot, n)
	}
	w := make([]float64, n*n)
	for i, row := range costs {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidMatrix, i, len(row), n)
		}
		for j, c := range row {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return nil, fmt.Errorf("%w: cost[%d][%d] = %v is not finite", ErrInvalidMatrix, i, j, c)
			}
			if c < 0 {
				return nil, fmt.Errorf("%w: cost[%d][%d] = %v is negative", ErrInvalidMatrix, i, j, c)
			}
			if i == j {
				continue // self-cost pinned to zero
			}
			w[i*n+j] = c
		}
	}
	return &Matrix{n: n, depot: depot, w: w}, nil
}

// Len returns the number of locations.
func (m *Matrix) Len() int { return m.n }

// Depot returns the designated start/end location.
func (m *Matrix) Depot() int { return m.depot }

// Cost returns the travel cost from i to j.
func (m *Matrix) Cost(i, j int) (float64, error) {
	if i < 0 || i >= m.n || j < 0 || j >= m.n {
		return 0, fmt.Errorf("%w: (%d,%d) with %d locations", ErrIndexOutOfRange, i, j, m.n)
	}
	return m.w[i*m.n+j], nil
}

// TourCost sums the consecutive edge costs along tour. It is the reference
// figure every solve answer is checked against.
func (m *Matrix) TourCost(tour []int) (float64, error) {
	total := 0.0
	for t := 1; t < len(tour); t++ {
		c, err := m.Cost(tour[t-1], tour[t])
		if err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}

// at is the unchecked hot-path accessor. Callers own the bounds.
func (m *Matrix) at(i, j int) float64 { return m.w[i*m.n+j] }

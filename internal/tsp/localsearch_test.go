package tsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMatrix(t *testing.T, costs [][]float64, depot int) *Matrix {
	t.Helper()
	m, err := NewMatrix(costs, depot)
	require.NoError(t, err)
	return m
}

func TestReverseRange(t *testing.T) {
	tour := []int{0, 1, 2, 3, 4, 0}
	reverseRange(tour, 1, 4)
	assert.Equal(t, []int{0, 4, 3, 2, 1, 0}, tour)

	reverseRange(tour, 2, 3)
	assert.Equal(t, []int{0, 4, 2, 3, 1, 0}, tour)
}

func TestRelocate(t *testing.T) {
	m := mustMatrix(t, pseudoMatrix(5, 1), 0)

	s := newSearch(m, []int{0, 1, 2, 3, 4, 0})
	s.relocate(1, 2, 3) // [1 2] moves to sit after 3
	assert.Equal(t, []int{0, 3, 1, 2, 4, 0}, s.tour)

	s = newSearch(m, []int{0, 1, 2, 3, 4, 0})
	s.relocate(3, 4, 0) // [3 4] moves to the front
	assert.Equal(t, []int{0, 3, 4, 1, 2, 0}, s.tour)

	s = newSearch(m, []int{0, 1, 2, 3, 4, 0})
	s.relocate(2, 2, 4) // single location hops forward
	assert.Equal(t, []int{0, 1, 3, 4, 2, 0}, s.tour)
}

// Every 2-opt delta must equal the cost difference measured by actually
// reversing the segment, even on an asymmetric matrix where the interior
// arcs change direction.
func TestTwoOptDeltaMatchesRecompute(t *testing.T) {
	m := mustMatrix(t, pseudoMatrix(9, 42), 0)
	s := newSearch(m, CheapestArc(m))
	n := len(s.tour) - 1

	before, err := m.TourCost(s.tour)
	require.NoError(t, err)

	for i := 1; i <= n-2; i++ {
		for k := i + 1; k <= n-1; k++ {
			cp := append([]int(nil), s.tour...)
			reverseRange(cp, i, k)
			after, err := m.TourCost(cp)
			require.NoError(t, err)
			assert.InDelta(t, after-before, s.twoOptDelta(i, k), 1e-9, "i=%d k=%d", i, k)
		}
	}
}

func TestOrOptDeltaMatchesRecompute(t *testing.T) {
	m := mustMatrix(t, pseudoMatrix(8, 7), 0)
	s := newSearch(m, CheapestArc(m))
	n := len(s.tour) - 1

	before, err := m.TourCost(s.tour)
	require.NoError(t, err)

	for l := 1; l <= 3; l++ {
		for i := 1; i+l-1 <= n-1; i++ {
			j := i + l - 1
			for p := 0; p <= n-1; p++ {
				if p >= i-1 && p <= j {
					continue
				}
				cp := newSearch(m, append([]int(nil), s.tour...))
				cp.relocate(i, j, p)
				after, err := m.TourCost(cp.tour)
				require.NoError(t, err)
				assert.InDelta(t, after-before, s.orOptDelta(i, j, p), 1e-9, "i=%d j=%d p=%d", i, j, p)
			}
		}
	}
}

// The incremental accumulator must track the true tour cost through a whole
// run of applied moves.
func TestIncrementalCostStaysTrue(t *testing.T) {
	m := mustMatrix(t, pseudoMatrix(12, 99), 0)
	s := newSearch(m, CheapestArc(m))

	for {
		mv, ok := s.findMove(Options{})
		if !ok {
			break
		}
		s.apply(mv)
		want, err := m.TourCost(s.tour)
		require.NoError(t, err)
		require.InDelta(t, want, s.cost, 1e-9)
		require.NoError(t, ValidateTour(m, s.tour))
	}
}

// A greedy seed that takes the cheap chain and pays for it on the way home
// must be repaired by a single segment reversal.
func TestTwoOptRepairsGreedyTrap(t *testing.T) {
	m := mustMatrix(t, [][]float64{
		{0, 1, 2.5, 2},
		{1, 0, 1, 2.5},
		{2.5, 1, 0, 5},
		{2, 2.5, 5, 0},
	}, 0)

	seed := CheapestArc(m)
	assert.Equal(t, []int{0, 1, 2, 3, 0}, seed)
	seedCost, err := m.TourCost(seed)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, seedCost, 1e-12)

	s := newSearch(m, seed)
	mv, ok := s.findMove(Options{})
	require.True(t, ok)
	s.apply(mv)
	assert.Equal(t, []int{0, 2, 1, 3, 0}, s.tour)
	assert.InDelta(t, 8.0, s.cost, 1e-9)
}

func TestParallelScanMatchesSerial(t *testing.T) {
	m := mustMatrix(t, pseudoMatrix(14, 3), 0)
	s := newSearch(m, CheapestArc(m))

	for _, policy := range []Policy{PolicyFirstImprovement, PolicyBestImprovement} {
		want, wantOK := s.findTwoOpt(policy)
		for workers := 2; workers <= 5; workers++ {
			got, gotOK := s.findTwoOptParallel(policy, workers)
			require.Equal(t, wantOK, gotOK, "policy=%s workers=%d", policy, workers)
			require.Equal(t, want, got, "policy=%s workers=%d", policy, workers)
		}
	}
}

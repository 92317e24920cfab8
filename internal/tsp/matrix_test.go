package tsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMatrix(t *testing.T) {
	m, err := NewMatrix([][]float64{
		{0, 2, 9},
		{1, 0, 6},
		{7, 3, 0},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 0, m.Depot())

	c, err := m.Cost(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 6.0, c)

	// asymmetry is preserved, not mirrored
	c, err = m.Cost(2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, c)
}

func TestNewMatrixCopiesInput(t *testing.T) {
	costs := [][]float64{
		{0, 4},
		{5, 0},
	}
	m, err := NewMatrix(costs, 0)
	require.NoError(t, err)

	costs[0][1] = 999
	c, err := m.Cost(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 4.0, c)
}

func TestNewMatrixPinsDiagonal(t *testing.T) {
	m, err := NewMatrix([][]float64{
		{7, 1},
		{1, 2},
	}, 1)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		c, err := m.Cost(i, i)
		require.NoError(t, err)
		assert.Zero(t, c)
	}
}

func TestNewMatrixRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		costs [][]float64
		depot int
		want  error
	}{
		{"not square", [][]float64{{0, 1}, {1, 0}, {2, 2}}, 0, ErrInvalidMatrix},
		{"ragged row", [][]float64{{0, 1}, {1}}, 0, ErrInvalidMatrix},
		{"negative", [][]float64{{0, -1}, {1, 0}}, 0, ErrInvalidMatrix},
		{"negative diagonal", [][]float64{{-3, 1}, {1, 0}}, 0, ErrInvalidMatrix},
		{"nan", [][]float64{{0, math.NaN()}, {1, 0}}, 0, ErrInvalidMatrix},
		{"inf", [][]float64{{0, math.Inf(1)}, {1, 0}}, 0, ErrInvalidMatrix},
		{"depot high", [][]float64{{0, 1}, {1, 0}}, 2, ErrInvalidMatrix},
		{"depot negative", [][]float64{{0, 1}, {1, 0}}, -1, ErrInvalidMatrix},
		{"zero locations", [][]float64{}, 0, ErrNoFeasibleTour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMatrix(tc.costs, tc.depot)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCostOutOfRange(t *testing.T) {
	m, err := NewMatrix([][]float64{
		{0, 1},
		{1, 0},
	}, 0)
	require.NoError(t, err)

	for _, pair := range [][2]int{{-1, 0}, {0, -1}, {2, 0}, {0, 2}} {
		_, err := m.Cost(pair[0], pair[1])
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
	}
}

func TestTourCost(t *testing.T) {
	m, err := NewMatrix([][]float64{
		{0, 2, 9},
		{1, 0, 6},
		{7, 3, 0},
	}, 0)
	require.NoError(t, err)

	c, err := m.TourCost([]int{0, 1, 2, 0})
	require.NoError(t, err)
	assert.Equal(t, 2.0+6+7, c)

	_, err = m.TourCost([]int{0, 3, 0})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

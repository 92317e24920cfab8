package tsp

import "math"

// CheapestArc seeds a closed tour: start at the depot, repeatedly follow the
// cheapest arc from the current position to an unvisited location, then close
// back to the depot. Ties go to the smaller index so runs are reproducible.
// O(N²) over the matrix, no randomness.
func CheapestArc(m *Matrix) []int {
	n := m.Len()
	tour := make([]int, 0, n+1)
	visited := make([]bool, n)

	cur := m.Depot()
	visited[cur] = true
	tour = append(tour, cur)

	for len(tour) < n {
		next := -1
		best := math.Inf(1)
		for j := 0; j < n; j++ {
			if visited[j] {
				continue
			}
			if c := m.at(cur, j); c < best {
				best, next = c, j
			}
		}
		visited[next] = true
		tour = append(tour, next)
		cur = next
	}
	return append(tour, m.Depot())
}

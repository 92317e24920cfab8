package tsp

import "golang.org/x/sync/errgroup"

// improveEps guards against float rounding oscillation: a move is accepted
// only when it lowers the tour cost by more than this.
const improveEps = 1e-9

type moveKind uint8

const (
	moveTwoOpt moveKind = iota
	moveOrOpt
)

// move is one candidate neighborhood step. For 2-opt, positions i..j are
// reversed. For or-opt, the segment at positions i..j is reinserted after
// position p with its orientation kept.
type move struct {
	kind  moveKind
	i, j  int
	p     int
	delta float64
}

// search carries the mutable state of one optimization run: the closed tour,
// its incrementally tracked cost, and forward/reverse arc prefix sums over
// the current order. The prefixes make every candidate delta O(1) even on
// asymmetric matrices, where reversing a segment changes its interior arcs.
type search struct {
	m    *Matrix
	tour []int
	cost float64
	fwd  []float64 // fwd[t] = cost of arcs tour[0]→…→tour[t]
	rev  []float64 // rev[t] = cost of the same arcs walked backwards
}

func newSearch(m *Matrix, tour []int) *search {
	s := &search{
		m:    m,
		tour: tour,
		fwd:  make([]float64, len(tour)),
		rev:  make([]float64, len(tour)),
	}
	s.reindex()
	s.cost = s.fwd[len(tour)-1]
	return s
}

// reindex rebuilds both prefix arrays. Called once per applied move, O(N).
func (s *search) reindex() {
	for t := 1; t < len(s.tour); t++ {
		a, b := s.tour[t-1], s.tour[t]
		s.fwd[t] = s.fwd[t-1] + s.m.at(a, b)
		s.rev[t] = s.rev[t-1] + s.m.at(b, a)
	}
}

// twoOptDelta is the cost change from reversing tour positions i..k,
// 1 <= i < k <= n-1. The bracketing arcs swap endpoints and the interior
// arcs flip direction; fwd/rev supply both interior sums in O(1). On a
// symmetric matrix the interior terms cancel into the classic four-edge
// formula.
func (s *search) twoOptDelta(i, k int) float64 {
	t := s.tour
	removed := s.m.at(t[i-1], t[i]) + s.m.at(t[k], t[k+1]) + (s.fwd[k] - s.fwd[i])
	added := s.m.at(t[i-1], t[k]) + s.m.at(t[i], t[k+1]) + (s.rev[k] - s.rev[i])
	return added - removed
}

// orOptDelta is the cost change from relocating the segment at positions
// i..j to sit after position p, orientation preserved. Three arcs are cut
// and three are spliced; interior arcs are untouched, so this is exact for
// asymmetric matrices too.
func (s *search) orOptDelta(i, j, p int) float64 {
	t := s.tour
	removed := s.m.at(t[i-1], t[i]) + s.m.at(t[j], t[j+1]) + s.m.at(t[p], t[p+1])
	added := s.m.at(t[i-1], t[j+1]) + s.m.at(t[p], t[i]) + s.m.at(t[j], t[p+1])
	return added - removed
}

// findMove runs one full pass over the enabled neighborhoods in a fixed
// order (2-opt first, then or-opt) and reports the winning move. Under
// first-improvement the lowest-indexed improving candidate wins; under
// best-improvement the lowest delta wins, ties to the earlier candidate.
func (s *search) findMove(opts Options) (move, bool) {
	var best move
	found := false
	if opts.Moves != MovesOrOpt {
		var mv move
		var ok bool
		if opts.Workers > 1 {
			mv, ok = s.findTwoOptParallel(opts.Policy, opts.Workers)
		} else {
			mv, ok = s.findTwoOpt(opts.Policy)
		}
		if ok {
			if opts.Policy == PolicyFirstImprovement {
				return mv, true
			}
			best, found = mv, true
		}
	}
	if opts.Moves != MovesTwoOpt {
		if mv, ok := s.findOrOpt(opts.Policy); ok {
			if opts.Policy == PolicyFirstImprovement {
				return mv, true
			}
			if !found || mv.delta < best.delta {
				best, found = mv, true
			}
		}
	}
	return best, found
}

// findTwoOpt scans segment reversals in row-major (i,k) order.
func (s *search) findTwoOpt(policy Policy) (move, bool) {
	n := len(s.tour) - 1
	var best move
	found := false
	for i := 1; i <= n-2; i++ {
		for k := i + 1; k <= n-1; k++ {
			d := s.twoOptDelta(i, k)
			if d < -improveEps && (!found || d < best.delta) {
				best = move{kind: moveTwoOpt, i: i, j: k, delta: d}
				found = true
				if policy == PolicyFirstImprovement {
					return best, true
				}
			}
		}
	}
	return best, found
}

// findTwoOptParallel splits the (i,k) scan across workers; worker w owns the
// rows i ≡ w (mod workers). Each reports its winning candidate and the
// reduction picks the overall winner with the same tie rules as the serial
// scan, so the chosen move is bit-identical to a single-goroutine run.
func (s *search) findTwoOptParallel(policy Policy, workers int) (move, bool) {
	n := len(s.tour) - 1
	cands := make([]move, workers)
	founds := make([]bool, workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			var best move
			found := false
			for i := 1 + w; i <= n-2; i += workers {
				for k := i + 1; k <= n-1; k++ {
					d := s.twoOptDelta(i, k)
					if d < -improveEps && (!found || d < best.delta) {
						best = move{kind: moveTwoOpt, i: i, j: k, delta: d}
						found = true
						if policy == PolicyFirstImprovement {
							cands[w], founds[w] = best, true
							return nil
						}
					}
				}
			}
			cands[w], founds[w] = best, found
			return nil
		})
	}
	_ = g.Wait()

	var best move
	found := false
	for w := 0; w < workers; w++ {
		if !founds[w] {
			continue
		}
		mv := cands[w]
		if !found || better(policy, mv, best) {
			best, found = mv, true
		}
	}
	return best, found
}

// better orders two improving candidates the way the serial scan would have
// encountered them: first-improvement prefers the earlier (i,k); best
// prefers the lower delta, ties to the earlier (i,k).
func better(policy Policy, a, b move) bool {
	if policy == PolicyFirstImprovement {
		return a.i < b.i || (a.i == b.i && a.j < b.j)
	}
	if a.delta != b.delta {
		return a.delta < b.delta
	}
	return a.i < b.i || (a.i == b.i && a.j < b.j)
}

// findOrOpt scans segment relocations: lengths 1..3, then segment start,
// then insertion arc, all ascending.
func (s *search) findOrOpt(policy Policy) (move, bool) {
	n := len(s.tour) - 1
	var best move
	found := false
	for l := 1; l <= 3; l++ {
		for i := 1; i+l-1 <= n-1; i++ {
			j := i + l - 1
			for p := 0; p <= n-1; p++ {
				// arcs inside or bordering the segment would be cut twice
				if p >= i-1 && p <= j {
					continue
				}
				d := s.orOptDelta(i, j, p)
				if d < -improveEps && (!found || d < best.delta) {
					best = move{kind: moveOrOpt, i: i, j: j, p: p, delta: d}
					found = true
					if policy == PolicyFirstImprovement {
						return best, true
					}
				}
			}
		}
	}
	return best, found
}

// apply mutates the tour with mv, refreshes the prefixes, and folds the
// precomputed delta into the running cost.
func (s *search) apply(mv move) {
	switch mv.kind {
	case moveTwoOpt:
		reverseRange(s.tour, mv.i, mv.j)
	case moveOrOpt:
		s.relocate(mv.i, mv.j, mv.p)
	}
	s.reindex()
	s.cost += mv.delta
}

// relocate moves tour positions i..j to sit directly after position p.
func (s *search) relocate(i, j, p int) {
	seg := make([]int, j-i+1)
	copy(seg, s.tour[i:j+1])

	rest := make([]int, 0, len(s.tour)-len(seg))
	rest = append(rest, s.tour[:i]...)
	rest = append(rest, s.tour[j+1:]...)

	// the insertion anchor shifts left when the segment sat before it
	ip := p
	if p > j {
		ip = p - len(seg)
	}

	out := make([]int, 0, len(s.tour))
	out = append(out, rest[:ip+1]...)
	out = append(out, seg...)
	out = append(out, rest[ip+1:]...)
	copy(s.tour, out)
}

func reverseRange(tour []int, i, j int) {
	for a, b := i, j; a < b; a, b = a+1, b-1 {
		tour[a], tour[b] = tour[b], tour[a]
	}
}

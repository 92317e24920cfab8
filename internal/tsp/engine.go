package tsp

import (
	"context"
	"fmt"
	"time"
)

// Policy selects how a pass picks among improving moves.
type Policy uint8

const (
	// PolicyFirstImprovement applies the first improving candidate in scan
	// order. Default.
	PolicyFirstImprovement Policy = iota
	// PolicyBestImprovement scans the whole neighborhood and applies the
	// candidate with the lowest delta.
	PolicyBestImprovement
)

func (p Policy) String() string {
	if p == PolicyBestImprovement {
		return "best"
	}
	return "first"
}

// ParsePolicy maps the wire/config names onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "first":
		return PolicyFirstImprovement, nil
	case "best":
		return PolicyBestImprovement, nil
	}
	return PolicyFirstImprovement, fmt.Errorf("unknown selection policy %q", s)
}

// MoveSet selects which neighborhoods local search may use.
type MoveSet uint8

const (
	// MovesAll enables 2-opt and or-opt. Default.
	MovesAll MoveSet = iota
	// MovesTwoOpt restricts search to segment reversals.
	MovesTwoOpt
	// MovesOrOpt restricts search to segment relocations.
	MovesOrOpt
)

func (ms MoveSet) String() string {
	switch ms {
	case MovesTwoOpt:
		return "two_opt"
	case MovesOrOpt:
		return "or_opt"
	}
	return "all"
}

// ParseMoveSet maps the wire/config names onto a MoveSet.
func ParseMoveSet(s string) (MoveSet, error) {
	switch s {
	case "", "all":
		return MovesAll, nil
	case "two_opt":
		return MovesTwoOpt, nil
	case "or_opt":
		return MovesOrOpt, nil
	}
	return MovesAll, fmt.Errorf("unknown move set %q", s)
}

// Options tune a solve. The zero value runs both neighborhoods with
// first-improvement on a single goroutine until a local optimum.
type Options struct {
	Moves      MoveSet
	Policy     Policy
	MaxPasses  int           // 0 = run to local optimum
	TimeBudget time.Duration // 0 = no limit
	Workers    int           // >1 parallelizes the 2-opt candidate scan
}

// Stats describes how a solve went.
type Stats struct {
	Passes      int     `json:"passes"`
	TwoOptMoves int     `json:"twoOptMoves"`
	OrOptMoves  int     `json:"orOptMoves"`
	InitialCost float64 `json:"initialCost"`
	FinalCost   float64 `json:"finalCost"`
	ElapsedMs   int64   `json:"elapsedMs"`
}

// Result is a validated closed tour and its cost. Tour holds location
// indices, depot first and last; Cost is recomputed from the matrix, not
// taken from the incremental accumulator.
type Result struct {
	Tour  []int   `json:"tour"`
	Cost  float64 `json:"cost"`
	Stats Stats   `json:"stats"`
}

// Solve seeds a tour with CheapestArc and improves it with 2-opt/or-opt
// passes until a local optimum or an exhausted budget, whichever comes
// first. Budgets and ctx cancellation are honored between passes only, so
// the tour handed back is always fully updated; running out of budget
// returns the best tour seen, not an error. Identical inputs yield
// bit-identical results, including with Workers > 1.
func Solve(ctx context.Context, m *Matrix, opts Options) (Result, error) {
	start := time.Now()
	if m == nil || m.Len() == 0 {
		return Result{}, fmt.Errorf("%w: zero locations", ErrNoFeasibleTour)
	}

	s := newSearch(m, CheapestArc(m))
	st := Stats{InitialCost: s.cost}

	var deadline time.Time
	if opts.TimeBudget > 0 {
		deadline = start.Add(opts.TimeBudget)
	}
	for {
		if opts.MaxPasses > 0 && st.Passes >= opts.MaxPasses {
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		mv, ok := s.findMove(opts)
		st.Passes++
		if !ok {
			break
		}
		s.apply(mv)
		if mv.kind == moveTwoOpt {
			st.TwoOptMoves++
		} else {
			st.OrOptMoves++
		}
	}

	if err := ValidateTour(m, s.tour); err != nil {
		return Result{}, fmt.Errorf("%w (passes=%d moves=%d/%d)", err, st.Passes, st.TwoOptMoves, st.OrOptMoves)
	}
	cost, err := m.TourCost(s.tour)
	if err != nil {
		return Result{}, err
	}
	st.FinalCost = cost
	st.ElapsedMs = time.Since(start).Milliseconds()
	return Result{Tour: s.tour, Cost: cost, Stats: st}, nil
}

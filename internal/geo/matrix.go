package geo

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Builder assembles the full pairwise travel-cost table for a set of points
// by querying the directions provider for every ordered pair. Lookups fan
// out on a bounded errgroup; each goroutine writes only its own cell, so the
// table needs no locking. OnProgress, when set, is called after every
// completed cell with the running count.
type Builder struct {
	Client      *Client
	Concurrency int
	OnProgress  func(done, total int)
}

// Build returns an n×n matrix of kilometers with a zero diagonal. The first
// failed lookup cancels the remaining ones.
func (b *Builder) Build(ctx context.Context, pts []Point) ([][]float64, error) {
	n := len(pts)
	costs := make([][]float64, n)
	for i := range costs {
		costs[i] = make([]float64, n)
	}
	total := n*n - n
	var mu sync.Mutex
	done := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit())
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			g.Go(func() error {
				d, err := b.Client.Distance(ctx, pts[i], pts[j])
				if err != nil {
					return fmt.Errorf("distance %d->%d: %w", i, j, err)
				}
				costs[i][j] = d
				if b.OnProgress != nil {
					mu.Lock()
					done++
					cur := done
					mu.Unlock()
					b.OnProgress(cur, total)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return costs, nil
}

func (b *Builder) limit() int {
	if b.Concurrency > 0 {
		return b.Concurrency
	}
	return 8
}

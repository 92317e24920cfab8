package api

import (
    "context"
    "errors"
    "fmt"
    "time"

    "tourplan/internal/geo"
    "tourplan/internal/metrics"
    "tourplan/internal/model"
    "tourplan/internal/store"
    "tourplan/internal/tsp"
)

// runPlan drives a plan through geocode -> matrix -> solve in the
// background. Each stage transition is published on the event broker;
// completion and failure also fan out to webhook subscribers.
func (s *Server) runPlan(id string) {
    ctx := context.Background()
    plan, err := s.Store.GetPlan(ctx, id)
    if err != nil { return }

    fail := func(stage string, err error) {
        msg := fmt.Sprintf("%s: %v", stage, err)
        _ = s.Store.SetPlanStatus(ctx, id, model.PlanFailed, msg)
        data := map[string]any{"planId": id, "stage": stage, "error": err.Error()}
        s.Broker.Publish(id, SSEEvent{Type: "plan.failed", Data: data})
        s.Pub.Emit(ctx, "plan.failed", data)
        metrics.Solves.WithLabelValues("plan", "error").Inc()
    }

    // setStage returns false when the plan vanished mid-run (deleted);
    // the runner then stops quietly.
    setStage := func(status, event string) bool {
        if err := s.Store.SetPlanStatus(ctx, id, status, ""); err != nil { return false }
        s.Broker.Publish(id, SSEEvent{Type: event, Data: map[string]any{"planId": id, "status": status}})
        return true
    }

    start := time.Now()

    if !setStage(model.PlanGeocoding, "plan.geocoding") { return }
    pts := make([]geo.Point, len(plan.Locations))
    for i, loc := range plan.Locations {
        if loc.Point != nil {
            pts[i] = geo.Point{Lat: loc.Point.Lat, Lng: loc.Point.Lng}
            continue
        }
        if p, ok := s.Cache.Get(loc.Address); ok {
            pts[i] = p
            continue
        }
        if s.Geo == nil {
            fail("geocoding", fmt.Errorf("location %d has no coordinates and no geocoding provider is configured", i))
            return
        }
        p, err := s.Geo.Geocode(ctx, loc.Address)
        if err != nil {
            fail("geocoding", fmt.Errorf("%q: %w", loc.Address, err))
            return
        }
        s.Cache.Put(loc.Address, p)
        pts[i] = p
    }

    if !setStage(model.PlanBuilding, "plan.building") { return }
    var w [][]float64
    if plan.Source == model.SourceAPI {
        if s.Geo == nil {
            fail("building", errors.New("no routing provider configured"))
            return
        }
        b := geo.Builder{
            Client:      s.Geo,
            Concurrency: s.effectiveSolverConfig(ctx).MatrixConcurrency,
            OnProgress: func(done, total int) {
                step := total/20 + 1
                if done%step == 0 || done == total {
                    s.Broker.Publish(id, SSEEvent{Type: "plan.matrix.progress", Data: map[string]any{"planId": id, "done": done, "total": total}})
                }
            },
        }
        w, err = b.Build(ctx, pts)
        if err != nil {
            fail("building", err)
            return
        }
    } else {
        w = geo.BuildHaversineMatrix(pts)
    }
    m, err := tsp.NewMatrix(w, plan.Depot)
    if err != nil {
        fail("building", err)
        return
    }

    if !setStage(model.PlanSolving, "plan.solving") { return }
    opts, err := engineOptions(s.mergeOptions(ctx, plan.Options))
    if err != nil {
        fail("solving", err)
        return
    }
    res, err := tsp.Solve(ctx, m, opts)
    if err != nil {
        fail("solving", err)
        return
    }

    names := make([]string, len(plan.Locations))
    for i, loc := range plan.Locations {
        names[i] = loc.Name
        if names[i] == "" { names[i] = loc.Address }
    }
    stops := make([]string, len(res.Tour))
    for i, idx := range res.Tour { stops[i] = names[idx] }
    legs := make([]model.Leg, 0, len(res.Tour))
    for i := 0; i+1 < len(res.Tour); i++ {
        from, to := res.Tour[i], res.Tour[i+1]
        legs = append(legs, model.Leg{From: names[from], To: names[to], Km: w[from][to]})
    }
    result := model.TourResult{
        Order:   res.Tour,
        Stops:   stops,
        Legs:    legs,
        TotalKm: res.Cost,
        Stats:   solveStats(res.Stats),
    }
    if err := s.Store.SavePlanResult(ctx, id, result); err != nil {
        if !errors.Is(err, store.ErrNotFound) { fail("saving", err) }
        return
    }
    data := map[string]any{"planId": id, "totalKm": res.Cost, "stops": len(plan.Locations)}
    s.Broker.Publish(id, SSEEvent{Type: "plan.completed", Data: data})
    s.Pub.Emit(ctx, "plan.completed", data)
    metrics.Solves.WithLabelValues("plan", "ok").Inc()
    metrics.SolveDuration.WithLabelValues("plan").Observe(time.Since(start).Seconds())
    if res.Stats.InitialCost > 0 {
        metrics.SolveImprovement.Observe((res.Stats.InitialCost - res.Stats.FinalCost) / res.Stats.InitialCost)
    }
}

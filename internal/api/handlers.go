package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "tourplan/internal/ingest"
    "tourplan/internal/metrics"
    "tourplan/internal/model"
    "tourplan/internal/store"
    "tourplan/internal/tsp"
)

// SolveHandler handles POST /v1/solve: a synchronous matrix-in/tour-out run.
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
    var req model.SolveRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateSolveRequest(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid solve request", err.Error(), r.URL.Path)
        return
    }
    m, err := tsp.NewMatrix(req.Matrix, req.Depot)
    if err != nil {
        if errors.Is(err, tsp.ErrNoFeasibleTour) {
            writeProblem(w, http.StatusUnprocessableEntity, "No feasible tour", err.Error(), r.URL.Path)
            return
        }
        writeProblem(w, http.StatusBadRequest, "Invalid matrix", err.Error(), r.URL.Path)
        return
    }
    merged := s.mergeOptions(r.Context(), req.Options)
    opts, err := engineOptions(merged)
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid solve options", err.Error(), r.URL.Path)
        return
    }
    start := time.Now()
    res, err := tsp.Solve(r.Context(), m, opts)
    if err != nil {
        metrics.Solves.WithLabelValues("solve", "error").Inc()
        if errors.Is(err, tsp.ErrNoFeasibleTour) {
            writeProblem(w, http.StatusUnprocessableEntity, "No feasible tour", err.Error(), r.URL.Path)
            return
        }
        writeProblem(w, http.StatusInternalServerError, "Solve failed", err.Error(), r.URL.Path)
        return
    }
    metrics.Solves.WithLabelValues("solve", "ok").Inc()
    metrics.SolveDuration.WithLabelValues("solve").Observe(time.Since(start).Seconds())
    if res.Stats.InitialCost > 0 {
        metrics.SolveImprovement.Observe((res.Stats.InitialCost - res.Stats.FinalCost) / res.Stats.InitialCost)
    }
    writeJSON(w, http.StatusOK, model.SolveResponse{Tour: res.Tour, Cost: res.Cost, Stats: solveStats(res.Stats)})
}

// PlansHandler handles POST/GET /v1/plans
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        var req model.PlanRequest
        if strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
            locs, err := ingest.ParseLocations(r.Body)
            if err != nil {
                writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
                return
            }
            req.Locations = locs
            req.Name = r.URL.Query().Get("name")
            req.Source = r.URL.Query().Get("source")
            if v := r.URL.Query().Get("depot"); v != "" { fmt.Sscanf(v, "%d", &req.Depot) }
        } else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validatePlanRequest(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid plan request", err.Error(), r.URL.Path)
            return
        }
        if req.Source == "" { req.Source = model.SourceHaversine }
        plan, err := s.Store.CreatePlan(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create plan failed", err.Error(), r.URL.Path)
            return
        }
        go s.runPlan(plan.ID)
        writeJSON(w, http.StatusAccepted, plan)
    case http.MethodGet:
        status := r.URL.Query().Get("status")
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListPlans(r.Context(), status, cursor, limit)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List plans failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// PlanByIDHandler handles GET/DELETE /v1/plans/{id}
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
    if id == "" || strings.Contains(id, "/") {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    switch r.Method {
    case http.MethodGet:
        plan, err := s.Store.GetPlan(r.Context(), id)
        if err != nil {
            writeProblem(w, http.StatusNotFound, "Plan not found", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, plan)
    case http.MethodDelete:
        p := s.getPrincipal(r)
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        if err := s.Store.DeletePlan(r.Context(), id); err != nil {
            if errors.Is(err, store.ErrNotFound) {
                writeProblem(w, http.StatusNotFound, "Plan not found", err.Error(), r.URL.Path)
                return
            }
            writeProblem(w, http.StatusInternalServerError, "Delete plan failed", err.Error(), r.URL.Path)
            return
        }
        w.WriteHeader(204)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// EventsStreamHandler handles GET /v1/events/stream?plan={id} (SSE)
func (s *Server) EventsStreamHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    planID := r.URL.Query().Get("plan")
    if planID == "" {
        writeProblem(w, http.StatusBadRequest, "Missing plan", "plan query parameter required", r.URL.Path)
        return
    }
    if _, err := s.Store.GetPlan(r.Context(), planID); err != nil {
        writeProblem(w, http.StatusNotFound, "Plan not found", err.Error(), r.URL.Path)
        return
    }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(planID)
    defer s.Broker.Unsubscribe(planID, ch)
    // initial heartbeat
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"planId\":\"%s\",\"ts\":\"%s\"}\n\n", planID, time.Now().Format(time.RFC3339))
    flusher.Flush()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt, open := <-ch:
            if !open { return }
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"planId\":\"%s\",\"ts\":\"%s\"}\n\n", planID, time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events required", r.URL.Path)
            return
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        p := s.getPrincipal(r)
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), cursor, limit)
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id} (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
        if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Subscription not found", err.Error(), r.URL.Path); return }
        writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path)
        return
    }
    w.WriteHeader(204)
}

// SolverConfigHandler returns the effective solver defaults
func (s *Server) SolverConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/solver/config" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    cfg := s.effectiveSolverConfig(r.Context())
    writeJSON(w, 200, map[string]any{"defaults": cfg.Defaults, "matrixConcurrency": cfg.MatrixConcurrency})
}

// AdminSolverConfigHandler gets/sets the stored solver config overlay
func (s *Server) AdminSolverConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/solver/config" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodGet:
        cfg, err := s.Store.GetSolverConfig(r.Context())
        if err != nil { writeProblem(w, 500, "Load config failed", err.Error(), r.URL.Path); return }
        if cfg == nil { cfg = &model.SolverConfig{} }
        writeJSON(w, 200, map[string]any{"config": cfg})
    case http.MethodPut:
        var body struct {
            Config *model.SolverConfig `json:"config"`
        }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
        if body.Config == nil { writeProblem(w, 400, "Missing config", "", r.URL.Path); return }
        if err := validateSolveOptions(&body.Config.Defaults); err != nil { writeProblem(w, 400, "Invalid solver config", err.Error(), r.URL.Path); return }
        if body.Config.MatrixConcurrency < 0 { writeProblem(w, 400, "Invalid solver config", "matrixConcurrency must be non-negative", r.URL.Path); return }
        if err := s.Store.SaveSolverConfig(r.Context(), *body.Config); err != nil { writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]bool{"ok": true})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), status, cursor, limit)
    if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
    if err := s.Store.RetryWebhookDelivery(r.Context(), id); err != nil {
        if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Delivery not found", err.Error(), r.URL.Path); return }
        writeProblem(w, 500, "Retry delivery failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, 202, map[string]int{"accepted": 1})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

// effectiveSolverConfig overlays the stored config on the boot defaults.
func (s *Server) effectiveSolverConfig(ctx context.Context) model.SolverConfig {
    eff := model.SolverConfig{
        Defaults: model.SolveOptions{
            Moves:        s.Cfg.Solver.Moves,
            Selection:    s.Cfg.Solver.Selection,
            MaxPasses:    s.Cfg.Solver.MaxPasses,
            TimeBudgetMs: s.Cfg.Solver.TimeBudgetMs,
            Workers:      s.Cfg.Solver.Workers,
        },
        MatrixConcurrency: s.Cfg.MatrixConcurrency,
    }
    stored, err := s.Store.GetSolverConfig(ctx)
    if err != nil || stored == nil { return eff }
    if stored.Defaults.Moves != "" { eff.Defaults.Moves = stored.Defaults.Moves }
    if stored.Defaults.Selection != "" { eff.Defaults.Selection = stored.Defaults.Selection }
    if stored.Defaults.MaxPasses != 0 { eff.Defaults.MaxPasses = stored.Defaults.MaxPasses }
    if stored.Defaults.TimeBudgetMs != 0 { eff.Defaults.TimeBudgetMs = stored.Defaults.TimeBudgetMs }
    if stored.Defaults.Workers != 0 { eff.Defaults.Workers = stored.Defaults.Workers }
    if stored.MatrixConcurrency != 0 { eff.MatrixConcurrency = stored.MatrixConcurrency }
    return eff
}

// mergeOptions overlays request options on the effective defaults;
// request non-zero fields win.
func (s *Server) mergeOptions(ctx context.Context, req *model.SolveOptions) model.SolveOptions {
    out := s.effectiveSolverConfig(ctx).Defaults
    if req == nil { return out }
    if req.Moves != "" { out.Moves = req.Moves }
    if req.Selection != "" { out.Selection = req.Selection }
    if req.MaxPasses != 0 { out.MaxPasses = req.MaxPasses }
    if req.TimeBudgetMs != 0 { out.TimeBudgetMs = req.TimeBudgetMs }
    if req.Workers != 0 { out.Workers = req.Workers }
    return out
}

// engineOptions maps wire options to engine options.
func engineOptions(o model.SolveOptions) (tsp.Options, error) {
    var opts tsp.Options
    if o.Moves != "" {
        ms, err := tsp.ParseMoveSet(o.Moves)
        if err != nil { return opts, err }
        opts.Moves = ms
    }
    if o.Selection != "" {
        pol, err := tsp.ParsePolicy(o.Selection)
        if err != nil { return opts, err }
        opts.Policy = pol
    }
    opts.MaxPasses = o.MaxPasses
    if o.TimeBudgetMs > 0 { opts.TimeBudget = time.Duration(o.TimeBudgetMs) * time.Millisecond }
    opts.Workers = o.Workers
    return opts, nil
}

func solveStats(st tsp.Stats) model.SolveStats {
    return model.SolveStats{
        Passes:      st.Passes,
        TwoOptMoves: st.TwoOptMoves,
        OrOptMoves:  st.OrOptMoves,
        InitialCost: st.InitialCost,
        FinalCost:   st.FinalCost,
        ElapsedMs:   st.ElapsedMs,
    }
}

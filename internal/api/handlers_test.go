package api

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "tourplan/internal/config"
    "tourplan/internal/model"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    s, err := NewServer(config.Default())
    if err != nil { t.Fatalf("NewServer: %v", err) }
    return s
}

// lineMatrix is four locations on a line with unit spacing; the optimal
// tour 0-1-2-3-0 costs 6.
var lineMatrix = `[[0,1,2,3],[1,0,1,2],[2,1,0,1],[3,2,1,0]]`

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestSolve(t *testing.T) {
    s := newTestServer(t)
    body := []byte(`{"matrix":` + lineMatrix + `,"depot":0}`)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    s.SolveHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("solve: got %d body %s", rr.Code, rr.Body.String()) }
    var res model.SolveResponse
    if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil { t.Fatalf("decode: %v", err) }
    if len(res.Tour) != 5 { t.Fatalf("tour length: got %d, want 5", len(res.Tour)) }
    if res.Tour[0] != 0 || res.Tour[4] != 0 { t.Fatalf("tour endpoints: %v", res.Tour) }
    if res.Cost != 6 { t.Fatalf("cost: got %v, want 6", res.Cost) }
    if res.Stats.FinalCost != 6 { t.Fatalf("stats final cost: got %v", res.Stats.FinalCost) }
}

func TestSolveRejectsBadInput(t *testing.T) {
    s := newTestServer(t)
    cases := []struct {
        name string
        body string
        want int
    }{
        {"ragged matrix", `{"matrix":[[0,1],[1,0,2]]}`, 400},
        {"negative cost", `{"matrix":[[0,-1],[1,0]]}`, 400},
        {"empty matrix", `{"matrix":[]}`, 422},
        {"depot out of range", `{"matrix":[[0,1],[1,0]],"depot":5}`, 400},
        {"bad moves", `{"matrix":[[0,1],[1,0]],"options":{"moves":"three_opt"}}`, 400},
        {"bad selection", `{"matrix":[[0,1],[1,0]],"options":{"selection":"worst"}}`, 400},
        {"not json", `{"matrix":`, 400},
    }
    for _, tc := range cases {
        rr := httptest.NewRecorder()
        req := httptest.NewRequest(http.MethodPost, "/v1/solve", strings.NewReader(tc.body))
        req.Header.Set("Content-Type", "application/json")
        s.SolveHandler(rr, req)
        if rr.Code != tc.want { t.Fatalf("%s: got %d, want %d (body %s)", tc.name, rr.Code, tc.want, rr.Body.String()) }
    }
}

func TestSolveForbiddenForViewer(t *testing.T) {
    s := newTestServer(t)
    body := []byte(`{"matrix":` + lineMatrix + `}`)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(body))
    req.Header.Set("X-Role", "viewer")
    s.SolveHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("viewer solve: got %d, want 403", rr.Code) }
    // planner may solve
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(body))
    req.Header.Set("X-Role", "planner")
    s.SolveHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("planner solve: got %d, want 200", rr.Code) }
}

// fourPoints is a small route along a meridian; haversine needs no
// external provider.
var fourPoints = `[
    {"name":"Depot","point":{"lat":52.50,"lng":13.40}},
    {"name":"A","point":{"lat":52.51,"lng":13.40}},
    {"name":"B","point":{"lat":52.52,"lng":13.40}},
    {"name":"C","point":{"lat":52.53,"lng":13.40}}
]`

func createPlan(t *testing.T, s *Server, body string) model.Plan {
    t.Helper()
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/plans", strings.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    s.PlansHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("create plan: got %d body %s", rr.Code, rr.Body.String()) }
    var plan model.Plan
    if err := json.Unmarshal(rr.Body.Bytes(), &plan); err != nil { t.Fatalf("decode plan: %v", err) }
    if plan.ID == "" { t.Fatal("plan id missing") }
    return plan
}

func waitPlanStatus(t *testing.T, s *Server, id, want string) model.Plan {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        p, err := s.Store.GetPlan(context.Background(), id)
        if err != nil { t.Fatalf("get plan: %v", err) }
        if p.Status == want { return p }
        if p.Status == model.PlanFailed && want != model.PlanFailed {
            t.Fatalf("plan failed: %s", p.Error)
        }
        time.Sleep(10 * time.Millisecond)
    }
    t.Fatalf("plan %s did not reach %s", id, want)
    return model.Plan{}
}

func TestPlanLifecycle(t *testing.T) {
    s := newTestServer(t)
    plan := createPlan(t, s, `{"name":"test run","locations":`+fourPoints+`}`)
    done := waitPlanStatus(t, s, plan.ID, model.PlanCompleted)
    if done.Result == nil { t.Fatal("completed plan has no result") }
    if len(done.Result.Order) != 5 { t.Fatalf("order length: %d", len(done.Result.Order)) }
    if done.Result.Order[0] != 0 || done.Result.Order[4] != 0 { t.Fatalf("order endpoints: %v", done.Result.Order) }
    if done.Result.TotalKm <= 0 { t.Fatalf("totalKm: %v", done.Result.TotalKm) }
    if len(done.Result.Stops) != 5 || done.Result.Stops[0] != "Depot" { t.Fatalf("stops: %v", done.Result.Stops) }
    if len(done.Result.Legs) != 4 { t.Fatalf("legs: %d", len(done.Result.Legs)) }

    // GET by id
    rr := httptest.NewRecorder()
    s.PlanByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/plans/"+plan.ID, nil))
    if rr.Code != 200 { t.Fatalf("get plan: %d", rr.Code) }

    // List
    rr = httptest.NewRecorder()
    s.PlansHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/plans?limit=10", nil))
    if rr.Code != 200 { t.Fatalf("list plans: %d", rr.Code) }
    var idx struct {
        Items []model.Plan `json:"items"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &idx); err != nil { t.Fatalf("decode list: %v", err) }
    if len(idx.Items) != 1 { t.Fatalf("items: %d", len(idx.Items)) }

    // DELETE, then GET is a 404
    rr = httptest.NewRecorder()
    s.PlanByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/plans/"+plan.ID, nil))
    if rr.Code != 204 { t.Fatalf("delete plan: %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.PlanByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/plans/"+plan.ID, nil))
    if rr.Code != 404 { t.Fatalf("get deleted plan: %d", rr.Code) }
}

func TestPlanFailsWithoutProvider(t *testing.T) {
    s := newTestServer(t)
    // source "api" needs a routing provider which tests do not configure
    plan := createPlan(t, s, `{"locations":`+fourPoints+`,"source":"api"}`)
    failed := waitPlanStatus(t, s, plan.ID, model.PlanFailed)
    if !strings.Contains(failed.Error, "routing provider") { t.Fatalf("error: %q", failed.Error) }
}

func TestPlanValidation(t *testing.T) {
    s := newTestServer(t)
    cases := []struct {
        name string
        body string
    }{
        {"no locations", `{"locations":[]}`},
        {"no address or point", `{"locations":[{"name":"x"}]}`},
        {"lat off the map", `{"locations":[{"point":{"lat":95,"lng":0}}]}`},
        {"depot out of range", `{"locations":` + fourPoints + `,"depot":9}`},
        {"bad source", `{"locations":` + fourPoints + `,"source":"teleport"}`},
    }
    for _, tc := range cases {
        rr := httptest.NewRecorder()
        req := httptest.NewRequest(http.MethodPost, "/v1/plans", strings.NewReader(tc.body))
        req.Header.Set("Content-Type", "application/json")
        s.PlansHandler(rr, req)
        if rr.Code != 400 { t.Fatalf("%s: got %d, want 400", tc.name, rr.Code) }
    }
}

func TestPlanFromCSV(t *testing.T) {
    s := newTestServer(t)
    csv := "name,address,lat,lng\n" +
        "Depot,,52.50,13.40\n" +
        "A,,52.51,13.40\n" +
        "B,,52.52,13.40\n"
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/plans?name=csv+run&depot=0", strings.NewReader(csv))
    req.Header.Set("Content-Type", "text/csv")
    s.PlansHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("csv plan: got %d body %s", rr.Code, rr.Body.String()) }
    var plan model.Plan
    if err := json.Unmarshal(rr.Body.Bytes(), &plan); err != nil { t.Fatalf("decode plan: %v", err) }
    if plan.Name != "csv run" || len(plan.Locations) != 3 { t.Fatalf("plan from csv: %+v", plan) }

    done := waitPlanStatus(t, s, plan.ID, model.PlanCompleted)
    if done.Result == nil || len(done.Result.Stops) != 4 { t.Fatalf("csv plan result: %+v", done.Result) }
    if done.Result.Stops[0] != "Depot" { t.Fatalf("stops: %v", done.Result.Stops) }

    // malformed rows are a 400, not a crash
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/plans", strings.NewReader("name,address\nonlyname"))
    req.Header.Set("Content-Type", "text/csv")
    s.PlansHandler(rr, req)
    if rr.Code != 400 { t.Fatalf("bad csv: got %d", rr.Code) }
}

func TestSubscriptions(t *testing.T) {
    s := newTestServer(t)
    // viewer may not create
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", strings.NewReader(`{"url":"https://example.invalid/hook","events":["plan.completed"]}`))
    req.Header.Set("X-Role", "viewer")
    s.SubscriptionsHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("viewer create sub: %d", rr.Code) }

    // admin create
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/subscriptions", strings.NewReader(`{"url":"https://example.invalid/hook","events":["plan.completed"],"secret":"shh"}`))
    s.SubscriptionsHandler(rr, req)
    if rr.Code != http.StatusCreated { t.Fatalf("create sub: %d body %s", rr.Code, rr.Body.String()) }
    var sub model.Subscription
    if err := json.Unmarshal(rr.Body.Bytes(), &sub); err != nil { t.Fatalf("decode sub: %v", err) }

    // url and events required
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/subscriptions", strings.NewReader(`{"url":"https://example.invalid/hook"}`))
    s.SubscriptionsHandler(rr, req)
    if rr.Code != 400 { t.Fatalf("sub without events: %d", rr.Code) }

    // list
    rr = httptest.NewRecorder()
    s.SubscriptionsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/subscriptions", nil))
    if rr.Code != 200 { t.Fatalf("list subs: %d", rr.Code) }

    // delete, then delete again is a 404
    rr = httptest.NewRecorder()
    s.SubscriptionByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil))
    if rr.Code != 204 { t.Fatalf("delete sub: %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.SubscriptionByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil))
    if rr.Code != 404 { t.Fatalf("delete sub twice: %d", rr.Code) }
}

func TestPlanCompletionEnqueuesWebhook(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", strings.NewReader(`{"url":"https://example.invalid/hook","events":["plan.completed"],"secret":"shh"}`))
    s.SubscriptionsHandler(rr, req)
    if rr.Code != http.StatusCreated { t.Fatalf("create sub: %d", rr.Code) }

    plan := createPlan(t, s, `{"locations":`+fourPoints+`}`)
    waitPlanStatus(t, s, plan.ID, model.PlanCompleted)

    rr = httptest.NewRecorder()
    s.WebhookDeliveriesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/webhook-deliveries?limit=5", nil))
    if rr.Code != 200 { t.Fatalf("deliveries: %d", rr.Code) }
    var dres struct {
        Items []map[string]any `json:"items"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &dres); err != nil { t.Fatalf("decode deliveries: %v", err) }
    if len(dres.Items) == 0 { t.Fatal("expected at least one delivery") }
    if et, _ := dres.Items[0]["eventType"].(string); et != "plan.completed" { t.Fatalf("eventType: %q", et) }
}

func TestWebhookDeliveryRetryNotFound(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.WebhookDeliveryRetryHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/webhook-deliveries/nope/retry", nil))
    if rr.Code != 404 { t.Fatalf("retry unknown: %d", rr.Code) }
}

func TestSolverConfig(t *testing.T) {
    s := newTestServer(t)
    // effective defaults before any overlay
    rr := httptest.NewRecorder()
    s.SolverConfigHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solver/config", nil))
    if rr.Code != 200 { t.Fatalf("solver config: %d", rr.Code) }

    // admin PUT overlay
    rr = httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPut, "/v1/admin/solver/config", strings.NewReader(`{"config":{"defaults":{"selection":"best","maxPasses":3},"matrixConcurrency":4}}`))
    s.AdminSolverConfigHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("put config: %d body %s", rr.Code, rr.Body.String()) }

    // overlay rejected when invalid
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPut, "/v1/admin/solver/config", strings.NewReader(`{"config":{"defaults":{"selection":"worst"}}}`))
    s.AdminSolverConfigHandler(rr, req)
    if rr.Code != 400 { t.Fatalf("put bad config: %d", rr.Code) }

    // effective view reflects the overlay
    rr = httptest.NewRecorder()
    s.SolverConfigHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solver/config", nil))
    var eff struct {
        Defaults          model.SolveOptions `json:"defaults"`
        MatrixConcurrency int                `json:"matrixConcurrency"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &eff); err != nil { t.Fatalf("decode effective: %v", err) }
    if eff.Defaults.Selection != "best" || eff.Defaults.MaxPasses != 3 { t.Fatalf("effective defaults: %+v", eff.Defaults) }
    if eff.MatrixConcurrency != 4 { t.Fatalf("effective concurrency: %d", eff.MatrixConcurrency) }

    // viewer may not touch the admin endpoint
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodGet, "/v1/admin/solver/config", nil)
    req.Header.Set("X-Role", "viewer")
    s.AdminSolverConfigHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("viewer admin config: %d", rr.Code) }
}

func TestGraphQLPlans(t *testing.T) {
    s := newTestServer(t)
    plan := createPlan(t, s, `{"locations":`+fourPoints+`}`)
    waitPlanStatus(t, s, plan.ID, model.PlanCompleted)

    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"query { plans }"}`))
    req.Header.Set("Content-Type", "application/json")
    s.GraphQLHTTPHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("graphql plans: %d", rr.Code) }

    qb, _ := json.Marshal(map[string]any{
        "query":     "query($id: ID!) { plan(id: $id) }",
        "variables": map[string]any{"id": plan.ID},
    })
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(qb))
    req.Header.Set("Content-Type", "application/json")
    s.GraphQLHTTPHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("graphql plan: %d", rr.Code) }
}

func TestMethodNotAllowed(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.SolveHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solve", nil))
    if rr.Code != 405 { t.Fatalf("get solve: %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.PlansHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/plans", nil))
    if rr.Code != 405 { t.Fatalf("delete plans: %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.EventsStreamHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/events/stream?plan=x", nil))
    if rr.Code != 405 { t.Fatalf("post stream: %d", rr.Code) }
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
    mu   sync.Mutex
    hdr  http.Header
    buf  bytes.Buffer
    code int
}

func (r *sseRecorder) Header() http.Header { if r.hdr == nil { r.hdr = http.Header{} }; return r.hdr }
func (r *sseRecorder) WriteHeader(c int) { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { r.mu.Lock(); defer r.mu.Unlock(); return r.buf.Write(p) }
func (r *sseRecorder) Flush() {}
func (r *sseRecorder) snapshot() []byte { r.mu.Lock(); defer r.mu.Unlock(); return append([]byte(nil), r.buf.Bytes()...) }

func TestPlanEventsSSE(t *testing.T) {
    s := newTestServer(t)
    plan := createPlan(t, s, `{"locations":`+fourPoints+`}`)
    waitPlanStatus(t, s, plan.ID, model.PlanCompleted)

    sseReq := httptest.NewRequest(http.MethodGet, "/v1/events/stream?plan="+plan.ID, nil)
    ctx, cancel := context.WithTimeout(context.Background(), time.Second)
    defer cancel()
    sseReq = sseReq.WithContext(ctx)

    rec := &sseRecorder{}
    done := make(chan struct{})
    go func() {
        s.EventsStreamHandler(rec, sseReq)
        close(done)
    }()

    // Give handler time to subscribe and send heartbeat
    time.Sleep(50 * time.Millisecond)
    s.Broker.Publish(plan.ID, SSEEvent{Type: "plan.solving", Data: map[string]any{"planId": plan.ID}})

    deadline := time.Now().Add(500 * time.Millisecond)
    for time.Now().Before(deadline) {
        if bytes.Contains(rec.snapshot(), []byte("event: plan.solving")) {
            break
        }
        time.Sleep(10 * time.Millisecond)
    }
    body := rec.snapshot()
    if !bytes.Contains(body, []byte("event: heartbeat")) {
        t.Fatalf("SSE missing heartbeat. Body: %s", string(body))
    }
    if !bytes.Contains(body, []byte("event: plan.solving")) {
        t.Fatalf("SSE did not contain expected event. Body: %s", string(body))
    }
    // Ensure handler exits on context cancel
    cancel()
    select {
    case <-done:
    case <-time.After(200 * time.Millisecond):
        t.Fatal("handler did not exit after cancel")
    }
}

func TestEventsStreamRequiresKnownPlan(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.EventsStreamHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/events/stream", nil))
    if rr.Code != 400 { t.Fatalf("missing plan: %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.EventsStreamHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/events/stream?plan=ghost", nil))
    if rr.Code != 404 { t.Fatalf("unknown plan: %d", rr.Code) }
}

func TestMergeOptions(t *testing.T) {
    s := newTestServer(t)
    got := s.mergeOptions(context.Background(), &model.SolveOptions{Selection: "best", MaxPasses: 2})
    if got.Selection != "best" || got.MaxPasses != 2 { t.Fatalf("merge: %+v", got) }
    // nil request keeps defaults
    def := s.mergeOptions(context.Background(), nil)
    if def.Selection != "" || def.MaxPasses != 0 { t.Fatalf("defaults polluted: %+v", def) }
}

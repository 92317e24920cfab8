package store

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"
    "tourplan/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu      sync.Mutex
    plans   map[string]model.Plan // id -> plan
    planIDs []string              // insertion order
    subs    []model.Subscription
    // Webhooks queue state
    deliveries  map[string]*memDelivery // id -> delivery state
    deliveryIDs []string                // insertion order
    solverCfg   *model.SolverConfig
}

func NewMemory() *Memory {
    return &Memory{
        plans: map[string]model.Plan{},
        planIDs: []string{},
        subs: []model.Subscription{},
        deliveries: map[string]*memDelivery{},
        deliveryIDs: []string{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) CreatePlan(ctx context.Context, req model.PlanRequest) (model.Plan, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now().UTC()
    p := model.Plan{
        ID: uuid.New().String(),
        Name: req.Name,
        Status: model.PlanPending,
        Locations: append([]model.Location(nil), req.Locations...),
        Depot: req.Depot,
        Source: req.Source,
        Options: req.Options,
        CreatedAt: now,
        UpdatedAt: now,
    }
    m.plans[p.ID] = p
    m.planIDs = append(m.planIDs, p.ID)
    return p, nil
}

func (m *Memory) GetPlan(ctx context.Context, id string) (model.Plan, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, ok := m.plans[id]
    if !ok { return model.Plan{}, ErrNotFound }
    return p, nil
}

func (m *Memory) ListPlans(ctx context.Context, status, cursor string, limit int) ([]model.Plan, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.planIDs
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.Plan{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        p := m.plans[ids[i]]
        if status == "" || p.Status == status { out = append(out, p) }
        next = ids[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) SetPlanStatus(ctx context.Context, id, status, errMsg string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    p, ok := m.plans[id]
    if !ok { return ErrNotFound }
    p.Status = status
    p.Error = errMsg
    p.UpdatedAt = time.Now().UTC()
    m.plans[id] = p
    return nil
}

func (m *Memory) SavePlanResult(ctx context.Context, id string, res model.TourResult) error {
    m.mu.Lock(); defer m.mu.Unlock()
    p, ok := m.plans[id]
    if !ok { return ErrNotFound }
    p.Result = &res
    p.Status = model.PlanCompleted
    p.Error = ""
    p.UpdatedAt = time.Now().UTC()
    m.plans[id] = p
    return nil
}

func (m *Memory) DeletePlan(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.plans[id]; !ok { return ErrNotFound }
    delete(m.plans, id)
    out := make([]string, 0, len(m.planIDs))
    for _, v := range m.planIDs { if v != id { out = append(out, v) } }
    m.planIDs = out
    return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs = append(m.subs, s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs {
        for _, e := range s.Events { if e == eventType { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs
    start := 0
    if cursor != "" {
        for i := range list { if list[i].ID == cursor { start = i + 1; break } }
    }
    if limit <= 0 { limit = 100 }
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription(nil), list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Subscription, 0, len(m.subs))
    found := false
    for _, s := range m.subs {
        if s.ID == id { found = true; continue }
        out = append(out, s)
    }
    if !found { return ErrNotFound }
    m.subs = out
    return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending", Attempts: 0}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveryIDs = append(m.deliveryIDs, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.deliveryIDs {
        d := m.deliveries[id]
        if d == nil { continue }
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Status = "failed"
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.deliveryIDs
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []map[string]any{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        d := m.deliveries[ids[i]]
        if d == nil { continue }
        if status == "" || d.Status == status {
            item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
            if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
            if d.LastError != "" { item["lastError"] = d.LastError }
            out = append(out, item)
        }
        next = ids[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Status = "pending"
    d.NextAttemptAt = time.Now()
    return nil
}

func (m *Memory) GetSolverConfig(ctx context.Context) (*model.SolverConfig, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.solverCfg == nil { return nil, nil }
    cfg := *m.solverCfg
    return &cfg, nil
}

func (m *Memory) SaveSolverConfig(ctx context.Context, cfg model.SolverConfig) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.solverCfg = &cfg
    return nil
}

package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "encoding/hex"
    "encoding/json"
    "errors"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "tourplan/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
    return p.db.PingContext(ctx)
}

// Migrate creates the schema when missing. Idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
    stmts := []string{
        `CREATE TABLE IF NOT EXISTS plans (
            id uuid PRIMARY KEY,
            name text,
            status text NOT NULL,
            locations jsonb NOT NULL,
            depot int NOT NULL DEFAULT 0,
            source text NOT NULL,
            options jsonb,
            result jsonb,
            error text,
            created_at timestamptz NOT NULL DEFAULT now(),
            updated_at timestamptz NOT NULL DEFAULT now()
        )`,
        `CREATE TABLE IF NOT EXISTS subscriptions (
            id uuid PRIMARY KEY,
            url text NOT NULL,
            events jsonb NOT NULL,
            secret text,
            created_at timestamptz NOT NULL DEFAULT now()
        )`,
        `CREATE TABLE IF NOT EXISTS webhook_deliveries (
            id uuid PRIMARY KEY,
            subscription_id uuid,
            event_type text NOT NULL,
            url text NOT NULL,
            secret text,
            payload bytea NOT NULL,
            status text NOT NULL,
            attempts int NOT NULL DEFAULT 0,
            next_attempt_at timestamptz NOT NULL DEFAULT now(),
            last_error text,
            response_code int,
            latency_ms int,
            delivered_at timestamptz,
            dedup_key text NOT NULL,
            created_at timestamptz NOT NULL DEFAULT now(),
            updated_at timestamptz NOT NULL DEFAULT now(),
            UNIQUE (event_type, url, dedup_key)
        )`,
        `CREATE TABLE IF NOT EXISTS solver_config (
            id int PRIMARY KEY DEFAULT 1,
            config jsonb NOT NULL,
            updated_at timestamptz NOT NULL DEFAULT now()
        )`,
        `CREATE INDEX IF NOT EXISTS webhook_deliveries_due_idx ON webhook_deliveries (next_attempt_at) WHERE status IN ('pending','retry')`,
        `CREATE INDEX IF NOT EXISTS plans_status_idx ON plans (status)`,
    }
    for _, q := range stmts {
        if _, err := p.db.ExecContext(ctx, q); err != nil { return err }
    }
    return nil
}

// Plans
func (p *Postgres) CreatePlan(ctx context.Context, req model.PlanRequest) (model.Plan, error) {
    now := time.Now().UTC()
    plan := model.Plan{
        ID: uuid.New().String(),
        Name: req.Name,
        Status: model.PlanPending,
        Locations: req.Locations,
        Depot: req.Depot,
        Source: req.Source,
        Options: req.Options,
        CreatedAt: now,
        UpdatedAt: now,
    }
    locs, err := json.Marshal(plan.Locations)
    if err != nil { return model.Plan{}, err }
    var opts any
    if plan.Options != nil {
        b, err := json.Marshal(plan.Options)
        if err != nil { return model.Plan{}, err }
        opts = b
    }
    _, err = p.db.ExecContext(ctx, `INSERT INTO plans (id, name, status, locations, depot, source, options, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
        plan.ID, nullIfEmpty(plan.Name), plan.Status, locs, plan.Depot, plan.Source, opts, plan.CreatedAt, plan.UpdatedAt)
    if err != nil { return model.Plan{}, err }
    return plan, nil
}

func (p *Postgres) GetPlan(ctx context.Context, id string) (model.Plan, error) {
    row := p.db.QueryRowContext(ctx, `SELECT id::text, COALESCE(name,''), status, locations, depot, source, options, result, COALESCE(error,''), created_at, updated_at FROM plans WHERE id=$1`, id)
    return scanPlan(row)
}

func (p *Postgres) ListPlans(ctx context.Context, status, cursor string, limit int) ([]model.Plan, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, COALESCE(name,''), status, locations, depot, source, options, result, COALESCE(error,''), created_at, updated_at FROM plans`
    var rows *sql.Rows
    var err error
    switch {
    case status != "" && cursor != "":
        rows, err = p.db.QueryContext(ctx, q+` WHERE status=$1 AND id::text > $2 ORDER BY id LIMIT $3`, status, cursor, limit)
    case status != "":
        rows, err = p.db.QueryContext(ctx, q+` WHERE status=$1 ORDER BY id LIMIT $2`, status, limit)
    case cursor != "":
        rows, err = p.db.QueryContext(ctx, q+` WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    default:
        rows, err = p.db.QueryContext(ctx, q+` ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Plan{}
    var last string
    for rows.Next() {
        plan, err := scanPlan(rows)
        if err != nil { return nil, "", err }
        out = append(out, plan)
        last = plan.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) SetPlanStatus(ctx context.Context, id, status, errMsg string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE plans SET status=$2, error=$3, updated_at=now() WHERE id=$1`, id, status, nullIfEmpty(errMsg))
    if err != nil { return err }
    n, err := res.RowsAffected()
    if err != nil { return err }
    if n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) SavePlanResult(ctx context.Context, id string, result model.TourResult) error {
    b, err := json.Marshal(result)
    if err != nil { return err }
    res, err := p.db.ExecContext(ctx, `UPDATE plans SET result=$2, status=$3, error=NULL, updated_at=now() WHERE id=$1`, id, b, model.PlanCompleted)
    if err != nil { return err }
    n, err := res.RowsAffected()
    if err != nil { return err }
    if n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) DeletePlan(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM plans WHERE id=$1`, id)
    if err != nil { return err }
    n, err := res.RowsAffected()
    if err != nil { return err }
    if n == 0 { return ErrNotFound }
    return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface{ Scan(dest ...any) error }

func scanPlan(row scanner) (model.Plan, error) {
    var plan model.Plan
    var locs, opts, result []byte
    err := row.Scan(&plan.ID, &plan.Name, &plan.Status, &locs, &plan.Depot, &plan.Source, &opts, &result, &plan.Error, &plan.CreatedAt, &plan.UpdatedAt)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Plan{}, ErrNotFound }
        return model.Plan{}, err
    }
    if err := json.Unmarshal(locs, &plan.Locations); err != nil { return model.Plan{}, err }
    if len(opts) > 0 {
        plan.Options = &model.SolveOptions{}
        if err := json.Unmarshal(opts, plan.Options); err != nil { return model.Plan{}, err }
    }
    if len(result) > 0 {
        plan.Result = &model.TourResult{}
        if err := json.Unmarshal(result, plan.Result); err != nil { return model.Plan{}, err }
    }
    return plan, nil
}

// Webhook subscriptions
func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`, id, req.URL, ev, nullIfEmpty(req.Secret))
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    ev, _ := json.Marshal([]string{eventType})
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE events @> $1::jsonb`, ev)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var events []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &events); err != nil { return nil, err }
        _ = json.Unmarshal(events, &s.Events)
        out = append(out, s)
    }
    return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
    if err != nil { return err }
    n, err := res.RowsAffected()
    if err != nil { return err }
    if n == 0 { return ErrNotFound }
    return nil
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, nil
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`, id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries`
    var rows *sql.Rows
    var err error
    switch {
    case status != "" && cursor != "":
        rows, err = p.db.QueryContext(ctx, q+` WHERE status=$1 AND id::text > $2 ORDER BY id LIMIT $3`, status, cursor, limit)
    case status != "":
        rows, err = p.db.QueryContext(ctx, q+` WHERE status=$1 ORDER BY id LIMIT $2`, status, limit)
    case cursor != "":
        rows, err = p.db.QueryContext(ctx, q+` WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    default:
        rows, err = p.db.QueryContext(ctx, q+` ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, typ, st, lastErr, url string
        var attempts int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
        m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
        if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { m["lastError"] = lastErr }
        out = append(out, m)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE id=$1`, id)
    if err != nil { return err }
    n, err := res.RowsAffected()
    if err != nil { return err }
    if n == 0 { return ErrNotFound }
    return nil
}

// Solver configuration
func (p *Postgres) GetSolverConfig(ctx context.Context) (*model.SolverConfig, error) {
    row := p.db.QueryRowContext(ctx, `SELECT config FROM solver_config WHERE id=1`)
    var js []byte
    if err := row.Scan(&js); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return nil, nil }
        return nil, err
    }
    var cfg model.SolverConfig
    if err := json.Unmarshal(js, &cfg); err != nil { return nil, err }
    return &cfg, nil
}

func (p *Postgres) SaveSolverConfig(ctx context.Context, cfg model.SolverConfig) error {
    b, err := json.Marshal(cfg)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO solver_config (id, config, updated_at) VALUES (1, $1, now())
        ON CONFLICT (id) DO UPDATE SET config=$1, updated_at=now()`, b)
    return err
}

func computeDedupKey(payload []byte) string {
    // try to parse JSON and use id
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

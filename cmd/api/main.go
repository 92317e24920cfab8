package main

import (
    "bufio"
    "errors"
    "log"
    "net"
    "net/http"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "tourplan/internal/api"
    "tourplan/internal/config"
    "tourplan/internal/metrics"
)

func main() {
    cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    srvDeps, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }
    metrics.RegisterDefault()

    mux := http.NewServeMux()

    // Solving
    mux.HandleFunc("/v1/solve", srvDeps.SolveHandler)

    // Plans
    mux.HandleFunc("/v1/plans", srvDeps.PlansHandler)
    mux.HandleFunc("/v1/plans/", srvDeps.PlanByIDHandler)

    // Plan event streams
    mux.HandleFunc("/v1/events/stream", srvDeps.EventsStreamHandler)
    mux.HandleFunc("/v1/ws", srvDeps.WSHandler)

    // Webhook subscriptions
    mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

    // Solver configuration
    mux.HandleFunc("/v1/solver/config", srvDeps.SolverConfigHandler)
    mux.HandleFunc("/v1/admin/solver/config", srvDeps.AdminSolverConfigHandler)

    // Admin
    mux.HandleFunc("/v1/admin/webhook-deliveries", srvDeps.WebhookDeliveriesHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries/", srvDeps.WebhookDeliveryRetryHandler)

    // GraphQL-ish query endpoint
    mux.HandleFunc("/graphql", srvDeps.GraphQLHTTPHandler)

    // Health
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)

    // Docs, debug, metrics
    mux.HandleFunc("/openapi.yaml", srvDeps.OpenAPIHandler)
    mux.HandleFunc("/docs", srvDeps.DocsHandler)
    mux.HandleFunc("/console", srvDeps.SwaggerHandler)
    mux.HandleFunc("/static/", srvDeps.StaticHandler)
    mux.HandleFunc("/debug", srvDeps.DebugJSON)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    srv := &http.Server{
        Addr:              cfg.Listen,
        Handler:           logMiddleware(metricsMiddleware(mux)),
        ReadHeaderTimeout: 5 * time.Second,
    }

    log.Printf("API listening on %s", cfg.Listen)
    // Start webhook worker
    worker := srvDeps.NewWebhookWorker()
    worker.Start()
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        next.ServeHTTP(w, r)
        dur := time.Since(start)
        log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
    })
}

// statusRecorder captures the response code for metrics. Flush and Hijack
// pass through so SSE and WebSocket upgrades keep working.
type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(c int) { r.status = c; r.ResponseWriter.WriteHeader(c) }

func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok {
        f.Flush()
    }
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
        return hj.Hijack()
    }
    return nil, nil, errors.New("hijack not supported")
}

func metricsMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        rec := &statusRecorder{ResponseWriter: w, status: 200}
        start := time.Now()
        next.ServeHTTP(rec, r)
        path := metricPath(r.URL.Path)
        status := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
    })
}

// metricPath collapses per-resource path segments so label cardinality
// stays bounded.
func metricPath(p string) string {
    switch {
    case strings.HasPrefix(p, "/v1/plans/"):
        return "/v1/plans/{id}"
    case strings.HasPrefix(p, "/v1/subscriptions/"):
        return "/v1/subscriptions/{id}"
    case strings.HasPrefix(p, "/v1/admin/webhook-deliveries/"):
        return "/v1/admin/webhook-deliveries/{id}/retry"
    case strings.HasPrefix(p, "/static/"):
        return "/static"
    }
    return p
}

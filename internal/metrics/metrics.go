package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // Solves counts tour solves by trigger and outcome
    Solves = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "solves_total", Help: "Tour solves by trigger and outcome."},
        []string{"trigger", "outcome"},
    )
    // SolveDuration records solver wall time in seconds
    SolveDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "solve_duration_seconds", Help: "Solver wall time in seconds.", Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60}},
        []string{"trigger"},
    )
    // SolveImprovement tracks relative cost reduction from the seed tour (0..1)
    SolveImprovement = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "solve_improvement_ratio", Help: "Relative cost reduction over the constructed tour.", Buckets: []float64{0, 0.01, 0.02, 0.05, 0.1, 0.2, 0.3, 0.5}},
    )

    // GeoRequests counts upstream geo provider calls by kind and outcome
    GeoRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "geo_requests_total", Help: "Geo provider calls by kind and outcome."},
        []string{"kind", "outcome"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(Solves)
        Registry.MustRegister(SolveDuration)
        Registry.MustRegister(SolveImprovement)
        Registry.MustRegister(GeoRequests)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

package api

import (
    "context"
    "strings"

    "tourplan/internal/auth"
    "tourplan/internal/config"
    "tourplan/internal/geo"
    "tourplan/internal/store"
    "tourplan/internal/webhooks"
)

type Server struct {
    Cfg    config.Config
    Store  store.Store
    Geo    *geo.Client
    Cache  *geo.Cache
    Pub    *webhooks.Publisher
    Auth   *auth.Verifier
    Broker EventBroker
}

// NewServer creates a Server. If database_url is unset, uses the in-memory store.
func NewServer(cfg config.Config) (*Server, error) {
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if err := sp.Migrate(context.Background()); err != nil {
            return nil, err
        }
        s = sp
    }
    // Broker selection: Redis when configured so events fan out across
    // replicas, in-process broker otherwise.
    var broker EventBroker = NewBroker()
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
            broker = rb
        }
    }
    // Geo client only when a provider key is configured; haversine plans
    // with inline coordinates work without one.
    var gc *geo.Client
    if cfg.Geocoder.APIKey != "" || cfg.Router.APIKey != "" {
        gc = geo.NewClient(geo.Config{
            GeocodeBaseURL: cfg.Geocoder.BaseURL,
            RouteBaseURL:   cfg.Router.BaseURL,
            APIKey:         cfg.Geocoder.APIKey,
            RouteAPIKey:    cfg.Router.APIKey,
            RPS:            cfg.Geocoder.RPS,
            Burst:          cfg.Geocoder.Burst,
            MaxRetries:     cfg.Geocoder.Retries,
        })
    }
    return &Server{
        Cfg:    cfg,
        Store:  s,
        Geo:    gc,
        Cache:  geo.NewCache(),
        Pub:    webhooks.NewPublisher(s),
        Auth:   auth.NewVerifier(cfg.AuthMode, cfg.AuthSecret),
        Broker: broker,
    }, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Cfg.WebhookMaxAttempts)
}

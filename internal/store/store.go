package store

import (
    "context"
    "errors"
    "time"

    "tourplan/internal/model"
)

// Store abstracts persistence for plans, webhook subscriptions, the
// delivery queue, and solver configuration. Memory backs dev and tests;
// Postgres is selected when DATABASE_URL is set.
type Store interface {
    // Plans
    CreatePlan(ctx context.Context, req model.PlanRequest) (model.Plan, error)
    GetPlan(ctx context.Context, id string) (model.Plan, error)
    ListPlans(ctx context.Context, status, cursor string, limit int) ([]model.Plan, string, error)
    SetPlanStatus(ctx context.Context, id, status, errMsg string) error
    SavePlanResult(ctx context.Context, id string, res model.TourResult) error
    DeletePlan(ctx context.Context, id string) error

    // Webhook subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, id string) error
    GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)

    // Webhook delivery queue
    EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error)
    RetryWebhookDelivery(ctx context.Context, id string) error

    // Solver configuration overrides
    GetSolverConfig(ctx context.Context) (*model.SolverConfig, error)
    SaveSolverConfig(ctx context.Context, cfg model.SolverConfig) error
}

var ErrNotFound = errors.New("not found")

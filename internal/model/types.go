package model

import "time"

// Wire and domain types shared by the API, stores, and CLI.

type GeoPoint struct {
    Lat float64 `json:"lat"`
    Lng float64 `json:"lng"`
}

// Location is one stop to visit. Address is geocoded unless Point is
// already set.
type Location struct {
    Name    string    `json:"name"`
    Address string    `json:"address,omitempty"`
    Point   *GeoPoint `json:"point,omitempty"`
}

// SolveOptions carries the engine knobs on the wire. Zero values fall back
// to the engine defaults (all moves, first improvement, run to local
// optimum, serial scan).
type SolveOptions struct {
    Moves        string `json:"moves,omitempty"`     // all | two_opt | or_opt
    Selection    string `json:"selection,omitempty"` // first | best
    MaxPasses    int    `json:"maxPasses,omitempty"`
    TimeBudgetMs int    `json:"timeBudgetMs,omitempty"`
    Workers      int    `json:"workers,omitempty"`
}

// SolveRequest is the synchronous matrix-in/tour-out body.
type SolveRequest struct {
    Matrix  [][]float64   `json:"matrix"`
    Depot   int           `json:"depot"`
    Options *SolveOptions `json:"options,omitempty"`
}

// SolveStats mirrors the engine's per-run counters.
type SolveStats struct {
    Passes      int     `json:"passes"`
    TwoOptMoves int     `json:"twoOptMoves"`
    OrOptMoves  int     `json:"orOptMoves"`
    InitialCost float64 `json:"initialCost"`
    FinalCost   float64 `json:"finalCost"`
    ElapsedMs   int64   `json:"elapsedMs"`
}

// SolveResponse answers a synchronous solve.
type SolveResponse struct {
    Tour  []int      `json:"tour"`
    Cost  float64    `json:"cost"`
    Stats SolveStats `json:"stats"`
}

// Matrix sources for plans.
const (
    SourceHaversine = "haversine"
    SourceAPI       = "api"
)

// PlanRequest asks the service to geocode the locations, measure pairwise
// travel, and solve the tour in the background.
type PlanRequest struct {
    Name      string        `json:"name,omitempty"`
    Locations []Location    `json:"locations"`
    Depot     int           `json:"depot,omitempty"`
    Source    string        `json:"source,omitempty"` // haversine | api
    Options   *SolveOptions `json:"options,omitempty"`
}

// Plan lifecycle statuses.
const (
    PlanPending   = "pending"
    PlanGeocoding = "geocoding"
    PlanBuilding  = "building"
    PlanSolving   = "solving"
    PlanCompleted = "completed"
    PlanFailed    = "failed"
)

type Plan struct {
    ID        string        `json:"id"`
    Name      string        `json:"name,omitempty"`
    Status    string        `json:"status"`
    Locations []Location    `json:"locations"`
    Depot     int           `json:"depot"`
    Source    string        `json:"source"`
    Options   *SolveOptions `json:"options,omitempty"`
    Result    *TourResult   `json:"result,omitempty"`
    Error     string        `json:"error,omitempty"`
    CreatedAt time.Time     `json:"createdAt"`
    UpdatedAt time.Time     `json:"updatedAt"`
}

// Leg is one traveled arc of a finished tour.
type Leg struct {
    From string  `json:"from"`
    To   string  `json:"to"`
    Km   float64 `json:"km"`
}

// TourResult presents a solved tour in location terms.
type TourResult struct {
    Order   []int      `json:"order"` // location indices, depot first and last
    Stops   []string   `json:"stops"` // names in visit order
    Legs    []Leg      `json:"legs"`
    TotalKm float64    `json:"totalKm"`
    Stats   SolveStats `json:"stats"`
}

type SubscriptionRequest struct {
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret,omitempty"`
}

type Subscription struct {
    ID     string   `json:"id"`
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret,omitempty"`
}

// SolverConfig holds the admin-tunable defaults applied when a request
// leaves options unset.
type SolverConfig struct {
    Defaults          SolveOptions `json:"defaults"`
    MatrixConcurrency int          `json:"matrixConcurrency,omitempty"`
}

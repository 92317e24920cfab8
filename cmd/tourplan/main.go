package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "log"
    "os"

    "tourplan/internal/config"
    "tourplan/internal/geo"
    "tourplan/internal/ingest"
    "tourplan/internal/model"
    "tourplan/internal/tsp"
)

func main() {
    var (
        csvPath    = flag.String("csv", "", "CSV file of locations: name,address[,lat,lng]")
        cfgPath    = flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
        depot      = flag.Int("depot", 0, "index of the start/end location")
        source     = flag.String("source", "haversine", "distance source: haversine | api")
        moves      = flag.String("moves", "", "move set: all | two_opt | or_opt")
        selection  = flag.String("selection", "", "improvement policy: first | best")
        maxPasses  = flag.Int("max-passes", 0, "cap on improvement passes (0 = to local optimum)")
        timeBudget = flag.Duration("time-budget", 0, "wall-clock budget for the solve (0 = none)")
        workers    = flag.Int("workers", 0, "parallel scan workers (0 = serial)")
        asJSON     = flag.Bool("json", false, "emit the result as JSON")
    )
    flag.Parse()
    if *csvPath == "" {
        flag.Usage()
        os.Exit(2)
    }

    cfg, err := config.Load(*cfgPath)
    if err != nil {
        log.Fatalf("config: %v", err)
    }

    f, err := os.Open(*csvPath)
    if err != nil {
        log.Fatalf("open %s: %v", *csvPath, err)
    }
    locs, err := ingest.ParseLocations(f)
    f.Close()
    if err != nil {
        log.Fatalf("parse %s: %v", *csvPath, err)
    }
    if len(locs) == 0 {
        log.Fatalf("%s has no locations", *csvPath)
    }
    if *depot < 0 || *depot >= len(locs) {
        log.Fatalf("depot %d out of range (have %d locations)", *depot, len(locs))
    }

    ctx := context.Background()

    var client *geo.Client
    if cfg.Geocoder.APIKey != "" || cfg.Router.APIKey != "" {
        client = geo.NewClient(geo.Config{
            GeocodeBaseURL: cfg.Geocoder.BaseURL,
            RouteBaseURL:   cfg.Router.BaseURL,
            APIKey:         cfg.Geocoder.APIKey,
            RouteAPIKey:    cfg.Router.APIKey,
            RPS:            cfg.Geocoder.RPS,
            Burst:          cfg.Geocoder.Burst,
            MaxRetries:     cfg.Geocoder.Retries,
        })
    }

    pts := make([]geo.Point, len(locs))
    for i, loc := range locs {
        if loc.Point != nil {
            pts[i] = geo.Point{Lat: loc.Point.Lat, Lng: loc.Point.Lng}
            continue
        }
        if client == nil {
            log.Fatalf("location %q needs geocoding but GEO_API_KEY is not set", loc.Name)
        }
        p, err := client.Geocode(ctx, loc.Address)
        if err != nil {
            log.Fatalf("geocode %q: %v", loc.Address, err)
        }
        pts[i] = p
    }

    var w [][]float64
    switch *source {
    case "haversine":
        w = geo.BuildHaversineMatrix(pts)
    case "api":
        if client == nil {
            log.Fatalf("source api needs GEO_API_KEY")
        }
        b := geo.Builder{
            Client:      client,
            Concurrency: cfg.MatrixConcurrency,
            OnProgress: func(done, total int) {
                fmt.Fprintf(os.Stderr, "\rmatrix %d/%d", done, total)
                if done == total {
                    fmt.Fprintln(os.Stderr)
                }
            },
        }
        w, err = b.Build(ctx, pts)
        if err != nil {
            log.Fatalf("build matrix: %v", err)
        }
    default:
        log.Fatalf("unknown source %q", *source)
    }

    m, err := tsp.NewMatrix(w, *depot)
    if err != nil {
        log.Fatalf("matrix: %v", err)
    }
    ms, err := tsp.ParseMoveSet(*moves)
    if err != nil {
        log.Fatalf("moves: %v", err)
    }
    pol, err := tsp.ParsePolicy(*selection)
    if err != nil {
        log.Fatalf("selection: %v", err)
    }
    res, err := tsp.Solve(ctx, m, tsp.Options{
        Moves:      ms,
        Policy:     pol,
        MaxPasses:  *maxPasses,
        TimeBudget: *timeBudget,
        Workers:    *workers,
    })
    if err != nil {
        log.Fatalf("solve: %v", err)
    }

    names := make([]string, len(locs))
    for i, loc := range locs {
        names[i] = loc.Name
    }
    stops := make([]string, len(res.Tour))
    for i, idx := range res.Tour {
        stops[i] = names[idx]
    }
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
        Stats: model.SolveStats{
            Passes:      res.Stats.Passes,
            TwoOptMoves: res.Stats.TwoOptMoves,
            OrOptMoves:  res.Stats.OrOptMoves,
            InitialCost: res.Stats.InitialCost,
            FinalCost:   res.Stats.FinalCost,
            ElapsedMs:   res.Stats.ElapsedMs,
        },
    }

    if *asJSON {
        enc := json.NewEncoder(os.Stdout)
        enc.SetIndent("", "  ")
        if err := enc.Encode(result); err != nil {
            log.Fatalf("encode: %v", err)
        }
        return
    }

    fmt.Printf("tour over %d locations (depot %s)\n", len(locs), names[*depot])
    for _, leg := range legs {
        fmt.Printf("  %-20s -> %-20s %8.2f km\n", leg.From, leg.To, leg.Km)
    }
    fmt.Printf("total %.2f km in %d ms (%d passes, %d two-opt, %d or-opt, construction %.2f km)\n",
        res.Cost, res.Stats.ElapsedMs, res.Stats.Passes, res.Stats.TwoOptMoves, res.Stats.OrOptMoves, res.Stats.InitialCost)
}

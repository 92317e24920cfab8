// Package geo turns street addresses into coordinates and coordinate pairs
// into travel distances, using a Kakao-compatible REST provider with a
// haversine fallback for offline use.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"tourplan/internal/metrics"
)

var (
	// ErrAddressNotFound means the provider returned no candidate for an
	// address.
	ErrAddressNotFound = errors.New("geo: address not found")
	// ErrNoRoute means the provider could not connect two points.
	ErrNoRoute = errors.New("geo: no route between points")
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Config wires a Client to a provider account.
type Config struct {
	GeocodeBaseURL string
	RouteBaseURL   string
	APIKey         string
	// RouteAPIKey authorizes the directions endpoint when the provider
	// issues separate keys; APIKey is used when empty.
	RouteAPIKey string
	RPS         float64
	Burst       int
	MaxRetries  int
	Timeout     time.Duration
}

// Client calls the provider's address-search and directions endpoints.
// All calls go through a shared rate limiter; 429 and 5xx responses are
// retried with exponential backoff.
type Client struct {
	geocodeBase string
	routeBase   string
	key         string
	routeKey    string
	http        *http.Client
	limiter     *rate.Limiter
	maxRetries  int
}

func NewClient(cfg Config) *Client {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	routeKey := cfg.RouteAPIKey
	if routeKey == "" {
		routeKey = cfg.APIKey
	}
	return &Client{
		geocodeBase: cfg.GeocodeBaseURL,
		routeBase:   cfg.RouteBaseURL,
		key:         cfg.APIKey,
		routeKey:    routeKey,
		http:        &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries:  retries,
	}
}

type geocodeResponse struct {
	Documents []struct {
		AddressName string `json:"address_name"`
		X           string `json:"x"` // longitude
		Y           string `json:"y"` // latitude
	} `json:"documents"`
}

// Geocode resolves an address to the provider's first candidate point.
func (c *Client) Geocode(ctx context.Context, address string) (Point, error) {
	q := url.Values{}
	q.Set("query", address)
	u := c.geocodeBase + "/v2/local/search/address.json?" + q.Encode()

	var out geocodeResponse
	if err := c.getJSON(ctx, u, c.key, &out); err != nil {
		metrics.GeoRequests.WithLabelValues("geocode", "error").Inc()
		return Point{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	metrics.GeoRequests.WithLabelValues("geocode", "ok").Inc()
	if len(out.Documents) == 0 {
		return Point{}, fmt.Errorf("%w: %q", ErrAddressNotFound, address)
	}
	doc := out.Documents[0]
	lat, err := strconv.ParseFloat(doc.Y, 64)
	if err != nil {
		return Point{}, fmt.Errorf("geocode %q: bad latitude %q", address, doc.Y)
	}
	lng, err := strconv.ParseFloat(doc.X, 64)
	if err != nil {
		return Point{}, fmt.Errorf("geocode %q: bad longitude %q", address, doc.X)
	}
	return Point{Lat: lat, Lng: lng}, nil
}

type directionsResponse struct {
	Routes []struct {
		ResultCode int `json:"result_code"`
		Summary    struct {
			Distance float64 `json:"distance"` // meters
		} `json:"summary"`
	} `json:"routes"`
}

// Distance returns the driving distance from one point to another in
// kilometers. Directions are not symmetric; callers wanting both legs ask
// twice.
func (c *Client) Distance(ctx context.Context, from, to Point) (float64, error) {
	q := url.Values{}
	q.Set("origin", fmt.Sprintf("%f,%f", from.Lng, from.Lat))
	q.Set("destination", fmt.Sprintf("%f,%f", to.Lng, to.Lat))
	u := c.routeBase + "/v1/directions?" + q.Encode()

	var out directionsResponse
	if err := c.getJSON(ctx, u, c.routeKey, &out); err != nil {
		metrics.GeoRequests.WithLabelValues("distance", "error").Inc()
		return 0, err
	}
	metrics.GeoRequests.WithLabelValues("distance", "ok").Inc()
	if len(out.Routes) == 0 || out.Routes[0].ResultCode != 0 {
		return 0, ErrNoRoute
	}
	return out.Routes[0].Summary.Distance / 1000.0, nil
}

// getJSON performs one rate-limited GET with retries on 429/5xx and decodes
// the body into out.
func (c *Client) getJSON(ctx context.Context, u, key string, out any) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "KakaoAK "+key)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			if resp.StatusCode == 200 {
				err := json.NewDecoder(resp.Body).Decode(out)
				resp.Body.Close()
				return err
			}
			resp.Body.Close()
			if resp.StatusCode != 429 && resp.StatusCode < 500 {
				return fmt.Errorf("geo: provider returned %d", resp.StatusCode)
			}
			lastErr = fmt.Errorf("geo: provider returned %d", resp.StatusCode)
		}
		if attempt >= c.maxRetries {
			return lastErr
		}
		select {
		case <-time.After(retryBackoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// retryBackoff doubles from 250ms and caps at 4s.
func retryBackoff(attempt int) time.Duration {
	d := 250 * time.Millisecond << uint(attempt)
	if d > 4*time.Second {
		return 4 * time.Second
	}
	return d
}

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"bus-tracking-backend/config"
	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/telemetry"
)

// GoogleClient is a Provider backed by the Google Maps web services
// (Distance Matrix, Directions and Geocoding).
type GoogleClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGoogleClient creates a client with the configured timeout and request rate.
func NewGoogleClient(cfg config.OracleConfig) *GoogleClient {
	return &GoogleClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

type value struct {
	Value int64 `json:"value"`
}

type matrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Distance value  `json:"distance"`
			Duration value  `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

type directionsResponse struct {
	Status string `json:"status"`
	Routes []struct {
		WaypointOrder []int `json:"waypoint_order"`
		Legs          []leg `json:"legs"`
	} `json:"routes"`
}

type leg struct {
	Distance          value  `json:"distance"`
	Duration          value  `json:"duration"`
	DurationInTraffic *value `json:"duration_in_traffic"`
}

func (l leg) seconds() int64 {
	if l.DurationInTraffic != nil && l.DurationInTraffic.Value > 0 {
		return l.DurationInTraffic.Value
	}
	return l.Duration.Value
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress  string `json:"formatted_address"`
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

// Distance uses the Distance Matrix API and returns driving meters.
func (c *GoogleClient) Distance(ctx context.Context, from, to model.Location) float64 {
	q := url.Values{}
	q.Set("origins", from.String())
	q.Set("destinations", to.String())
	q.Set("mode", "driving")

	var resp matrixResponse
	if err := c.get(ctx, "distance", "/distancematrix/json", q, &resp); err != nil {
		log.Printf("[oracle] distance %s -> %s: %v", from, to, err)
		return Unavailable
	}
	if resp.Status != "OK" || len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		log.Printf("[oracle] distance %s -> %s: status=%s", from, to, resp.Status)
		telemetry.RecordOracleFailure(ctx, "distance")
		return Unavailable
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		log.Printf("[oracle] distance %s -> %s: element status=%s", from, to, el.Status)
		telemetry.RecordOracleFailure(ctx, "distance")
		return Unavailable
	}
	return float64(el.Distance.Value)
}

// TravelDuration uses the Directions API with live traffic.
func (c *GoogleClient) TravelDuration(ctx context.Context, from, to model.Location) (time.Duration, bool) {
	q := url.Values{}
	q.Set("origin", from.String())
	q.Set("destination", to.String())
	q.Set("departure_time", "now")
	q.Set("traffic_model", "best_guess")

	var resp directionsResponse
	if err := c.get(ctx, "directions", "/directions/json", q, &resp); err != nil {
		log.Printf("[oracle] directions %s -> %s: %v", from, to, err)
		return 0, false
	}
	if resp.Status != "OK" || len(resp.Routes) == 0 || len(resp.Routes[0].Legs) == 0 {
		telemetry.RecordOracleFailure(ctx, "directions")
		return 0, false
	}
	return time.Duration(resp.Routes[0].Legs[0].seconds()) * time.Second, true
}

// EstimateETAs asks Directions for an optimized round trip through all stops and
// accumulates leg durations in the returned visiting order.
func (c *GoogleClient) EstimateETAs(ctx context.Context, origin model.Location, stops []Stop) map[int64]time.Duration {
	etas := make(map[int64]time.Duration, len(stops))
	switch len(stops) {
	case 0:
		return etas
	case 1:
		if d, ok := c.TravelDuration(ctx, origin, stops[0].Location); ok {
			etas[stops[0].StudentID] = d
		}
		return etas
	}

	points := make([]string, len(stops))
	for i, s := range stops {
		points[i] = s.Location.String()
	}
	q := url.Values{}
	q.Set("origin", origin.String())
	q.Set("destination", origin.String())
	q.Set("waypoints", "optimize:true|"+strings.Join(points, "|"))
	q.Set("departure_time", "now")
	q.Set("traffic_model", "best_guess")

	var resp directionsResponse
	if err := c.get(ctx, "directions", "/directions/json", q, &resp); err != nil {
		log.Printf("[oracle] eta from %s: %v", origin, err)
		return etas
	}
	if resp.Status != "OK" || len(resp.Routes) == 0 {
		telemetry.RecordOracleFailure(ctx, "directions")
		return etas
	}
	route := resp.Routes[0]
	var total int64
	for i, idx := range route.WaypointOrder {
		if i >= len(route.Legs) || idx < 0 || idx >= len(stops) {
			break
		}
		total += route.Legs[i].seconds()
		etas[stops[idx].StudentID] = time.Duration(total) * time.Second
	}
	return etas
}

// ReverseGeocode returns "sublocality - street", either part alone, the formatted
// address, or FallbackLabel when nothing is known.
func (c *GoogleClient) ReverseGeocode(ctx context.Context, loc model.Location) string {
	q := url.Values{}
	q.Set("latlng", loc.String())

	var resp geocodeResponse
	if err := c.get(ctx, "geocode", "/geocode/json", q, &resp); err != nil {
		log.Printf("[oracle] reverse geocode %s: %v", loc, err)
		return FallbackLabel(loc)
	}
	if resp.Status != "OK" || len(resp.Results) == 0 {
		return FallbackLabel(loc)
	}

	result := resp.Results[0]
	var sublocality, street string
	for _, comp := range result.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "sublocality", "sublocality_level_1":
				sublocality = comp.LongName
			case "route":
				street = comp.LongName
			}
		}
	}
	switch {
	case sublocality != "" && street != "":
		return sublocality + " - " + street
	case sublocality != "":
		return sublocality
	case street != "":
		return street
	case result.FormattedAddress != "":
		return result.FormattedAddress
	}
	return FallbackLabel(loc)
}

func (c *GoogleClient) get(ctx context.Context, op, path string, q url.Values, out any) error {
	ctx, span := telemetry.Tracer().Start(ctx, "oracle."+op)
	defer span.End()

	err := c.do(ctx, path, q, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.RecordOracleFailure(ctx, op)
	}
	span.SetAttributes(attribute.Bool("oracle.ok", err == nil))
	return err
}

func (c *GoogleClient) do(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	q.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("maps request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("maps API returned HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

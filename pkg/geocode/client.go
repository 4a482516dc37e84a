// Package geocode resolves dispatch addresses to coordinates through Nominatim,
// with a fallback ladder for plain addresses and a resolver for intersections.
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chanzer0/tififn-times/internal/metrics"
	"github.com/chanzer0/tififn-times/internal/model"
)

const (
	// DefaultBaseURL is the public Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	// DefaultUserAgent identifies this client per the Nominatim usage policy.
	DefaultUserAgent = "TiffinTimes/1.0 (emergency-logs-mapping)"
	// DefaultDelay is the minimum spacing between provider requests.
	DefaultDelay = time.Second
)

// Tier describes how precisely a result locates the original address.
type Tier string

const (
	TierExact        Tier = "exact"
	TierIntersection Tier = "intersection"
	TierStreet       Tier = "street"
	TierCity         Tier = "city"
	TierArea         Tier = "area"
	TierMidpoint     Tier = "midpoint"
	TierCityCenter   Tier = "city_center"
)

// Result holds the geocoding output for a query or address.
type Result struct {
	Latitude         float64
	Longitude        float64
	FormattedAddress string
	Query            string // provider query that produced the match
	Tier             Tier
	Matched          bool
}

// GeocodeResult converts a matched result to the persisted shape.
func (r *Result) GeocodeResult() model.GeocodeResult {
	return model.GeocodeResult{
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		FormattedAddress: r.FormattedAddress,
	}
}

// Searcher issues a single direct query against a provider. A query the
// provider cannot answer yields an unmatched Result and a nil error; only
// context cancellation is returned as an error.
type Searcher interface {
	Search(ctx context.Context, query string) (*Result, error)
}

// nominatimPlace is one element of the Nominatim /search JSON array.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL points the client at another Nominatim instance.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithUserAgent sets the identifying User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithDelay sets the pause taken before every request and the matching
// limiter interval. Zero disables both, which only tests should do.
func WithDelay(d time.Duration) Option {
	return func(c *Client) {
		c.delay = d
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// Client is a Nominatim search client. It pays the configured delay before
// every request and additionally holds a single-token limiter, so requests
// stay at least one delay apart even when the client is shared.
type Client struct {
	baseURL    string
	userAgent  string
	delay      time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

// NewClient creates a Nominatim Client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		userAgent:  DefaultUserAgent,
		delay:      DefaultDelay,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(DefaultDelay), 1),
		log:        zap.L().With(zap.String("component", "nominatim")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search implements Searcher.
func (c *Client) Search(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &Result{Matched: false}, nil
	}

	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"q":              {query},
		"format":         {"json"},
		"limit":          {"1"},
		"addressdetails": {"1"},
		"countrycodes":   {"us"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		c.log.Debug("build request failed", zap.String("query", query), zap.Error(err))
		metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return &Result{Matched: false, Query: query}, nil
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	timer := prometheus.NewTimer(metrics.GeocodeLatency)
	resp, err := c.httpClient.Do(req)
	timer.ObserveDuration()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.log.Debug("request failed", zap.String("query", query), zap.Error(err))
		metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return &Result{Matched: false, Query: query}, nil
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		c.log.Debug("unexpected status", zap.String("query", query), zap.Int("status", resp.StatusCode))
		metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return &Result{Matched: false, Query: query}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return &Result{Matched: false, Query: query}, nil
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		c.log.Debug("malformed response", zap.String("query", query), zap.Error(err))
		metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return &Result{Matched: false, Query: query}, nil
	}
	if len(places) == 0 {
		metrics.GeocodeRequests.WithLabelValues("no_match").Inc()
		return &Result{Matched: false, Query: query}, nil
	}

	lat, latErr := strconv.ParseFloat(places[0].Lat, 64)
	lon, lonErr := strconv.ParseFloat(places[0].Lon, 64)
	if latErr != nil || lonErr != nil {
		c.log.Debug("unparseable coordinates", zap.String("query", query),
			zap.String("lat", places[0].Lat), zap.String("lon", places[0].Lon))
		metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return &Result{Matched: false, Query: query}, nil
	}

	formatted := places[0].DisplayName
	if formatted == "" {
		formatted = query
	}

	metrics.GeocodeRequests.WithLabelValues("matched").Inc()
	return &Result{
		Latitude:         lat,
		Longitude:        lon,
		FormattedAddress: formatted,
		Query:            query,
		Tier:             TierExact,
		Matched:          true,
	}, nil
}

// pace sleeps the configured delay, then takes a limiter token.
func (c *Client) pace(ctx context.Context) error {
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return c.limiter.Wait(ctx)
}

// Package nominatim provides a client for the Nominatim reverse geocoding API.
package nominatim

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/pkg/logger"
)

// ErrNoAddress is returned when no address could be resolved. Callers treat
// it as "no address found" and carry on.
var ErrNoAddress = errors.New("no address found")

// Config holds client configuration.
type Config struct {
	// Nominatim API base URL
	BaseURL string

	// Minimum interval between requests
	RateLimit time.Duration

	// Upper bound for one lookup, including time spent waiting for the limiter
	Timeout time.Duration

	// Number of cached lookups
	CacheSize int
}

// DefaultConfig returns the public OSM instance settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://nominatim.openstreetmap.org",
		RateLimit: 1100 * time.Millisecond, // Slightly more than 1 req/sec to be safe
		Timeout:   5 * time.Second,
		CacheSize: 1024,
	}
}

// Client handles requests to the Nominatim API.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	timeout time.Duration
	cache   *lru.Cache
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// Response represents the response from Nominatim reverse geocoding.
type Response struct {
	PlaceID     int     `json:"place_id"`
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
	Error       string  `json:"error,omitempty"`
}

// Address represents address details from Nominatim.
type Address struct {
	HouseNumber   string `json:"house_number,omitempty"`
	Road          string `json:"road,omitempty"`
	Neighbourhood string `json:"neighbourhood,omitempty"`
	Suburb        string `json:"suburb,omitempty"`
	City          string `json:"city,omitempty"`
	Town          string `json:"town,omitempty"`
	Village       string `json:"village,omitempty"`
	County        string `json:"county,omitempty"`
	State         string `json:"state,omitempty"`
	Postcode      string `json:"postcode,omitempty"`
	Country       string `json:"country,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
}

// GetCity returns the most specific city-level location.
func (a *Address) GetCity() string {
	if a.City != "" {
		return a.City
	}
	if a.Town != "" {
		return a.Town
	}
	return a.Village
}

// NewClient creates a new Nominatim client.
func NewClient(cfg Config, log *logger.Logger, m *metrics.Metrics) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Every(cfg.RateLimit)
	}

	// lru.New only fails for a non-positive size.
	cache, _ := lru.New(cfg.CacheSize)

	client := resty.NewWithClient(&http.Client{Timeout: cfg.Timeout})
	client.SetBaseURL(cfg.BaseURL)
	// Required by Nominatim usage policy
	client.SetHeader("User-Agent", "mapkit/1.0 (map rendering service)")
	client.SetHeader("Accept", "application/json")

	return &Client{
		http:    client,
		limiter: rate.NewLimiter(limit, 1),
		timeout: cfg.Timeout,
		cache:   cache,
		logger:  logger.OrNop(log).WithField("component", "nominatim"),
		metrics: m,
	}
}

// cacheKey rounds to roughly 10m so nearby lookups share a result.
func cacheKey(p geo.LatLng) string {
	return fmt.Sprintf("%.4f,%.4f", p.Lat, p.Lon)
}

// Reverse resolves the closest address to p. Every failure, including a
// rate limit wait that would outlast the timeout, returns ErrNoAddress.
func (c *Client) Reverse(ctx context.Context, p geo.LatLng) (*Response, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAddress, err)
	}

	key := cacheKey(p)
	if v, ok := c.cache.Get(key); ok {
		return v.(*Response), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.IncGeocodingRequest("failed")
		return nil, fmt.Errorf("%w: rate limited: %w", ErrNoAddress, err)
	}

	var result Response
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":            fmt.Sprintf("%f", p.Lat),
			"lon":            fmt.Sprintf("%f", p.Lon),
			"format":         "jsonv2",
			"addressdetails": "1",
		}).
		SetResult(&result).
		Get("/reverse")
	if err != nil {
		c.metrics.IncGeocodingRequest("failed")
		c.logger.WithError(err).Warn("reverse geocoding request failed")
		return nil, fmt.Errorf("%w: %w", ErrNoAddress, err)
	}
	if resp.IsError() {
		c.metrics.IncGeocodingRequest("failed")
		c.logger.WithField("status", resp.StatusCode()).Warn("reverse geocoding unexpected status")
		return nil, fmt.Errorf("%w: unexpected status %d", ErrNoAddress, resp.StatusCode())
	}
	if result.Error != "" || result.DisplayName == "" {
		c.metrics.IncGeocodingRequest("empty")
		return nil, ErrNoAddress
	}

	c.metrics.IncGeocodingRequest("success")
	c.cache.Add(key, &result)

	c.logger.WithFields(map[string]interface{}{
		"lat":  p.Lat,
		"lon":  p.Lon,
		"name": result.DisplayName,
	}).Debug("reverse geocoding successful")

	return &result, nil
}

// ClosestAddress returns the display name of the closest address, or "" when
// none could be resolved.
func (c *Client) ClosestAddress(ctx context.Context, p geo.LatLng) string {
	r, err := c.Reverse(ctx, p)
	if err != nil {
		return ""
	}
	return r.DisplayName
}

// Package geolocate resolves the visitor location sentinel marker.
package geolocate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/internal/models"
	"github.com/eduard256/mapkit/pkg/logger"
)

// ErrUnavailable is returned when the visitor cannot be located.
var ErrUnavailable = errors.New("visitor location unavailable")

// Locator finds the current visitor position.
type Locator interface {
	Locate(ctx context.Context) (geo.LatLng, error)
}

type visitorIPKey struct{}

// WithVisitorIP attaches the visitor IP address to ctx.
func WithVisitorIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, visitorIPKey{}, ip)
}

// VisitorIP returns the visitor IP carried by ctx, or "".
func VisitorIP(ctx context.Context) string {
	ip, _ := ctx.Value(visitorIPKey{}).(string)
	return ip
}

// Fixed always reports the same position.
type Fixed geo.LatLng

// Locate implements Locator.
func (f Fixed) Locate(context.Context) (geo.LatLng, error) {
	return geo.LatLng(f), nil
}

// ipResponse is the ip-api.com style lookup result.
type ipResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// IPLocator resolves the visitor IP carried on the context through an
// ip-api.com compatible endpoint ("<base>/<ip>").
type IPLocator struct {
	client  *resty.Client
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewIPLocator creates an IPLocator against baseURL.
func NewIPLocator(baseURL string, timeout time.Duration, log *logger.Logger, m *metrics.Metrics) *IPLocator {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := resty.NewWithClient(&http.Client{Timeout: timeout})
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("Accept", "application/json")

	return &IPLocator{
		client:  client,
		logger:  logger.OrNop(log).WithField("component", "geolocate"),
		metrics: m,
	}
}

// Locate implements Locator.
func (l *IPLocator) Locate(ctx context.Context) (geo.LatLng, error) {
	ip := VisitorIP(ctx)
	if ip == "" {
		return geo.LatLng{}, fmt.Errorf("%w: no visitor ip", ErrUnavailable)
	}

	var result ipResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetPathParam("ip", ip).
		SetResult(&result).
		Get("/{ip}")
	if err != nil {
		l.metrics.IncGeolocationRequest("failed")
		return geo.LatLng{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.IsError() {
		l.metrics.IncGeolocationRequest("failed")
		return geo.LatLng{}, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode())
	}
	if result.Status != "success" {
		l.metrics.IncGeolocationRequest("failed")
		return geo.LatLng{}, fmt.Errorf("%w: %s", ErrUnavailable, result.Message)
	}

	pos := geo.LatLng{Lat: result.Lat, Lon: result.Lon}
	if err := pos.Validate(); err != nil {
		l.metrics.IncGeolocationRequest("failed")
		return geo.LatLng{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	l.metrics.IncGeolocationRequest("success")
	return pos, nil
}

// Resolve replaces every visitor location sentinel in specs with the located
// position. When loc is nil or fails the sentinels are omitted. The locator
// is queried at most once. specs is not modified.
func Resolve(ctx context.Context, loc Locator, specs []models.MarkerSpec, log *logger.Logger) []models.MarkerSpec {
	log = logger.OrNop(log)

	var (
		pos      geo.LatLng
		located  bool
		resolved bool
	)

	out := make([]models.MarkerSpec, 0, len(specs))
	for _, s := range specs {
		if !s.VisitorLocation {
			out = append(out, s)
			continue
		}

		if !resolved {
			resolved = true
			if loc != nil {
				p, err := loc.Locate(ctx)
				if err != nil {
					log.WithError(err).Warn("visitor location marker omitted")
				} else {
					pos, located = p, true
				}
			}
		}
		if !located {
			continue
		}

		s.Position = pos
		s.VisitorLocation = false
		out = append(out, s)
	}
	return out
}

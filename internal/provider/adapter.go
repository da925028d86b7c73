// Package provider renders maps through one of the supported SDKs behind a
// single Adapter contract. The behavior shared by every SDK lives in one base
// implementation; each provider only contributes its option translation,
// assets and static snapshot format.
package provider

import (
	"context"
	"fmt"

	"github.com/eduard256/mapkit/internal/cluster"
	"github.com/eduard256/mapkit/internal/frame"
	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/host"
	"github.com/eduard256/mapkit/internal/loader"
	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/internal/models"
	"github.com/eduard256/mapkit/internal/nominatim"
	"github.com/eduard256/mapkit/internal/retry"
	"github.com/eduard256/mapkit/pkg/logger"
)

// Adapter renders maps for one provider.
type Adapter interface {
	Name() models.Provider
	Assets() []loader.Asset
	MaxZoom() int

	// InitMap waits, with a bounded retry, for the container and creates the map.
	InitMap(ctx context.Context, page *host.Page, cfg models.MapConfig) (*MapHandle, error)
	// AddMarkers renders the valid specs and skips the rest.
	AddMarkers(m *MapHandle, specs []models.MarkerSpec, cfg models.MapConfig) []*MarkerHandle
	RemoveMarkers(m *MapHandle)
	FitOrCenter(m *MapHandle, markers []*MarkerHandle, cfg models.MapConfig)
	// BindClustering returns nil when clustering is disabled.
	BindClustering(m *MapHandle, markers []*MarkerHandle, policy models.ClusterPolicy) *cluster.Group
	ActivateStreetView(m *MapHandle, pos geo.LatLng, heading, pitch float64)
	SetHover(m *MapHandle, markerID string, hovered bool) bool
	OpenPopup(m *MapHandle, markerID string) bool
	Snapshot(ctx context.Context, m *MapHandle) (*Static, error)
}

// Static is a rendered or linkable image of a map.
type Static struct {
	ContentType string `json:"content_type"`
	// URL is set by providers that render remotely.
	URL string `json:"url,omitempty"`
	// Image is set by providers that render locally.
	Image []byte `json:"-"`
	// Address is the closest address to the view center, when known.
	Address string `json:"address,omitempty"`
}

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Scheduler frame.Scheduler
	Retry     retry.Policy
}

// Config selects and configures an adapter.
type Config struct {
	Provider models.Provider

	GoogleAPIKey string
	AzureKey     string

	// OSM raster tiles
	TileURL         string
	TileAttribution string
	TileCacheDir    string

	// Geocoder resolves closest addresses for OSM snapshots. Optional.
	Geocoder *nominatim.Client
}

// New creates the adapter selected by cfg.Provider.
func New(cfg Config, deps Deps) (Adapter, error) {
	switch cfg.Provider {
	case models.ProviderGoogle:
		return NewGoogle(cfg.GoogleAPIKey, deps), nil
	case models.ProviderAzure:
		return NewAzure(cfg.AzureKey, deps), nil
	case models.ProviderOSM:
		return NewOSM(OSMConfig{
			TileURL:     cfg.TileURL,
			Attribution: cfg.TileAttribution,
			CacheDir:    cfg.TileCacheDir,
			Geocoder:    cfg.Geocoder,
		}, deps), nil
	}
	return nil, fmt.Errorf("unknown map provider %q", cfg.Provider)
}

// ComputeView applies the fit/center policy to the given marker positions.
func ComputeView(positions []geo.LatLng, cfg models.MapConfig, maxZoom int) (geo.LatLng, int) {
	switch n := len(positions); {
	case n == 0:
		if cfg.Center != nil {
			return *cfg.Center, cfg.GeneralZoom
		}
		return geo.LatLng{}, models.DefaultEmptyZoom

	case n == 1:
		center := positions[0]
		if !cfg.SingleCenter {
			center = initialCenter(cfg)
		}
		return center, cfg.SingleZoom

	case cfg.FitBounds:
		b, _ := geo.BoundsOf(positions)
		return geo.Fit(b, cfg.Size(), models.FitPaddingPx, 0, maxZoom)

	default:
		return geo.Mean(positions), cfg.MultipleZoom
	}
}

// initialCenter is the center a map opens at before markers are placed.
func initialCenter(cfg models.MapConfig) geo.LatLng {
	if cfg.Center != nil {
		return *cfg.Center
	}
	return geo.LatLng{}
}

package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image/color"
	"image/png"
	"strings"

	sm "github.com/flopp/go-staticmaps"
	"github.com/golang/geo/s2"

	"github.com/eduard256/mapkit/internal/loader"
	"github.com/eduard256/mapkit/internal/models"
	"github.com/eduard256/mapkit/internal/nominatim"
)

const (
	leafletBase       = "https://unpkg.com/leaflet@1.9.4/dist"
	markerClusterBase = "https://unpkg.com/leaflet.markercluster@1.5.3/dist"

	defaultTileURL         = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
	defaultTileAttribution = "© OpenStreetMap contributors"
)

// osmTileStyles are alternative raster styles selectable per map.
var osmTileStyles = map[string]string{
	"light":   "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}.png",
	"dark":    "https://{s}.basemaps.cartocdn.com/dark_all/{z}/{x}/{y}.png",
	"voyager": "https://{s}.basemaps.cartocdn.com/rastertiles/voyager/{z}/{x}/{y}.png",
}

var markerColor = color.RGBA{R: 0xd6, G: 0x2d, B: 0x20, A: 0xff}

// OSMConfig configures the OpenStreetMap adapter.
type OSMConfig struct {
	// TileURL is a Leaflet style template with {s}, {z}, {x} and {y}.
	TileURL     string
	Attribution string
	// CacheDir enables an on-disk tile cache for snapshots.
	CacheDir string
	// Geocoder resolves the closest address of a snapshot. Optional.
	Geocoder *nominatim.Client
}

type osm struct {
	cfg OSMConfig
}

// NewOSM creates the OpenStreetMap/Leaflet adapter.
func NewOSM(cfg OSMConfig, deps Deps) Adapter {
	if cfg.TileURL == "" {
		cfg.TileURL = defaultTileURL
	}
	if cfg.Attribution == "" {
		cfg.Attribution = defaultTileAttribution
	}
	return newBase(osm{cfg: cfg}, deps)
}

func (osm) name() models.Provider    { return models.ProviderOSM }
func (osm) maxZoom() int             { return 19 }
func (osm) supportsStreetView() bool { return false }

func (osm) assets() []loader.Asset {
	return []loader.Asset{
		{Kind: loader.Stylesheet, URL: leafletBase + "/leaflet.css"},
		{Kind: loader.Script, URL: leafletBase + "/leaflet.js"},
		{Kind: loader.Stylesheet, URL: markerClusterBase + "/MarkerCluster.css"},
		{Kind: loader.Script, URL: markerClusterBase + "/leaflet.markercluster.js"},
	}
}

func (osm) options(cfg models.MapConfig) map[string]interface{} {
	o := cfg.Options
	return map[string]interface{}{
		"dragging":          o.Draggable,
		"scrollWheelZoom":   o.ScrollWheel,
		"doubleClickZoom":   o.DoubleClickZoom,
		"zoomControl":       o.ZoomControl,
		"fullscreenControl": o.FullscreenControl,
	}
}

func (p osm) tileLayer(cfg models.MapConfig) string {
	return lookupOr(osmTileStyles, cfg.Options.TileStyle, p.cfg.TileURL)
}

// tileProvider converts a Leaflet template into a go-staticmaps provider.
func (p osm) tileProvider(template string) *sm.TileProvider {
	pattern := strings.NewReplacer(`{s}`, `%[1]s`, `{z}`, `%[2]d`, `{x}`, `%[3]d`, `{y}`, `%[4]d`).Replace(template)

	var shards []string
	if strings.Contains(template, "{s}") {
		shards = []string{"a", "b", "c"}
	}
	return &sm.TileProvider{
		Name:        fmt.Sprintf("mapkit-%x", sha256.Sum256([]byte(template)))[:19],
		Attribution: p.cfg.Attribution,
		TileSize:    256,
		URLPattern:  pattern,
		Shards:      shards,
	}
}

func (p osm) snapshot(ctx context.Context, m *MapHandle) (*Static, error) {
	vp := m.Viewport()

	sctx := sm.NewContext()
	sctx.SetTileProvider(p.tileProvider(m.TileLayer()))
	if p.cfg.CacheDir != "" {
		sctx.SetCache(sm.NewTileCache(p.cfg.CacheDir, 0o755))
	} else {
		sctx.SetCache(nil)
	}
	sctx.SetUserAgent("mapkit/1.0")
	sctx.SetSize(vp.Size.Width, vp.Size.Height)
	sctx.SetCenter(s2.LatLngFromDegrees(vp.Center.Lat, vp.Center.Lon))
	sctx.SetZoom(vp.Zoom)

	for _, mk := range m.Markers() {
		sctx.AddObject(sm.NewMarker(s2.LatLngFromDegrees(mk.Position.Lat, mk.Position.Lon), markerColor, 16.0))
	}

	img, err := sctx.Render()
	if err != nil {
		return nil, fmt.Errorf("render osm snapshot: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode osm snapshot: %w", err)
	}

	out := &Static{ContentType: "image/png", Image: buf.Bytes()}
	if p.cfg.Geocoder != nil {
		out.Address = p.cfg.Geocoder.ClosestAddress(ctx, vp.Center)
	}
	return out, nil
}

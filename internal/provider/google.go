package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/eduard256/mapkit/internal/loader"
	"github.com/eduard256/mapkit/internal/models"
)

const googleStaticURL = "https://maps.googleapis.com/maps/api/staticmap"

// googleMapTypes maps host map types to google.maps.MapTypeId values.
var googleMapTypes = map[string]string{
	"roadmap":   "roadmap",
	"road":      "roadmap",
	"satellite": "satellite",
	"hybrid":    "hybrid",
	"terrain":   "terrain",
}

type google struct {
	apiKey string
}

// NewGoogle creates the Google Maps adapter.
func NewGoogle(apiKey string, deps Deps) Adapter {
	return newBase(google{apiKey: apiKey}, deps)
}

func (google) name() models.Provider { return models.ProviderGoogle }
func (google) maxZoom() int          { return 21 }
func (google) supportsStreetView() bool {
	return true
}

func (g google) assets() []loader.Asset {
	q := url.Values{}
	q.Set("libraries", "places")
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}
	return []loader.Asset{
		{Kind: loader.Script, URL: "https://maps.googleapis.com/maps/api/js?" + q.Encode()},
	}
}

func (google) options(cfg models.MapConfig) map[string]interface{} {
	o := cfg.Options
	opts := map[string]interface{}{
		"draggable":              o.Draggable,
		"scrollwheel":            o.ScrollWheel,
		"disableDoubleClickZoom": !o.DoubleClickZoom,
		"zoomControl":            o.ZoomControl,
		"fullscreenControl":      o.FullscreenControl,
		"mapTypeControl":         o.MapTypeControl,
		"streetViewControl":      o.StreetViewControl,
		"mapTypeId":              lookupOr(googleMapTypes, o.MapType, "roadmap"),
	}
	if o.BackgroundColor != "" {
		opts["backgroundColor"] = o.BackgroundColor
	}
	if styles, ok := parseStyleJSON(o.StyleJSON); ok {
		opts["styles"] = styles
	}
	return opts
}

func (google) tileLayer(models.MapConfig) string { return "" }

func (g google) snapshot(_ context.Context, m *MapHandle) (*Static, error) {
	vp := m.Viewport()

	q := url.Values{}
	q.Set("center", fmt.Sprintf("%f,%f", vp.Center.Lat, vp.Center.Lon))
	q.Set("zoom", fmt.Sprint(vp.Zoom))
	q.Set("size", fmt.Sprintf("%dx%d", vp.Size.Width, vp.Size.Height))
	if mt, ok := m.Options()["mapTypeId"].(string); ok {
		q.Set("maptype", mt)
	}

	if markers := m.Markers(); len(markers) > 0 {
		locs := make([]string, 0, len(markers)+1)
		locs = append(locs, "color:red")
		for _, mk := range markers {
			locs = append(locs, fmt.Sprintf("%f,%f", mk.Position.Lat, mk.Position.Lon))
		}
		q.Set("markers", strings.Join(locs, "|"))
	}
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}

	return &Static{ContentType: "image/png", URL: googleStaticURL + "?" + q.Encode()}, nil
}

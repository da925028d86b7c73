package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/eduard256/mapkit/internal/loader"
	"github.com/eduard256/mapkit/internal/models"
)

const (
	azureSDKBase   = "https://atlas.microsoft.com/sdk/javascript/mapcontrol/3"
	azureStaticURL = "https://atlas.microsoft.com/map/static"
)

// azureStyles maps host map types to atlas style names.
var azureStyles = map[string]string{
	"roadmap":   "road",
	"road":      "road",
	"satellite": "satellite",
	"hybrid":    "satellite_road_labels",
	"terrain":   "road_shaded_relief",
	"dark":      "grayscale_dark",
	"night":     "night",
}

// azureTilesets maps atlas styles to static render tilesets.
var azureTilesets = map[string]string{
	"road":                  "microsoft.base.road",
	"satellite":             "microsoft.imagery",
	"satellite_road_labels": "microsoft.imagery",
	"road_shaded_relief":    "microsoft.base.road",
	"grayscale_dark":        "microsoft.base.darkgrey",
	"night":                 "microsoft.base.darkgrey",
}

type azure struct {
	key string
}

// NewAzure creates the Azure Maps adapter.
func NewAzure(subscriptionKey string, deps Deps) Adapter {
	return newBase(azure{key: subscriptionKey}, deps)
}

func (azure) name() models.Provider             { return models.ProviderAzure }
func (azure) maxZoom() int                      { return 20 }
func (azure) supportsStreetView() bool          { return false }
func (azure) tileLayer(models.MapConfig) string { return "" }

func (azure) assets() []loader.Asset {
	return []loader.Asset{
		{Kind: loader.Stylesheet, URL: azureSDKBase + "/atlas.min.css"},
		{Kind: loader.Script, URL: azureSDKBase + "/atlas.min.js"},
	}
}

func (azure) options(cfg models.MapConfig) map[string]interface{} {
	o := cfg.Options

	var controls []string
	if o.ZoomControl {
		controls = append(controls, "zoom")
	}
	if o.MapTypeControl {
		controls = append(controls, "style")
	}
	if o.FullscreenControl {
		controls = append(controls, "fullscreen")
	}

	opts := map[string]interface{}{
		"dragPanInteraction":      o.Draggable,
		"scrollZoomInteraction":   o.ScrollWheel,
		"dblClickZoomInteraction": o.DoubleClickZoom,
		"style":                   lookupOr(azureStyles, o.MapType, "road"),
		"controls":                controls,
		"showFeedbackLink":        false,
	}
	if o.BackgroundColor != "" {
		opts["backgroundColor"] = o.BackgroundColor
	}
	return opts
}

func (a azure) snapshot(_ context.Context, m *MapHandle) (*Static, error) {
	vp := m.Viewport()
	style, _ := m.Options()["style"].(string)

	q := url.Values{}
	q.Set("api-version", "2024-04-01")
	q.Set("tilesetId", lookupOr(azureTilesets, style, "microsoft.base.road"))
	// Azure takes lon,lat.
	q.Set("center", fmt.Sprintf("%f,%f", vp.Center.Lon, vp.Center.Lat))
	q.Set("zoom", fmt.Sprint(vp.Zoom))
	q.Set("width", fmt.Sprint(vp.Size.Width))
	q.Set("height", fmt.Sprint(vp.Size.Height))

	if markers := m.Markers(); len(markers) > 0 {
		pins := make([]string, len(markers))
		for i, mk := range markers {
			pins[i] = fmt.Sprintf("%f %f", mk.Position.Lon, mk.Position.Lat)
		}
		q.Set("pins", "default||"+strings.Join(pins, "|"))
	}
	if a.key != "" {
		q.Set("subscription-key", a.key)
	}

	return &Static{ContentType: "image/png", URL: azureStaticURL + "?" + q.Encode()}, nil
}

// Package collector normalizes the declarative attributes the host publishes
// for a map container into a MapConfig and its MarkerSpecs.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/host"
	"github.com/eduard256/mapkit/internal/models"
)

// ErrNotReady is returned while the host has not published the container.
var ErrNotReady = errors.New("map container not ready")

// Map attribute keys.
const (
	AttrGeneralZoom        = "general_zoom"
	AttrGeneralCenterLat   = "general_center_lat"
	AttrGeneralCenterLon   = "general_center_lon"
	AttrFitBounds          = "fitbounds"
	AttrSingleZoom         = "single_zoom"
	AttrMultipleZoom       = "multiple_zoom"
	AttrSingleCenter       = "single_center"
	AttrCluster            = "cluster"
	AttrClusterGridSize    = "cluster_grid_size"
	AttrClusterMinSize     = "cluster_min_size"
	AttrClusterMaxZoom     = "cluster_max_zoom"
	AttrClusterClickZoom   = "cluster_click_zoom"
	AttrMarkerIcon         = "marker_icon"
	AttrMarkerIconHover    = "marker_icon_hover"
	AttrMarkerIconUseHover = "marker_icon_use_hover"
	AttrDraggable          = "draggable"
	AttrScrollWheel        = "scrollwheel"
	AttrDoubleClickZoom    = "double_click_zoom"
	AttrZoomControl        = "zoom_control"
	AttrFullscreenControl  = "fullscreen_control"
	AttrMapTypeControl     = "map_type_control"
	AttrStreetViewControl  = "street_view_control"
	AttrMapType            = "map_type"
	AttrBackgroundColor    = "background_color"
	AttrStyleJSON          = "style_json"
	AttrTileStyle          = "tile_style"
	AttrStreetView         = "street_view"
	AttrStreetViewMarker   = "marker_id"
	AttrStreetViewLocation = "location"
	AttrStreetViewLat      = "lat"
	AttrStreetViewLon      = "lon"
	AttrHeading            = "heading"
	AttrPitch              = "pitch"
)

// Marker attribute keys.
const (
	MarkerAttrID        = "id"
	MarkerAttrLat       = "lat"
	MarkerAttrLon       = "lon"
	MarkerAttrTitle     = "title"
	MarkerAttrIcon      = "icon"
	MarkerAttrIconHover = "icon_hover"
	MarkerAttrSource    = "source"
)

// Values that mark the visitor location sentinel.
const (
	visitorSource = "visitor"
	visitorLat    = "geo"
)

// Collector reads elements from the host page.
type Collector struct {
	page *host.Page
}

// New creates a Collector over page.
func New(page *host.Page) *Collector {
	return &Collector{page: page}
}

// Collect reads and normalizes the element for containerID. It returns
// ErrNotReady while the element is missing; callers retry with a bound.
func (c *Collector) Collect(ctx context.Context, containerID string) (models.MapConfig, []models.MarkerSpec, error) {
	el, err := c.page.Element(ctx, containerID)
	if err != nil {
		if errors.Is(err, host.ErrNotFound) {
			return models.MapConfig{}, nil, fmt.Errorf("%w: %s", ErrNotReady, containerID)
		}
		return models.MapConfig{}, nil, fmt.Errorf("lookup container %s: %w", containerID, err)
	}

	cfg, specs := FromAttributes(containerID, el)
	return cfg, specs, nil
}

// FromAttributes normalizes an explicit element, such as a live preview
// snapshot. Missing or unparsable values fall back to defaults. Marker
// positions are not validated here.
func FromAttributes(id string, el host.Element) (models.MapConfig, []models.MarkerSpec) {
	a := attrs(el.Attributes)

	cfg := models.MapConfig{
		MapID:        id,
		GeneralZoom:  a.zoom(AttrGeneralZoom, models.DefaultGeneralZoom),
		SingleZoom:   a.zoom(AttrSingleZoom, models.DefaultSingleZoom),
		SingleCenter: a.boolean(AttrSingleCenter, true),
		FitBounds:    a.boolean(AttrFitBounds, true),

		Cluster: models.ClusterPolicy{
			Enabled:              a.boolean(AttrCluster, false),
			MaxDistancePx:        a.positive(AttrClusterGridSize, models.DefaultMaxDistancePx),
			MinClusterSize:       a.positive(AttrClusterMinSize, models.DefaultMinClusterSize),
			MaxZoomForClustering: a.nonNegative(AttrClusterMaxZoom, 0),
			ZoomOnClick:          a.boolean(AttrClusterClickZoom, true),
		},

		MarkerIcon:         a.str(AttrMarkerIcon),
		MarkerIconHover:    a.str(AttrMarkerIconHover),
		MarkerIconUseHover: a.boolean(AttrMarkerIconUseHover, false),

		Width:  positiveOr(el.Width, models.DefaultWidth),
		Height: positiveOr(el.Height, models.DefaultHeight),

		Options: models.ProviderOptions{
			Draggable:         a.boolean(AttrDraggable, true),
			ScrollWheel:       a.boolean(AttrScrollWheel, true),
			DoubleClickZoom:   a.boolean(AttrDoubleClickZoom, true),
			ZoomControl:       a.boolean(AttrZoomControl, true),
			FullscreenControl: a.boolean(AttrFullscreenControl, true),
			MapTypeControl:    a.boolean(AttrMapTypeControl, false),
			StreetViewControl: a.boolean(AttrStreetViewControl, false),
			MapType:           strings.ToLower(a.str(AttrMapType)),
			BackgroundColor:   a.str(AttrBackgroundColor),
			StyleJSON:         a.str(AttrStyleJSON),
			TileStyle:         a.str(AttrTileStyle),
		},
	}
	cfg.MultipleZoom = a.zoom(AttrMultipleZoom, cfg.GeneralZoom)

	if lat, lon, ok := a.position(AttrGeneralCenterLat, AttrGeneralCenterLon); ok {
		cfg.Center = &geo.LatLng{Lat: lat, Lon: lon}
	}

	cfg.StreetView = streetView(a)

	specs := make([]models.MarkerSpec, 0, len(el.Markers))
	for i, m := range el.Markers {
		specs = append(specs, markerSpec(i, m))
	}
	return cfg, specs
}

func streetView(a attrs) models.StreetView {
	sv := models.StreetView{
		Enabled:  a.boolean(AttrStreetView, false),
		MarkerID: a.str(AttrStreetViewMarker),
		Heading:  a.float(AttrHeading, 0),
		Pitch:    a.float(AttrPitch, 0),
	}
	// "location" selects an explicit position; otherwise the panorama
	// follows a marker, or the first marker when none is named.
	if a.str(AttrStreetViewLocation) != "" || sv.MarkerID == "" {
		if lat, lon, ok := a.position(AttrStreetViewLat, AttrStreetViewLon); ok {
			sv.Position = &geo.LatLng{Lat: lat, Lon: lon}
		}
	}
	return sv
}

func markerSpec(i int, m host.MarkerElement) models.MarkerSpec {
	a := attrs(m.Attributes)

	id := a.str(MarkerAttrID)
	if id == "" {
		id = fmt.Sprintf("marker-%d", i)
	}

	spec := models.MarkerSpec{
		MarkerID:     id,
		Title:        a.str(MarkerAttrTitle),
		PopupContent: m.Content,
		Icon:         a.str(MarkerAttrIcon),
		HoverIcon:    a.str(MarkerAttrIconHover),
	}

	if strings.EqualFold(a.str(MarkerAttrSource), visitorSource) || strings.EqualFold(a.str(MarkerAttrLat), visitorLat) {
		spec.VisitorLocation = true
		return spec
	}

	// Unparsable coordinates become NaN so AddMarkers rejects the marker.
	spec.Position = geo.LatLng{
		Lat: a.coordinate(MarkerAttrLat),
		Lon: a.coordinate(MarkerAttrLon),
	}
	return spec
}

// Package models defines the provider-agnostic description of a map and its markers.
package models

import (
	"github.com/eduard256/mapkit/internal/geo"
)

// Default values substituted for missing or invalid host attributes.
const (
	DefaultGeneralZoom    = 5
	DefaultSingleZoom     = 14
	DefaultEmptyZoom      = 2
	DefaultMinClusterSize = 2
	DefaultMaxDistancePx  = 60
	DefaultWidth          = 640
	DefaultHeight         = 480
	// FitPaddingPx is kept clear on every side when fitting bounds.
	FitPaddingPx = 30
)

// Provider names one of the supported mapping backends.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderAzure  Provider = "azure"
	ProviderOSM    Provider = "osm"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderAzure, ProviderOSM:
		return true
	}
	return false
}

// ClusterPolicy controls marker clustering for one map.
type ClusterPolicy struct {
	Enabled        bool `json:"enabled"`
	MaxDistancePx  int  `json:"max_distance_px"`
	MinClusterSize int  `json:"min_cluster_size"`
	// MaxZoomForClustering disables clustering above this zoom; 0 means never.
	MaxZoomForClustering int  `json:"max_zoom_for_clustering"`
	ZoomOnClick          bool `json:"zoom_on_click"`
}

// StreetView describes the optional street-level panorama of a map.
type StreetView struct {
	Enabled  bool        `json:"enabled"`
	MarkerID string      `json:"marker_id,omitempty"`
	Position *geo.LatLng `json:"position,omitempty"`
	Heading  float64     `json:"heading"`
	Pitch    float64     `json:"pitch"`
}

// ProviderOptions are passed through to the provider SDK translation.
type ProviderOptions struct {
	Draggable         bool   `json:"draggable"`
	ScrollWheel       bool   `json:"scroll_wheel"`
	DoubleClickZoom   bool   `json:"double_click_zoom"`
	ZoomControl       bool   `json:"zoom_control"`
	FullscreenControl bool   `json:"fullscreen_control"`
	MapTypeControl    bool   `json:"map_type_control"`
	StreetViewControl bool   `json:"street_view_control"`
	MapType           string `json:"map_type,omitempty"`
	BackgroundColor   string `json:"background_color,omitempty"`
	StyleJSON         string `json:"style_json,omitempty"`
	TileStyle         string `json:"tile_style,omitempty"`
}

// MapConfig is the normalized, immutable description of one rendered map.
type MapConfig struct {
	MapID        string      `json:"map_id"`
	Center       *geo.LatLng `json:"center,omitempty"`
	GeneralZoom  int         `json:"general_zoom"`
	SingleZoom   int         `json:"single_zoom"`
	MultipleZoom int         `json:"multiple_zoom"`
	SingleCenter bool        `json:"single_center"`
	FitBounds    bool        `json:"fit_bounds"`

	Cluster ClusterPolicy `json:"cluster"`

	MarkerIcon         string `json:"marker_icon,omitempty"`
	MarkerIconHover    string `json:"marker_icon_hover,omitempty"`
	MarkerIconUseHover bool   `json:"marker_icon_use_hover"`

	StreetView StreetView `json:"street_view"`

	Width  int `json:"width"`
	Height int `json:"height"`

	Options ProviderOptions `json:"options"`
}

// Size returns the container size of the map.
func (c MapConfig) Size() geo.Size {
	return geo.Size{Width: c.Width, Height: c.Height}
}

// MarkerSpec describes one point shown on a map.
type MarkerSpec struct {
	MarkerID     string     `json:"marker_id"`
	Position     geo.LatLng `json:"position"`
	Title        string     `json:"title,omitempty"`
	PopupContent string     `json:"popup_content,omitempty"`
	Icon         string     `json:"icon,omitempty"`
	HoverIcon    string     `json:"hover_icon,omitempty"`
	// VisitorLocation marks a marker whose position is the current visitor
	// location, resolved before the marker is rendered.
	VisitorLocation bool `json:"visitor_location,omitempty"`
}

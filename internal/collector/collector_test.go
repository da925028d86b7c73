package collector

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduard256/mapkit/internal/host"
	"github.com/eduard256/mapkit/internal/models"
)

func TestCollectNotReady(t *testing.T) {
	c := New(host.NewPage(host.NewMemorySource()))

	_, _, err := c.Collect(context.Background(), "m1")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestCollectDefaults(t *testing.T) {
	src := host.NewMemorySource()
	src.Put(host.Element{ID: "m1"})
	c := New(host.NewPage(src))

	cfg, specs, err := c.Collect(context.Background(), "m1")
	require.NoError(t, err)
	assert.Empty(t, specs)

	assert.Equal(t, "m1", cfg.MapID)
	assert.Nil(t, cfg.Center)
	assert.Equal(t, models.DefaultGeneralZoom, cfg.GeneralZoom)
	assert.Equal(t, models.DefaultSingleZoom, cfg.SingleZoom)
	assert.Equal(t, cfg.GeneralZoom, cfg.MultipleZoom)
	assert.True(t, cfg.FitBounds)
	assert.True(t, cfg.SingleCenter)
	assert.False(t, cfg.Cluster.Enabled)
	assert.Equal(t, models.DefaultMinClusterSize, cfg.Cluster.MinClusterSize)
	assert.Equal(t, models.DefaultMaxDistancePx, cfg.Cluster.MaxDistancePx)
	assert.Equal(t, models.DefaultWidth, cfg.Width)
	assert.Equal(t, models.DefaultHeight, cfg.Height)
	assert.True(t, cfg.Options.Draggable)
	assert.False(t, cfg.Options.MapTypeControl)
}

func TestFromAttributesInvalidNumbers(t *testing.T) {
	cfg, _ := FromAttributes("m1", host.Element{Attributes: map[string]string{
		AttrGeneralZoom:      "abc",
		AttrSingleZoom:       "99",
		AttrClusterMinSize:   "-4",
		AttrClusterGridSize:  "0",
		AttrGeneralCenterLat: "not-a-number",
		AttrGeneralCenterLon: "10",
	}})

	assert.Equal(t, models.DefaultGeneralZoom, cfg.GeneralZoom)
	assert.Equal(t, models.DefaultSingleZoom, cfg.SingleZoom)
	assert.Equal(t, models.DefaultMinClusterSize, cfg.Cluster.MinClusterSize)
	assert.Equal(t, models.DefaultMaxDistancePx, cfg.Cluster.MaxDistancePx)
	assert.Nil(t, cfg.Center)
}

func TestFromAttributesFull(t *testing.T) {
	el := host.Element{
		ID:     "m1",
		Width:  800,
		Height: 600,
		Attributes: map[string]string{
			AttrGeneralZoom:        "7",
			AttrGeneralCenterLat:   "42.36",
			AttrGeneralCenterLon:   "-71.06",
			AttrFitBounds:          "0",
			AttrSingleZoom:         "16.0",
			AttrMultipleZoom:       "9",
			AttrSingleCenter:       "no",
			AttrCluster:            "true",
			AttrClusterGridSize:    "80",
			AttrClusterMinSize:     "3",
			AttrClusterMaxZoom:     "15",
			AttrClusterClickZoom:   "off",
			AttrMarkerIcon:         "https://cdn.example/pin.png",
			AttrMarkerIconHover:    "https://cdn.example/pin-hover.png",
			AttrMarkerIconUseHover: "yes",
			AttrScrollWheel:        "false",
			AttrMapType:            "SATELLITE",
			AttrTileStyle:          "dark",
			AttrStreetView:         "1",
			AttrStreetViewMarker:   "b",
			AttrHeading:            "90",
			AttrPitch:              "-5",
		},
		Markers: []host.MarkerElement{
			{Attributes: map[string]string{"id": "a", "lat": "42.36", "lon": "-71.06", "title": "A"}, Content: "<b>A</b>"},
			{Attributes: map[string]string{"id": "b", "lat": "42.40", "lon": "-71.10", "icon": "x.png"}},
		},
	}

	cfg, specs := FromAttributes("m1", el)

	require.NotNil(t, cfg.Center)
	assert.InDelta(t, 42.36, cfg.Center.Lat, 1e-9)
	assert.InDelta(t, -71.06, cfg.Center.Lon, 1e-9)
	assert.Equal(t, 7, cfg.GeneralZoom)
	assert.Equal(t, 16, cfg.SingleZoom)
	assert.Equal(t, 9, cfg.MultipleZoom)
	assert.False(t, cfg.FitBounds)
	assert.False(t, cfg.SingleCenter)

	assert.Equal(t, models.ClusterPolicy{
		Enabled:              true,
		MaxDistancePx:        80,
		MinClusterSize:       3,
		MaxZoomForClustering: 15,
		ZoomOnClick:          false,
	}, cfg.Cluster)

	assert.True(t, cfg.MarkerIconUseHover)
	assert.False(t, cfg.Options.ScrollWheel)
	assert.Equal(t, "satellite", cfg.Options.MapType)
	assert.Equal(t, "dark", cfg.Options.TileStyle)
	assert.Equal(t, 800, cfg.Width)
	assert.Equal(t, 600, cfg.Height)

	assert.True(t, cfg.StreetView.Enabled)
	assert.Equal(t, "b", cfg.StreetView.MarkerID)
	assert.Nil(t, cfg.StreetView.Position)
	assert.Equal(t, 90.0, cfg.StreetView.Heading)
	assert.Equal(t, -5.0, cfg.StreetView.Pitch)

	require.Len(t, specs, 2)
	assert.Equal(t, "a", specs[0].MarkerID)
	assert.Equal(t, "A", specs[0].Title)
	assert.Equal(t, "<b>A</b>", specs[0].PopupContent)
	assert.Equal(t, "x.png", specs[1].Icon)
	assert.InDelta(t, 42.40, specs[1].Position.Lat, 1e-9)
}

func TestFromAttributesMarkers(t *testing.T) {
	_, specs := FromAttributes("m1", host.Element{Markers: []host.MarkerElement{
		{Attributes: map[string]string{"lat": "200", "lon": "10"}},
		{Attributes: map[string]string{"lat": "oops", "lon": "10"}},
		{Attributes: map[string]string{"source": "visitor"}},
		{Attributes: map[string]string{"id": "me", "lat": "geo"}},
	}})

	require.Len(t, specs, 4)

	assert.Equal(t, "marker-0", specs[0].MarkerID)
	assert.Equal(t, 200.0, specs[0].Position.Lat, "out of range values are kept for AddMarkers to reject")

	assert.True(t, math.IsNaN(specs[1].Position.Lat))

	assert.True(t, specs[2].VisitorLocation)
	assert.True(t, specs[3].VisitorLocation)
	assert.Equal(t, "me", specs[3].MarkerID)
}

func TestStreetViewExplicitLocation(t *testing.T) {
	cfg, _ := FromAttributes("m1", host.Element{Attributes: map[string]string{
		AttrStreetView:         "1",
		AttrStreetViewLocation: "custom",
		AttrStreetViewMarker:   "a",
		AttrStreetViewLat:      "48.85",
		AttrStreetViewLon:      "2.35",
	}})

	require.NotNil(t, cfg.StreetView.Position)
	assert.InDelta(t, 48.85, cfg.StreetView.Position.Lat, 1e-9)
}

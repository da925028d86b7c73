package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduard256/mapkit/internal/cluster"
	"github.com/eduard256/mapkit/internal/collector"
	"github.com/eduard256/mapkit/internal/frame"
	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/geolocate"
	"github.com/eduard256/mapkit/internal/host"
	"github.com/eduard256/mapkit/internal/loader"
	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/internal/models"
	"github.com/eduard256/mapkit/internal/provider"
	"github.com/eduard256/mapkit/internal/registry"
	"github.com/eduard256/mapkit/internal/retry"
)

type stubLoader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *stubLoader) EnsureLoaded(_ context.Context, _ models.Provider) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.err
}

type env struct {
	orch    *Orchestrator
	src     *host.MemorySource
	sched   *frame.Manual
	loader  *stubLoader
	metrics *metrics.Metrics
}

// readOnlySource hides MemorySource's Publish, like a file backed host.
type readOnlySource struct{ src *host.MemorySource }

func (s readOnlySource) Lookup(ctx context.Context, id string) (host.Element, error) {
	return s.src.Lookup(ctx, id)
}

func newEnv(t *testing.T, p models.Provider, loc geolocate.Locator) *env {
	t.Helper()
	return newEnvOn(t, p, loc, func(src *host.MemorySource) host.Source { return src })
}

func newEnvOn(t *testing.T, p models.Provider, loc geolocate.Locator, wrap func(*host.MemorySource) host.Source) *env {
	t.Helper()
	sched := frame.NewManual()
	m := metrics.New()
	policy := retry.Policy{Interval: time.Millisecond, MaxAttempts: 5}
	adapter, err := provider.New(provider.Config{Provider: p}, provider.Deps{
		Metrics:   m,
		Scheduler: sched,
		Retry:     policy,
	})
	require.NoError(t, err)

	src := host.NewMemorySource()
	page := host.NewPage(wrap(src))
	ld := &stubLoader{}
	reg := registry.New(adapter, page, nil, m)
	t.Cleanup(reg.Close)

	return &env{
		orch: New(Config{
			Page:     page,
			Loader:   ld,
			Adapter:  adapter,
			Registry: reg,
			Locator:  loc,
			Retry:    policy,
			Metrics:  m,
		}),
		src:     src,
		sched:   sched,
		loader:  ld,
		metrics: m,
	}
}

func marker(id, lat, lon string) host.MarkerElement {
	return host.MarkerElement{Attributes: map[string]string{
		collector.MarkerAttrID:  id,
		collector.MarkerAttrLat: lat,
		collector.MarkerAttrLon: lon,
	}, Content: "<p>" + id + "</p>"}
}

func m1(attrs map[string]string, markers ...host.MarkerElement) host.Element {
	base := map[string]string{
		collector.AttrGeneralZoom: "5",
		collector.AttrFitBounds:   "1",
	}
	for k, v := range attrs {
		base[k] = v
	}
	return host.Element{ID: "m1", Width: 640, Height: 480, Attributes: base, Markers: markers}
}

func TestMountEndToEnd(t *testing.T) {
	for _, p := range []models.Provider{models.ProviderGoogle, models.ProviderAzure, models.ProviderOSM} {
		t.Run(string(p), func(t *testing.T) {
			e := newEnv(t, p, nil)
			e.src.Put(m1(nil,
				marker("a", "42.36", "-71.06"),
				marker("b", "42.40", "-71.10"),
			))

			inst, err := e.orch.Mount(context.Background(), "m1")
			require.NoError(t, err)
			require.NotNil(t, inst)
			assert.Len(t, inst.Markers, 2)
			assert.Nil(t, inst.Cluster)
			assert.Equal(t, 1, e.loader.calls)

			bounds := inst.Map.Viewport().Bounds()
			for _, mk := range inst.Markers {
				assert.True(t, bounds.Contains(mk.Position.Point()), "marker %s outside viewport", mk.ID)
			}
			assert.Equal(t, 2, inst.Map.Container().Count(host.NodeMarker))
		})
	}
}

func TestMountPromotesBelowMinimumClusterSize(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, nil)
	e.src.Put(m1(map[string]string{
		collector.AttrCluster:         "1",
		collector.AttrClusterMinSize:  "3",
		collector.AttrClusterGridSize: "5000",
	},
		marker("a", "42.36", "-71.06"),
		marker("b", "42.40", "-71.10"),
	))

	inst, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, inst.Cluster)
	e.sched.Flush()

	for _, n := range inst.Cluster.Nodes() {
		assert.Equal(t, cluster.Promoted, n.State)
	}
	c := inst.Map.Container()
	assert.Equal(t, 0, c.Count(host.NodeCluster))
	assert.Equal(t, 2, c.Count(host.NodeMarker))
}

func TestDescribeExposesClusterTier(t *testing.T) {
	e := newEnv(t, models.ProviderGoogle, nil)
	e.src.Put(m1(map[string]string{
		collector.AttrCluster:         "1",
		collector.AttrClusterGridSize: "5000",
	},
		marker("a", "42.36", "-71.06"),
		marker("b", "42.40", "-71.10"),
	))

	_, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)
	e.sched.Flush()

	d, err := e.orch.Describe("m1")
	require.NoError(t, err)
	require.Len(t, d.Clusters, 1)
	assert.Equal(t, cluster.Aggregated, d.Clusters[0].State)
	assert.Equal(t, cluster.Tier{Index: 1, SizePx: 53}, d.Clusters[0].Tier)

	var badge *host.Node
	for i, n := range d.Nodes {
		if n.Kind == host.NodeCluster {
			badge = &d.Nodes[i]
		}
	}
	require.NotNil(t, badge)
	assert.Equal(t, "2", badge.Text)
	assert.Equal(t, "m1", badge.Icon)
}

func TestMountSkipsInvalidMarker(t *testing.T) {
	e := newEnv(t, models.ProviderGoogle, nil)
	e.src.Put(m1(nil,
		marker("a", "42.36", "-71.06"),
		marker("bad", "200", "-71.08"),
		marker("b", "42.40", "-71.10"),
	))

	inst, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, inst.Markers, 2)
	for _, mk := range inst.Markers {
		assert.NotEqual(t, "bad", mk.ID)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.MarkersSkipped.WithLabelValues(string(models.ProviderGoogle))))

	bounds := inst.Map.Viewport().Bounds()
	assert.Less(t, bounds.Max.Lat(), 90.0)
}

func TestMountWaitsForHostData(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, nil)
	go func() {
		time.Sleep(2 * time.Millisecond)
		e.src.Put(m1(nil, marker("a", "1", "2")))
	}()

	inst, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)
	assert.Len(t, inst.Markers, 1)
}

func TestMountGivesUp(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, nil)

	inst, err := e.orch.Mount(context.Background(), "missing")
	assert.Nil(t, inst)
	assert.ErrorIs(t, err, retry.ErrGaveUp)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.RetriesAbandoned.WithLabelValues("collect")))
	assert.Empty(t, e.orch.Mounted())
	assert.Equal(t, 0, e.loader.calls)
}

func TestMountLoaderUnavailable(t *testing.T) {
	e := newEnv(t, models.ProviderAzure, nil)
	e.loader.err = loader.ErrUnavailable
	e.src.Put(m1(nil, marker("a", "1", "2")))

	_, err := e.orch.Mount(context.Background(), "m1")
	assert.ErrorIs(t, err, loader.ErrUnavailable)
	assert.Empty(t, e.orch.Mounted())
}

func TestMountReplacesInstance(t *testing.T) {
	e := newEnv(t, models.ProviderGoogle, nil)
	e.src.Put(m1(nil, marker("a", "1", "2"), marker("b", "3", "4")))

	first, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)
	second, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)

	assert.NotEqual(t, first.Generation, second.Generation)
	assert.True(t, first.Map.Removed())
	assert.Equal(t, 2, second.Map.Container().Count(host.NodeMarker))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.LiveInstances))
}

func TestVisitorMarker(t *testing.T) {
	visitor := host.MarkerElement{Attributes: map[string]string{
		collector.MarkerAttrID:     "me",
		collector.MarkerAttrSource: "visitor",
	}}

	t.Run("located", func(t *testing.T) {
		e := newEnv(t, models.ProviderOSM, geolocate.Fixed{Lat: 10, Lon: 20})
		e.src.Put(m1(nil, marker("a", "1", "2"), visitor))

		inst, err := e.orch.Mount(context.Background(), "m1")
		require.NoError(t, err)
		mk, ok := inst.Map.Marker("me")
		require.True(t, ok)
		assert.Equal(t, geo.LatLng{Lat: 10, Lon: 20}, mk.Position)
	})

	t.Run("no locator", func(t *testing.T) {
		e := newEnv(t, models.ProviderOSM, nil)
		e.src.Put(m1(nil, marker("a", "1", "2"), visitor))

		inst, err := e.orch.Mount(context.Background(), "m1")
		require.NoError(t, err)
		assert.Len(t, inst.Markers, 1)
	})
}

func TestUnknownIDsAreIgnored(t *testing.T) {
	e := newEnv(t, models.ProviderGoogle, nil)
	ctx := context.Background()

	inst, err := e.orch.Reload(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, inst)

	assert.False(t, e.orch.FocusOnMarker("nope", "a"))
	assert.False(t, e.orch.RestoreBounds("nope"))
	assert.False(t, e.orch.ClickCluster("nope", "a"))
	assert.NotPanics(t, func() { e.orch.Unmount("nope") })

	_, err = e.orch.Describe("nope")
	assert.ErrorIs(t, err, ErrNotMounted)
	_, err = e.orch.GeoJSON("nope", nil)
	assert.ErrorIs(t, err, ErrNotMounted)
	_, err = e.orch.Snapshot(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotMounted)
}

func TestUpdateMapByIDIgnoresUnknownIDOnReadOnlyHost(t *testing.T) {
	e := newEnvOn(t, models.ProviderGoogle, nil, func(src *host.MemorySource) host.Source {
		return readOnlySource{src: src}
	})

	inst, err := e.orch.UpdateMapByID(context.Background(), "nope", Update{Attributes: map[string]string{"general_zoom": "3"}})
	assert.NoError(t, err)
	assert.Nil(t, inst)
	assert.Empty(t, e.orch.Mounted())
	assert.Equal(t, 0, e.loader.calls)
}

func TestUpdateMapByIDPublishesPreview(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, nil)
	ctx := context.Background()

	inst, err := e.orch.UpdateMapByID(ctx, "preview", Update{
		Attributes: map[string]string{
			collector.AttrGeneralZoom: "6",
			collector.AttrFitBounds:   "1",
		},
		Markers: []host.MarkerElement{marker("a", "48.85", "2.35"), marker("b", "48.86", "2.29")},
	})
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Len(t, inst.Markers, 2)
	assert.Equal(t, []string{"preview"}, e.orch.Mounted())

	el, err := e.src.Lookup(ctx, "preview")
	require.NoError(t, err)
	assert.Equal(t, "6", el.Attr(collector.AttrGeneralZoom))
	assert.Len(t, el.Markers, 2)

	// A second edit rebuilds the live map without republishing.
	inst, err = e.orch.UpdateMapByID(ctx, "preview", Update{Markers: []host.MarkerElement{marker("a", "48.85", "2.35")}})
	require.NoError(t, err)
	assert.Len(t, inst.Markers, 1)
	el, err = e.src.Lookup(ctx, "preview")
	require.NoError(t, err)
	assert.Len(t, el.Markers, 2)
}

func TestReloadPicksUpHostChanges(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, nil)
	e.src.Put(m1(nil, marker("a", "1", "2")))
	_, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)

	e.src.Put(m1(nil, marker("a", "1", "2"), marker("b", "3", "4")))
	inst, err := e.orch.Reload(context.Background(), "m1")
	require.NoError(t, err)
	assert.Len(t, inst.Markers, 2)
}

func TestUpdateMapByID(t *testing.T) {
	e := newEnv(t, models.ProviderGoogle, nil)
	e.src.Put(m1(nil, marker("a", "1", "2")))
	_, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)

	inst, err := e.orch.UpdateMapByID(context.Background(), "m1", Update{
		Attributes: map[string]string{collector.AttrSingleZoom: "9"},
		Markers:    []host.MarkerElement{marker("x", "5", "6"), marker("y", "5.1", "6.1")},
	})
	require.NoError(t, err)
	assert.Equal(t, 9, inst.Config.SingleZoom)
	assert.Equal(t, 5, inst.Config.GeneralZoom)
	_, ok := inst.Map.Marker("x")
	assert.True(t, ok)
	_, ok = inst.Map.Marker("a")
	assert.False(t, ok)

	// The host element itself is untouched.
	el, err := host.NewPage(e.src).Element(context.Background(), "m1")
	require.NoError(t, err)
	assert.Empty(t, el.Attributes[collector.AttrSingleZoom])
}

func TestFocusAndRestore(t *testing.T) {
	e := newEnv(t, models.ProviderAzure, nil)
	e.src.Put(m1(nil, marker("a", "42.36", "-71.06"), marker("b", "42.40", "-71.10")))
	inst, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)
	fitted := inst.Map.Viewport()

	assert.False(t, e.orch.FocusOnMarker("m1", "zzz"))
	require.True(t, e.orch.FocusOnMarker("m1", "b"))
	vp := inst.Map.Viewport()
	assert.Equal(t, geo.LatLng{Lat: 42.40, Lon: -71.10}, vp.Center)
	assert.Equal(t, models.DefaultSingleZoom, vp.Zoom)
	assert.Equal(t, "b", inst.Map.OpenPopupID())

	require.True(t, e.orch.RestoreBounds("m1"))
	assert.Equal(t, fitted, inst.Map.Viewport())
}

func TestUnmount(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, nil)
	e.src.Put(m1(nil, marker("a", "1", "2")))
	inst, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)

	e.orch.Unmount("m1")
	e.orch.Unmount("m1")
	assert.True(t, inst.Map.Removed())
	assert.Empty(t, e.orch.Mounted())
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.LiveInstances))
}

func TestUnmountCancelsPendingMount(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, nil)
	e.orch.retry = retry.Policy{Interval: 5 * time.Millisecond, MaxAttempts: 200}

	done := make(chan error, 1)
	go func() {
		_, err := e.orch.Mount(context.Background(), "m1")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	e.orch.Unmount("m1")
	e.src.Put(m1(nil, marker("a", "1", "2")))

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("mount did not observe cancellation")
	}
	assert.Empty(t, e.orch.Mounted())
}

func TestHostChanged(t *testing.T) {
	e := newEnv(t, models.ProviderGoogle, nil)
	e.src.Put(m1(nil, marker("a", "1", "2")))
	ctx := context.Background()

	e.orch.HostChanged(ctx, []string{"m1"})
	assert.Equal(t, []string{"m1"}, e.orch.Mounted())

	e.src.Delete("m1")
	e.orch.HostChanged(ctx, []string{"m1"})
	assert.Empty(t, e.orch.Mounted())
}

func TestDescribeAndGeoJSON(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, nil)
	el := m1(nil, marker("a", "42.36", "-71.06"), marker("b", "42.40", "-71.10"))
	el.Markers[0].Attributes[collector.MarkerAttrTitle] = "Alpha"
	e.src.Put(el)
	inst, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)

	d, err := e.orch.Describe("m1")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderOSM, d.Provider)
	assert.Equal(t, inst.Generation.String(), d.Generation)
	assert.Len(t, d.Markers, 2)
	assert.NotEmpty(t, d.TileLayer)
	assert.Equal(t, inst.Map.Viewport(), d.Viewport)

	fc, err := e.orch.GeoJSON("m1", nil)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	titles := map[interface{}]interface{}{}
	for _, f := range fc.Features {
		titles[f.ID] = f.Properties["title"]
		assert.NotContains(t, f.Properties, "distance_m")
	}
	assert.Equal(t, "Alpha", titles["a"])
	assert.Nil(t, titles["b"])

	fc, err = e.orch.GeoJSON("m1", &geo.LatLng{Lat: 42.36, Lon: -71.06})
	require.NoError(t, err)
	dist := map[interface{}]float64{}
	for _, f := range fc.Features {
		dist[f.ID] = f.Properties["distance_m"].(float64)
	}
	assert.Zero(t, dist["a"])
	assert.InDelta(t, 5530, dist["b"], 100)
}

func TestSnapshotGoogle(t *testing.T) {
	e := newEnv(t, models.ProviderGoogle, nil)
	e.src.Put(m1(nil, marker("a", "1", "2")))
	_, err := e.orch.Mount(context.Background(), "m1")
	require.NoError(t, err)

	s, err := e.orch.Snapshot(context.Background(), "m1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.URL)
}

package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduard256/mapkit/internal/cluster"
	"github.com/eduard256/mapkit/internal/frame"
	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/host"
	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/internal/models"
	"github.com/eduard256/mapkit/internal/provider"
	"github.com/eduard256/mapkit/internal/retry"
)

type env struct {
	reg     *Registry
	src     *host.MemorySource
	page    *host.Page
	sched   *frame.Manual
	metrics *metrics.Metrics
}

func newEnv(t *testing.T, p models.Provider, policy retry.Policy) *env {
	t.Helper()
	sched := frame.NewManual()
	m := metrics.New()
	adapter, err := provider.New(provider.Config{Provider: p}, provider.Deps{
		Metrics:   m,
		Scheduler: sched,
		Retry:     policy,
	})
	require.NoError(t, err)

	src := host.NewMemorySource()
	page := host.NewPage(src)
	return &env{
		reg:     New(adapter, page, nil, m),
		src:     src,
		page:    page,
		sched:   sched,
		metrics: m,
	}
}

func fastRetry() retry.Policy {
	return retry.Policy{Interval: time.Millisecond, MaxAttempts: 3}
}

func config(id string) models.MapConfig {
	return models.MapConfig{
		MapID:        id,
		GeneralZoom:  5,
		SingleZoom:   14,
		MultipleZoom: 5,
		SingleCenter: true,
		FitBounds:    true,
		Width:        640,
		Height:       480,
		Cluster:      models.ClusterPolicy{MaxDistancePx: 60, MinClusterSize: 2},
	}
}

func markers(n int) []models.MarkerSpec {
	out := make([]models.MarkerSpec, n)
	for i := range out {
		out[i] = models.MarkerSpec{
			MarkerID: fmt.Sprintf("mk%d", i),
			Position: geo.LatLng{Lat: 40 + float64(i), Lon: -70 - float64(i)},
		}
	}
	return out
}

func TestCreateAndGet(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, fastRetry())
	e.src.Put(host.Element{ID: "m1"})

	assert.Nil(t, e.reg.Get("m1"))

	inst, err := e.reg.Create(context.Background(), "m1", config("m1"), markers(3))
	require.NoError(t, err)
	assert.Same(t, inst, e.reg.Get("m1"))
	assert.Len(t, inst.Markers, 3)
	assert.Nil(t, inst.Cluster)
	assert.NotEqual(t, uuid.Nil, inst.Generation)
	assert.Equal(t, []string{"m1"}, e.reg.IDs())
}

func TestCreateReplacesExistingInstance(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, fastRetry())
	e.src.Put(host.Element{ID: "m1"})

	cfg := config("m1")
	cfg.Cluster.Enabled = true

	first, err := e.reg.Create(context.Background(), "m1", cfg, markers(4))
	require.NoError(t, err)
	e.sched.Flush()

	second, err := e.reg.Create(context.Background(), "m1", cfg, markers(2))
	require.NoError(t, err)
	e.sched.Flush()

	assert.NotEqual(t, first.Generation, second.Generation)
	assert.True(t, first.Map.Removed())
	assert.Equal(t, 0, first.Map.ListenerCount())

	c := second.Map.Container()
	assert.Len(t, second.Map.Markers(), 2)
	rendered := c.Count(host.NodeMarker)
	for _, n := range second.Cluster.Nodes() {
		if n.State == cluster.Aggregated {
			rendered += n.Count()
		}
	}
	assert.Equal(t, 2, rendered, "only the new snapshot's markers are attached")
	assert.Equal(t, 1, c.Count(host.NodeMap))

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.LiveInstances))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.InstancesCreated))
}

func TestDestroyIsIdempotent(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, fastRetry())
	e.src.Put(host.Element{ID: "m1"})

	inst, err := e.reg.Create(context.Background(), "m1", config("m1"), markers(2))
	require.NoError(t, err)
	c := inst.Map.Container()

	e.reg.Destroy("m1")
	e.reg.Destroy("m1")
	e.reg.Destroy("never-created")

	assert.Nil(t, e.reg.Get("m1"))
	assert.Empty(t, c.Nodes())
	assert.Empty(t, e.reg.IDs())
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.LiveInstances))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.InstancesDestroyed))
}

func TestDestroyCancelsPendingCreate(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, retry.Policy{Interval: 20 * time.Millisecond, MaxAttempts: 500})

	done := make(chan error, 1)
	go func() {
		_, err := e.reg.Create(context.Background(), "m1", config("m1"), markers(1))
		done <- err
	}()

	// Let Create start waiting for the container.
	time.Sleep(50 * time.Millisecond)
	e.reg.Destroy("m1")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pending create was not cancelled")
	}

	// The element showing up later must not resurrect the map.
	e.src.Put(host.Element{ID: "m1"})
	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, e.reg.Get("m1"))
}

func TestStaleBeginTokenAborts(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, fastRetry())
	e.src.Put(host.Element{ID: "m1"})

	stale, cancelStale := e.reg.Begin(context.Background(), "m1")
	defer cancelStale()
	fresh, cancelFresh := e.reg.Begin(context.Background(), "m1")
	defer cancelFresh()

	_, err := e.reg.Create(stale, "m1", config("m1"), markers(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, e.reg.Get("m1"))

	_, err = e.reg.Create(fresh, "m1", config("m1"), markers(1))
	require.NoError(t, err)
	assert.NotNil(t, e.reg.Get("m1"))
}

func TestCreateGivesUpWithoutContainer(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, fastRetry())

	_, err := e.reg.Create(context.Background(), "ghost", config("ghost"), markers(1))
	assert.ErrorIs(t, err, retry.ErrGaveUp)
	assert.Nil(t, e.reg.Get("ghost"))
}

func TestInstancesAreIndependent(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, fastRetry())
	e.src.Put(host.Element{ID: "m1"})
	e.src.Put(host.Element{ID: "m2"})

	_, err := e.reg.Create(context.Background(), "m1", config("m1"), markers(2))
	require.NoError(t, err)
	_, err = e.reg.Create(context.Background(), "m2", config("m2"), markers(3))
	require.NoError(t, err)

	e.reg.Destroy("m1")
	require.NotNil(t, e.reg.Get("m2"))
	assert.Len(t, e.reg.Get("m2").Map.Markers(), 3)

	e.reg.Close()
	assert.Empty(t, e.reg.IDs())
}

func TestStreetViewActivation(t *testing.T) {
	e := newEnv(t, models.ProviderGoogle, fastRetry())
	e.src.Put(host.Element{ID: "m1"})

	cfg := config("m1")
	cfg.StreetView = models.StreetView{Enabled: true, MarkerID: "mk1", Heading: 45}

	inst, err := e.reg.Create(context.Background(), "m1", cfg, markers(2))
	require.NoError(t, err)

	sv := inst.Map.StreetView()
	require.NotNil(t, sv)
	assert.Equal(t, markers(2)[1].Position, sv.Position)
	assert.Equal(t, 45.0, sv.Heading)
}

func TestWith(t *testing.T) {
	e := newEnv(t, models.ProviderOSM, fastRetry())
	e.src.Put(host.Element{ID: "m1"})

	assert.False(t, e.reg.With("m1", func(*InstanceHandle) {}))

	_, err := e.reg.Create(context.Background(), "m1", config("m1"), markers(1))
	require.NoError(t, err)

	var seen string
	assert.True(t, e.reg.With("m1", func(inst *InstanceHandle) { seen = inst.MapID }))
	assert.Equal(t, "m1", seen)
}

// Package orchestrator exposes the public map operations: mount, reload,
// focus, restore and update. Every operation is safe on ids that have no
// live map; failures are logged and returned, never raised.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/eduard256/mapkit/internal/cluster"
	"github.com/eduard256/mapkit/internal/collector"
	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/geolocate"
	"github.com/eduard256/mapkit/internal/host"
	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/internal/models"
	"github.com/eduard256/mapkit/internal/provider"
	"github.com/eduard256/mapkit/internal/registry"
	"github.com/eduard256/mapkit/internal/retry"
	"github.com/eduard256/mapkit/pkg/logger"
)

// ErrNotMounted is returned by read operations for ids without a live map.
var ErrNotMounted = errors.New("map not mounted")

// SDKLoader readies a provider SDK.
type SDKLoader interface {
	EnsureLoaded(ctx context.Context, p models.Provider) error
}

// Orchestrator wires collection, SDK loading and the registry together.
type Orchestrator struct {
	page      *host.Page
	collector *collector.Collector
	loader    SDKLoader
	adapter   provider.Adapter
	registry  *registry.Registry
	locator   geolocate.Locator
	retry     retry.Policy
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// Config holds the orchestrator's collaborators.
type Config struct {
	Page     *host.Page
	Loader   SDKLoader
	Adapter  provider.Adapter
	Registry *registry.Registry
	// Locator resolves visitor location markers. Optional.
	Locator geolocate.Locator
	Retry   retry.Policy
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		page:      cfg.Page,
		collector: collector.New(cfg.Page),
		loader:    cfg.Loader,
		adapter:   cfg.Adapter,
		registry:  cfg.Registry,
		locator:   cfg.Locator,
		retry:     cfg.Retry,
		logger:    logger.OrNop(cfg.Logger).Component("orchestrator"),
		metrics:   cfg.Metrics,
	}
}

// Mount collects the host data for mapID, waiting with a bounded retry for
// the host to publish it, and builds the map. An existing instance is
// replaced. A later Mount, Reload or Unmount of the same id cancels it.
func (o *Orchestrator) Mount(ctx context.Context, mapID string) (*registry.InstanceHandle, error) {
	opCtx, cancel := o.registry.Begin(ctx, mapID)
	defer cancel()

	var (
		cfg   models.MapConfig
		specs []models.MarkerSpec
	)
	err := retry.Poll(opCtx, o.retry, func(ctx context.Context) error {
		var err error
		cfg, specs, err = o.collector.Collect(ctx, mapID)
		if err != nil && !errors.Is(err, collector.ErrNotReady) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		log := o.logger.WithField("map_id", mapID).WithError(err)
		if errors.Is(err, retry.ErrGaveUp) {
			o.metrics.IncRetryAbandoned("collect")
			log.Warn("map data never became available, giving up")
		} else {
			log.Debug("mount aborted")
		}
		return nil, fmt.Errorf("mount %s: %w", mapID, err)
	}

	return o.build(opCtx, mapID, cfg, specs)
}

func (o *Orchestrator) build(ctx context.Context, mapID string, cfg models.MapConfig, specs []models.MarkerSpec) (*registry.InstanceHandle, error) {
	log := o.logger.WithField("map_id", mapID)

	specs = geolocate.Resolve(ctx, o.locator, specs, log)

	if err := o.loader.EnsureLoaded(ctx, o.adapter.Name()); err != nil {
		log.WithError(err).Warn("map unavailable")
		return nil, fmt.Errorf("mount %s: %w", mapID, err)
	}

	inst, err := o.registry.Create(ctx, mapID, cfg, specs)
	if err != nil {
		log.WithError(err).Warn("map instance not created")
		return nil, err
	}
	return inst, nil
}

// Reload re-collects mapID's data and rebuilds its instance. Ids without a
// live map are ignored.
func (o *Orchestrator) Reload(ctx context.Context, mapID string) (*registry.InstanceHandle, error) {
	if o.registry.Get(mapID) == nil {
		o.logger.WithField("map_id", mapID).Debug("reload of unmounted map ignored")
		return nil, nil
	}
	return o.Mount(ctx, mapID)
}

// Update is an explicit attribute snapshot, such as a live preview edit.
type Update struct {
	Attributes map[string]string `json:"attributes"`
	// Markers replaces the host markers when non-nil.
	Markers []host.MarkerElement `json:"markers,omitempty"`
}

// UpdateMapByID rebuilds mapID from the host element overlaid with upd.
// When mapID has no live map and the host source accepts published elements,
// the overlaid element is published and mounted; otherwise the id is ignored.
func (o *Orchestrator) UpdateMapByID(ctx context.Context, mapID string, upd Update) (*registry.InstanceHandle, error) {
	current := o.registry.Get(mapID)
	if current == nil && !o.page.Writable() {
		o.logger.WithField("map_id", mapID).Debug("update of unmounted map ignored")
		return nil, nil
	}

	opCtx, cancel := o.registry.Begin(ctx, mapID)
	defer cancel()

	el, err := o.page.Element(opCtx, mapID)
	if err != nil {
		el = host.Element{ID: mapID}
		if current != nil {
			// The live instance still describes the map.
			el.Width, el.Height = current.Config.Width, current.Config.Height
		}
	}

	attrs := make(map[string]string, len(el.Attributes)+len(upd.Attributes))
	for k, v := range el.Attributes {
		attrs[k] = v
	}
	for k, v := range upd.Attributes {
		attrs[k] = v
	}
	el.Attributes = attrs
	if upd.Markers != nil {
		el.Markers = upd.Markers
	}

	if current == nil {
		// No live map yet: publish the element so the container exists, then
		// mount it like any host map.
		if err := o.page.Publish(opCtx, el); err != nil {
			o.logger.WithField("map_id", mapID).WithError(err).Warn("publish preview element failed")
			return nil, fmt.Errorf("publish map %s: %w", mapID, err)
		}
		o.logger.WithField("map_id", mapID).Info("preview map published")
	}

	cfg, specs := collector.FromAttributes(mapID, el)
	return o.build(opCtx, mapID, cfg, specs)
}

// FocusOnMarker centers mapID on one marker at the single-marker zoom and
// opens its popup. It reports whether both the map and marker exist.
func (o *Orchestrator) FocusOnMarker(mapID, markerID string) bool {
	found := false
	o.registry.With(mapID, func(inst *registry.InstanceHandle) {
		mk, ok := inst.Map.Marker(markerID)
		if !ok {
			return
		}
		found = true
		inst.Map.SetView(mk.Position, inst.Config.SingleZoom)
		o.adapter.OpenPopup(inst.Map, markerID)
	})
	if !found {
		o.logger.WithFields(map[string]interface{}{
			"map_id":    mapID,
			"marker_id": markerID,
		}).Debug("focus target not found")
	}
	return found
}

// RestoreBounds re-applies the fit/center policy of mapID's current config
// to its live markers. It reports whether the map exists.
func (o *Orchestrator) RestoreBounds(mapID string) bool {
	return o.registry.With(mapID, func(inst *registry.InstanceHandle) {
		o.adapter.FitOrCenter(inst.Map, inst.Markers, inst.Config)
	})
}

// ClickCluster forwards a click on an aggregate badge.
func (o *Orchestrator) ClickCluster(mapID, clusterID string) bool {
	var group *cluster.Group
	o.registry.With(mapID, func(inst *registry.InstanceHandle) {
		group = inst.Cluster
	})
	if group == nil {
		return false
	}
	// Click re-enters the map's listeners, so it runs outside the registry lock.
	return group.Click(clusterID)
}

// Unmount destroys mapID. Unknown ids are ignored.
func (o *Orchestrator) Unmount(mapID string) {
	o.registry.Destroy(mapID)
}

// HostChanged handles the mount signal for ids whose host element changed:
// published elements are mounted or rebuilt, withdrawn ones are unmounted.
func (o *Orchestrator) HostChanged(ctx context.Context, ids []string) {
	for _, id := range ids {
		if _, err := o.page.Element(ctx, id); errors.Is(err, host.ErrNotFound) {
			o.Unmount(id)
			continue
		}
		if _, err := o.Mount(ctx, id); err != nil {
			o.logger.WithField("map_id", id).WithError(err).Warn("host change not applied")
		}
	}
}

// Description is a read-only view of a live map.
type Description struct {
	MapID      string                    `json:"map_id"`
	Provider   models.Provider           `json:"provider"`
	Generation string                    `json:"generation"`
	Viewport   geo.Viewport              `json:"viewport"`
	Bounds     orb.Bound                 `json:"bounds"`
	Options    map[string]interface{}    `json:"options"`
	TileLayer  string                    `json:"tile_layer,omitempty"`
	Markers    []provider.MarkerHandle   `json:"markers"`
	Clusters   []cluster.Node            `json:"clusters,omitempty"`
	Nodes      []host.Node               `json:"nodes"`
	StreetView *provider.StreetViewState `json:"street_view,omitempty"`
	Config     models.MapConfig          `json:"config"`
}

// Describe returns the state of mapID, or ErrNotMounted.
func (o *Orchestrator) Describe(mapID string) (*Description, error) {
	var d *Description
	o.registry.With(mapID, func(inst *registry.InstanceHandle) {
		vp := inst.Map.Viewport()
		d = &Description{
			MapID:      mapID,
			Provider:   inst.Map.Provider(),
			Generation: inst.Generation.String(),
			Viewport:   vp,
			Bounds:     vp.Bounds(),
			Options:    inst.Map.Options(),
			TileLayer:  inst.Map.TileLayer(),
			Markers:    inst.Map.Markers(),
			Nodes:      inst.Map.Container().Nodes(),
			StreetView: inst.Map.StreetView(),
			Config:     inst.Config,
		}
		if inst.Cluster != nil {
			d.Clusters = inst.Cluster.Nodes()
		}
	})
	if d == nil {
		return nil, ErrNotMounted
	}
	return d, nil
}

// GeoJSON exports the live markers of mapID. With a non-nil origin every
// feature carries its great-circle distance from origin in meters.
func (o *Orchestrator) GeoJSON(mapID string, origin *geo.LatLng) (*geojson.FeatureCollection, error) {
	var marks []geo.Placemark
	ok := o.registry.With(mapID, func(inst *registry.InstanceHandle) {
		for _, mk := range inst.Map.Markers() {
			props := map[string]interface{}{}
			if mk.Title != "" {
				props["title"] = mk.Title
			}
			if mk.Icon != "" {
				props["icon"] = mk.Icon
			}
			if origin != nil {
				props["distance_m"] = math.Round(geo.Haversine(*origin, mk.Position))
			}
			marks = append(marks, geo.Placemark{ID: mk.ID, Position: mk.Position, Properties: props})
		}
	})
	if !ok {
		return nil, ErrNotMounted
	}
	return geo.ToGeoJSON(marks), nil
}

// Snapshot renders or links a static image of mapID.
func (o *Orchestrator) Snapshot(ctx context.Context, mapID string) (*provider.Static, error) {
	// The handle guards its own state; rendering may fetch tiles, so it runs
	// outside the id's lock.
	var m *provider.MapHandle
	if !o.registry.With(mapID, func(inst *registry.InstanceHandle) { m = inst.Map }) {
		return nil, ErrNotMounted
	}
	s, err := o.adapter.Snapshot(ctx, m)
	if err != nil {
		o.logger.WithField("map_id", mapID).WithError(err).Warn("snapshot failed")
		return nil, err
	}
	return s, nil
}

// Mounted returns the ids with a live map.
func (o *Orchestrator) Mounted() []string {
	return o.registry.IDs()
}

// Provider returns the page-wide provider.
func (o *Orchestrator) Provider() models.Provider {
	return o.adapter.Name()
}

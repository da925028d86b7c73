package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/eduard256/mapkit/internal/cluster"
	"github.com/eduard256/mapkit/internal/frame"
	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/host"
	"github.com/eduard256/mapkit/internal/loader"
	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/internal/models"
	"github.com/eduard256/mapkit/internal/retry"
	"github.com/eduard256/mapkit/pkg/logger"
)

// dialect is what differs between providers.
type dialect interface {
	name() models.Provider
	assets() []loader.Asset
	maxZoom() int
	options(cfg models.MapConfig) map[string]interface{}
	tileLayer(cfg models.MapConfig) string
	supportsStreetView() bool
	snapshot(ctx context.Context, m *MapHandle) (*Static, error)
}

const (
	mapNodeID        = "map"
	streetViewNodeID = "streetview"
)

func popupNodeID(markerID string) string {
	return "popup:" + markerID
}

// base implements Adapter on top of a dialect.
type base struct {
	d         dialect
	logger    *logger.Logger
	metrics   *metrics.Metrics
	scheduler frame.Scheduler
	retry     retry.Policy
}

func newBase(d dialect, deps Deps) *base {
	sched := deps.Scheduler
	if sched == nil {
		loop := frame.NewLoop(frame.DefaultInterval)
		go loop.Start(context.Background())
		sched = loop
	}
	return &base{
		d:         d,
		logger:    logger.OrNop(deps.Logger).Component("provider").WithField("provider", string(d.name())),
		metrics:   deps.Metrics,
		scheduler: sched,
		retry:     deps.Retry,
	}
}

func (b *base) Name() models.Provider  { return b.d.name() }
func (b *base) Assets() []loader.Asset { return b.d.assets() }
func (b *base) MaxZoom() int           { return b.d.maxZoom() }

func (b *base) InitMap(ctx context.Context, page *host.Page, cfg models.MapConfig) (*MapHandle, error) {
	var c *host.Container
	err := retry.Poll(ctx, b.retry, func(ctx context.Context) error {
		var err error
		c, err = page.Container(ctx, cfg.MapID)
		if err != nil && !errors.Is(err, host.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, retry.ErrGaveUp) {
			b.metrics.IncRetryAbandoned("container")
			b.logger.WithField("map_id", cfg.MapID).Warn("map container never appeared, giving up")
		}
		return nil, fmt.Errorf("init map %s: %w", cfg.MapID, err)
	}

	// Anything left from an earlier instance goes before the new map renders.
	c.Clear()

	zoom := cfg.GeneralZoom
	if zoom > b.d.maxZoom() {
		zoom = b.d.maxZoom()
	}
	m := newMapHandle(b.d.name(), c, b.d.maxZoom(), geo.Viewport{
		Center: initialCenter(cfg),
		Zoom:   zoom,
		Size:   cfg.Size(),
	})
	m.options = b.d.options(cfg)
	m.tileLayer = b.d.tileLayer(cfg)

	c.Append(host.Node{ID: mapNodeID, Kind: host.NodeMap, Text: string(b.d.name())})
	return m, nil
}

func (b *base) AddMarkers(m *MapHandle, specs []models.MarkerSpec, cfg models.MapConfig) []*MarkerHandle {
	log := b.logger.WithField("map_id", cfg.MapID)

	m.mu.Lock()
	seen := make(map[string]bool, len(m.markers)+len(specs))
	for _, mk := range m.markers {
		seen[mk.ID] = true
	}

	added := make([]*MarkerHandle, 0, len(specs))
	for _, s := range specs {
		if s.VisitorLocation {
			log.WithField("marker_id", s.MarkerID).Warn("unresolved visitor location marker skipped")
			continue
		}
		if err := s.Position.Validate(); err != nil {
			b.metrics.IncMarkerSkipped(string(b.d.name()))
			log.WithError(err).WithField("marker_id", s.MarkerID).Warn("invalid marker skipped")
			continue
		}
		if seen[s.MarkerID] {
			log.WithField("marker_id", s.MarkerID).Warn("duplicate marker skipped")
			continue
		}
		seen[s.MarkerID] = true

		mk := &MarkerHandle{
			ID:       s.MarkerID,
			Position: s.Position,
			Title:    s.Title,
			Popup:    s.PopupContent,
			Icon:     firstNonEmpty(s.Icon, cfg.MarkerIcon),
		}
		if cfg.MarkerIconUseHover {
			if hover := firstNonEmpty(s.HoverIcon, cfg.MarkerIconHover); hover != mk.Icon {
				mk.HoverIcon = hover
			}
		}
		added = append(added, mk)
	}
	m.markers = append(m.markers, added...)
	m.mu.Unlock()

	for _, mk := range added {
		m.container.Append(host.Node{ID: host.MarkerNodeID(mk.ID), Kind: host.NodeMarker, Text: mk.Title})
	}
	return added
}

func (b *base) RemoveMarkers(m *MapHandle) {
	m.mu.Lock()
	markers := m.markers
	m.markers = nil
	m.openPopup = ""
	m.mu.Unlock()

	for _, mk := range markers {
		m.container.Remove(host.MarkerNodeID(mk.ID))
		m.container.Remove(popupNodeID(mk.ID))
	}
}

func (b *base) FitOrCenter(m *MapHandle, markers []*MarkerHandle, cfg models.MapConfig) {
	positions := make([]geo.LatLng, len(markers))
	for i, mk := range markers {
		positions[i] = mk.Position
	}
	center, zoom := ComputeView(positions, cfg, b.d.maxZoom())
	m.SetView(center, zoom)
}

func (b *base) BindClustering(m *MapHandle, markers []*MarkerHandle, policy models.ClusterPolicy) *cluster.Group {
	if !policy.Enabled || len(markers) == 0 {
		return nil
	}

	items := make([]cluster.Item, len(markers))
	for i, mk := range markers {
		items[i] = cluster.Item{ID: mk.ID, Position: mk.Position, Title: mk.Title}
		// The group owns the rendering of pooled markers.
		m.container.Remove(host.MarkerNodeID(mk.ID))
	}

	return cluster.NewGroup(m, items, policy, b.scheduler,
		cluster.WithLogger(b.logger),
		cluster.WithMetrics(b.metrics),
	)
}

func (b *base) ActivateStreetView(m *MapHandle, pos geo.LatLng, heading, pitch float64) {
	if !b.d.supportsStreetView() {
		b.logger.Debug("street view not supported, ignoring")
		return
	}
	if err := pos.Validate(); err != nil {
		b.logger.WithError(err).Warn("street view position rejected")
		return
	}

	m.mu.Lock()
	if m.removed {
		m.mu.Unlock()
		return
	}
	m.streetView = &StreetViewState{Position: pos, Heading: heading, Pitch: pitch}
	m.mu.Unlock()

	m.container.Append(host.Node{ID: streetViewNodeID, Kind: host.NodeStreetView})
}

func (b *base) SetHover(m *MapHandle, markerID string, hovered bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk := m.markerLocked(markerID)
	if mk == nil || mk.HoverIcon == "" {
		return false
	}
	mk.Hovered = hovered
	return true
}

func (b *base) OpenPopup(m *MapHandle, markerID string) bool {
	m.mu.Lock()
	mk := m.markerLocked(markerID)
	if mk == nil || mk.Popup == "" {
		m.mu.Unlock()
		return false
	}
	prev := m.openPopup
	m.openPopup = markerID
	content := mk.Popup
	m.mu.Unlock()

	// One popup at a time.
	if prev != "" {
		m.container.Remove(popupNodeID(prev))
	}
	m.container.Append(host.Node{ID: popupNodeID(markerID), Kind: host.NodePopup, Text: content})
	return true
}

func (b *base) Snapshot(ctx context.Context, m *MapHandle) (*Static, error) {
	return b.d.snapshot(ctx, m)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

package cluster

import (
	"strconv"
	"sync"
	"time"

	"github.com/eduard256/mapkit/internal/frame"
	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/host"
	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/internal/models"
	"github.com/eduard256/mapkit/pkg/logger"
)

// View events a Group listens to.
const (
	EventZoomStart = "zoomstart"
	EventMoveStart = "movestart"
	EventZoomEnd   = "zoomend"
	EventMoveEnd   = "moveend"
)

// View is the live map a Group is bound to.
type View interface {
	Viewport() geo.Viewport
	MaxZoom() int
	SetView(center geo.LatLng, zoom int)
	On(event string, fn func()) int
	Off(id int)
	Container() *host.Container
}

// Group owns a pool of markers on one map and keeps their rendered form in
// sync with the view: markers return to the pool when a zoom or move starts,
// and are re-clustered when it ends. Promotion is decided one frame after
// each pass.
type Group struct {
	view      View
	policy    models.ClusterPolicy
	scheduler frame.Scheduler
	logger    *logger.Logger
	metrics   *metrics.Metrics

	mu         sync.Mutex
	items      []Item
	nodes      []Node
	rendered   []string
	listeners  []int
	generation int
	bound      bool
}

// Option configures a Group.
type Option func(*Group)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(g *Group) { g.logger = logger.OrNop(log) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Group) { g.metrics = m }
}

// NewGroup binds a group to view and runs the initial pass.
func NewGroup(view View, items []Item, policy models.ClusterPolicy, sched frame.Scheduler, opts ...Option) *Group {
	g := &Group{
		view:      view,
		policy:    policy,
		scheduler: sched,
		logger:    logger.Nop(),
		items:     append([]Item(nil), items...),
		bound:     true,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.listeners = []int{
		view.On(EventZoomStart, g.release),
		view.On(EventMoveStart, g.release),
		view.On(EventZoomEnd, g.Refresh),
		view.On(EventMoveEnd, g.Refresh),
	}

	g.Refresh()
	return g
}

// Len returns the number of pooled markers.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.items)
}

// Nodes returns a copy of the current cluster nodes.
func (g *Group) Nodes() []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// release returns every marker to the pool and drops any pending evaluation.
func (g *Group) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.bound {
		return
	}
	g.generation++
	g.nodes = nil
	g.clearLocked()
}

// Refresh runs a clustering pass at the current zoom and schedules the
// promotion decision for the next frame.
func (g *Group) Refresh() {
	vp := g.view.Viewport()

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.bound {
		return
	}

	start := time.Now()
	g.nodes = Pass(g.items, vp.Zoom, g.policy)
	g.metrics.ObserveClusterPass(time.Since(start).Seconds())

	g.generation++
	gen := g.generation

	// Until the deferred evaluation runs, every multi-member node renders
	// as an aggregate.
	g.renderLocked(func(n Node) bool { return n.Count() > 1 })

	g.scheduler.Request(func() { g.evaluate(gen) })
}

func (g *Group) evaluate(gen int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.bound || gen != g.generation {
		return
	}

	aggregated, promoted := Evaluate(g.nodes, g.policy.MinClusterSize)
	g.metrics.AddClusterNodes(aggregated, promoted)
	g.renderLocked(func(n Node) bool { return n.State == Aggregated })

	g.logger.WithFields(map[string]interface{}{
		"aggregated": aggregated,
		"promoted":   promoted,
	}).Debug("cluster policy evaluated")
}

func (g *Group) renderLocked(aggregate func(Node) bool) {
	g.clearLocked()

	c := g.view.Container()
	for _, n := range g.nodes {
		if aggregate(n) {
			id := host.ClusterNodeID(n.ID)
			c.Append(host.Node{
				ID:     id,
				Kind:   host.NodeCluster,
				Text:   strconv.Itoa(n.Count()),
				Icon:   n.Tier.Icon(),
				SizePx: n.Tier.SizePx,
			})
			g.rendered = append(g.rendered, id)
			continue
		}
		for _, m := range n.Members {
			id := host.MarkerNodeID(m.ID)
			c.Append(host.Node{ID: id, Kind: host.NodeMarker, Text: m.Title})
			g.rendered = append(g.rendered, id)
		}
	}
}

func (g *Group) clearLocked() {
	c := g.view.Container()
	for _, id := range g.rendered {
		c.Remove(id)
	}
	g.rendered = nil
}

// Click handles a click on an aggregate. With ZoomOnClick the view zooms to
// the cluster bounds; when no deeper zoom is possible the cluster is
// promoted in place. It reports whether nodeID named an aggregate.
func (g *Group) Click(nodeID string) bool {
	g.mu.Lock()
	if !g.bound {
		g.mu.Unlock()
		return false
	}

	idx := -1
	for i, n := range g.nodes {
		if n.ID == nodeID && n.State == Aggregated && n.Count() > 1 {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return false
	}
	if !g.policy.ZoomOnClick {
		g.mu.Unlock()
		return true
	}

	node := g.nodes[idx]
	vp := g.view.Viewport()
	center, zoom := geo.Fit(node.Bounds(), vp.Size, models.FitPaddingPx, 0, g.view.MaxZoom())
	if zoom <= vp.Zoom {
		g.nodes[idx].State = Promoted
		g.renderLocked(func(n Node) bool { return n.State == Aggregated })
		g.mu.Unlock()
		return true
	}
	g.mu.Unlock()

	// SetView emits view events that re-enter the group.
	g.view.SetView(center, zoom)
	return true
}

// Unbind detaches the group's listeners and removes its rendered nodes.
// It is safe to call more than once.
func (g *Group) Unbind() {
	g.mu.Lock()
	if !g.bound {
		g.mu.Unlock()
		return
	}
	g.bound = false
	g.generation++
	listeners := g.listeners
	g.listeners = nil
	g.nodes = nil
	g.clearLocked()
	g.mu.Unlock()

	for _, id := range listeners {
		g.view.Off(id)
	}
}

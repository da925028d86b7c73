package host

import (
	"context"
	"sync"
)

// Node kinds rendered into a container.
const (
	NodeMap        = "map"
	NodeMarker     = "marker"
	NodeCluster    = "cluster"
	NodePopup      = "popup"
	NodeStreetView = "streetview"
)

// Node is one rendered child of a container.
type Node struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	// Icon and SizePx style cluster badges.
	Icon   string `json:"icon,omitempty"`
	SizePx int    `json:"size_px,omitempty"`
}

// Container is the live render surface of one map.
type Container struct {
	id string

	mu    sync.Mutex
	nodes []Node
}

// ID returns the container id, equal to the map id.
func (c *Container) ID() string {
	return c.id
}

// Append adds a node, replacing any node with the same id.
func (c *Container) Append(n Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.nodes {
		if c.nodes[i].ID == n.ID {
			c.nodes[i] = n
			return
		}
	}
	c.nodes = append(c.nodes, n)
}

// Remove deletes the node with the given id. It reports whether it existed.
func (c *Container) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.nodes {
		if c.nodes[i].ID == id {
			c.nodes = append(c.nodes[:i], c.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every rendered node.
func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = nil
}

// Nodes returns a copy of the rendered nodes.
func (c *Container) Nodes() []Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Node, len(c.nodes))
	copy(out, c.nodes)
	return out
}

// Count returns the number of rendered nodes of the given kind.
func (c *Container) Count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, node := range c.nodes {
		if node.Kind == kind {
			n++
		}
	}
	return n
}

// Page resolves elements from a Source and owns one Container per mounted map.
type Page struct {
	source Source

	mu         sync.Mutex
	containers map[string]*Container
}

// NewPage creates a Page over src.
func NewPage(src Source) *Page {
	return &Page{
		source:     src,
		containers: make(map[string]*Container),
	}
}

// Element returns the declarative element for id.
func (p *Page) Element(ctx context.Context, id string) (Element, error) {
	return p.source.Lookup(ctx, id)
}

// Writable reports whether the source accepts published elements.
func (p *Page) Writable() bool {
	_, ok := p.source.(Publisher)
	return ok
}

// Publish stores e in the source. Sources owned by the host return ErrReadOnly.
func (p *Page) Publish(ctx context.Context, e Element) error {
	pub, ok := p.source.(Publisher)
	if !ok {
		return ErrReadOnly
	}
	return pub.Publish(ctx, e)
}

// Container returns the live container for id. It fails with ErrNotFound
// while the host has not published the element.
func (p *Page) Container(ctx context.Context, id string) (*Container, error) {
	if _, err := p.source.Lookup(ctx, id); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.containers[id]
	if !ok {
		c = &Container{id: id}
		p.containers[id] = c
	}
	return c, nil
}

// Release clears and forgets the container for id.
func (p *Page) Release(id string) {
	p.mu.Lock()
	c, ok := p.containers[id]
	delete(p.containers, id)
	p.mu.Unlock()

	if ok {
		c.Clear()
	}
}

// MarkerNodeID is the rendered node id of a marker.
func MarkerNodeID(markerID string) string {
	return "marker:" + markerID
}

// ClusterNodeID is the rendered node id of an aggregated cluster.
func ClusterNodeID(clusterID string) string {
	return "cluster:" + clusterID
}

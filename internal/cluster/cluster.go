// Package cluster groups nearby markers in screen space and decides which
// groups render as an aggregate badge and which fall back to individual markers.
package cluster

import (
	"strconv"

	"github.com/paulmach/orb"

	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/models"
)

// State is the render state of a cluster node.
type State int

const (
	// Aggregated nodes render as one badge with a count.
	Aggregated State = iota
	// Promoted nodes render each member as an ordinary marker.
	Promoted
)

func (s State) String() string {
	if s == Promoted {
		return "promoted"
	}
	return "aggregated"
}

// MarshalText renders the state by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Item is one clusterable marker.
type Item struct {
	ID       string     `json:"id"`
	Position geo.LatLng `json:"position"`
	Title    string     `json:"title,omitempty"`
}

// Node is a group of items close to each other at one zoom level.
type Node struct {
	ID      string     `json:"id"`
	Center  geo.LatLng `json:"center"`
	Members []Item     `json:"members"`
	State   State      `json:"state"`
	// Tier is the badge used while the node is Aggregated.
	Tier Tier `json:"tier"`
}

// Count returns the number of members.
func (n Node) Count() int {
	return len(n.Members)
}

// Bounds returns the bounding box of the members.
func (n Node) Bounds() orb.Bound {
	pts := make([]geo.LatLng, len(n.Members))
	for i, m := range n.Members {
		pts[i] = m.Position
	}
	b, _ := geo.BoundsOf(pts)
	return b
}

// Pass runs one greedy clustering pass at zoom. Each item joins the first
// node whose seed lies within MaxDistancePx pixels, or seeds a new node.
// Above MaxZoomForClustering every item becomes its own node. Node ids are
// the seed item ids, so they are stable for a given input order and zoom.
// Returned nodes are Aggregated until Evaluate runs.
func Pass(items []Item, zoom int, policy models.ClusterPolicy) []Node {
	maxDist := float64(policy.MaxDistancePx)
	if maxDist <= 0 {
		maxDist = models.DefaultMaxDistancePx
	}
	disabled := policy.MaxZoomForClustering > 0 && zoom > policy.MaxZoomForClustering

	type seed struct {
		x, y float64
	}

	nodes := make([]Node, 0, len(items))
	seeds := make([]seed, 0, len(items))

	for _, it := range items {
		x, y := geo.Project(it.Position, float64(zoom))

		joined := false
		if !disabled {
			for i, s := range seeds {
				dx, dy := x-s.x, y-s.y
				if dx*dx+dy*dy <= maxDist*maxDist {
					nodes[i].Members = append(nodes[i].Members, it)
					joined = true
					break
				}
			}
		}
		if joined {
			continue
		}

		nodes = append(nodes, Node{ID: it.ID, Members: []Item{it}})
		seeds = append(seeds, seed{x: x, y: y})
	}

	for i := range nodes {
		pts := make([]geo.LatLng, len(nodes[i].Members))
		for j, m := range nodes[i].Members {
			pts[j] = m.Position
		}
		nodes[i].Center = geo.Mean(pts)
		nodes[i].Tier = TierFor(len(pts))
	}
	return nodes
}

// Evaluate sets each node's state. Nodes with fewer than minSize members,
// and single-member nodes, are Promoted. It returns the counts per state.
func Evaluate(nodes []Node, minSize int) (aggregated, promoted int) {
	if minSize <= 0 {
		minSize = models.DefaultMinClusterSize
	}
	for i := range nodes {
		if nodes[i].Count() < minSize || nodes[i].Count() == 1 {
			nodes[i].State = Promoted
			promoted++
			continue
		}
		nodes[i].State = Aggregated
		aggregated++
	}
	return aggregated, promoted
}

// Tier is the badge image and size for an aggregate.
type Tier struct {
	Index  int `json:"index"`
	SizePx int `json:"size_px"`
}

// Icon names the badge image of the tier, m1 through m5.
func (t Tier) Icon() string {
	return "m" + strconv.Itoa(t.Index)
}

// TierFor returns the badge tier for a member count. The bands follow the
// common marker-clusterer defaults and are purely cosmetic.
func TierFor(count int) Tier {
	switch {
	case count < 10:
		return Tier{Index: 1, SizePx: 53}
	case count < 100:
		return Tier{Index: 2, SizePx: 56}
	case count < 1000:
		return Tier{Index: 3, SizePx: 66}
	case count < 10000:
		return Tier{Index: 4, SizePx: 78}
	default:
		return Tier{Index: 5, SizePx: 90}
	}
}

package provider

import (
	"sort"
	"sync"

	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/host"
	"github.com/eduard256/mapkit/internal/models"
)

// MarkerHandle is one live marker on a map.
type MarkerHandle struct {
	ID        string     `json:"id"`
	Position  geo.LatLng `json:"position"`
	Title     string     `json:"title,omitempty"`
	Popup     string     `json:"popup,omitempty"`
	Icon      string     `json:"icon,omitempty"`
	HoverIcon string     `json:"hover_icon,omitempty"`
	Hovered   bool       `json:"hovered"`
}

// CurrentIcon returns the icon the marker is showing.
func (m MarkerHandle) CurrentIcon() string {
	if m.Hovered && m.HoverIcon != "" {
		return m.HoverIcon
	}
	return m.Icon
}

// StreetViewState is an active street-level panorama.
type StreetViewState struct {
	Position geo.LatLng `json:"position"`
	Heading  float64    `json:"heading"`
	Pitch    float64    `json:"pitch"`
}

type listener struct {
	event string
	fn    func()
}

// MapHandle is the live state of one map: its view, translated SDK options,
// listeners, markers and panorama. Listeners run outside the handle's lock.
type MapHandle struct {
	provider  models.Provider
	container *host.Container
	maxZoom   int

	mu         sync.Mutex
	view       geo.Viewport
	options    map[string]interface{}
	tileLayer  string
	listeners  map[int]listener
	nextID     int
	markers    []*MarkerHandle
	openPopup  string
	streetView *StreetViewState
	removed    bool
}

func newMapHandle(p models.Provider, c *host.Container, maxZoom int, view geo.Viewport) *MapHandle {
	return &MapHandle{
		provider:  p,
		container: c,
		maxZoom:   maxZoom,
		view:      view,
		listeners: make(map[int]listener),
	}
}

// Provider returns the provider that created the map.
func (m *MapHandle) Provider() models.Provider {
	return m.provider
}

// Container returns the render surface.
func (m *MapHandle) Container() *host.Container {
	return m.container
}

// MaxZoom returns the provider's deepest zoom.
func (m *MapHandle) MaxZoom() int {
	return m.maxZoom
}

// Viewport returns the current view.
func (m *MapHandle) Viewport() geo.Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// SetView moves the map, emitting movestart/zoomstart before and
// zoomend/moveend after the change.
func (m *MapHandle) SetView(center geo.LatLng, zoom int) {
	if zoom < 0 {
		zoom = 0
	}
	if zoom > m.maxZoom {
		zoom = m.maxZoom
	}

	m.mu.Lock()
	if m.removed {
		m.mu.Unlock()
		return
	}
	zoomChanged := zoom != m.view.Zoom
	m.mu.Unlock()

	m.Emit("movestart")
	if zoomChanged {
		m.Emit("zoomstart")
	}

	m.mu.Lock()
	m.view.Center = center
	m.view.Zoom = zoom
	m.mu.Unlock()

	if zoomChanged {
		m.Emit("zoomend")
	}
	m.Emit("moveend")
}

// Options returns a copy of the translated SDK options.
func (m *MapHandle) Options() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]interface{}, len(m.options))
	for k, v := range m.options {
		out[k] = v
	}
	return out
}

// TileLayer returns the raster tile URL template, or "" for vector SDKs.
func (m *MapHandle) TileLayer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tileLayer
}

// On registers fn for event and returns an id for Off.
func (m *MapHandle) On(event string, fn func()) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners[m.nextID] = listener{event: event, fn: fn}
	return m.nextID
}

// Off removes a listener.
func (m *MapHandle) Off(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

// Emit runs the listeners registered for event in registration order.
func (m *MapHandle) Emit(event string) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.listeners))
	for id, l := range m.listeners {
		if l.event == event {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = m.listeners[id].fn
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ListenerCount returns the number of attached listeners.
func (m *MapHandle) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Markers returns copies of the live markers.
func (m *MapHandle) Markers() []MarkerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MarkerHandle, len(m.markers))
	for i, mk := range m.markers {
		out[i] = *mk
	}
	return out
}

// Marker returns a copy of the marker with id.
func (m *MapHandle) Marker(id string) (MarkerHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mk := m.markerLocked(id); mk != nil {
		return *mk, true
	}
	return MarkerHandle{}, false
}

func (m *MapHandle) markerLocked(id string) *MarkerHandle {
	for _, mk := range m.markers {
		if mk.ID == id {
			return mk
		}
	}
	return nil
}

// OpenPopupID returns the marker whose popup is open, or "".
func (m *MapHandle) OpenPopupID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openPopup
}

// StreetView returns the active panorama, or nil.
func (m *MapHandle) StreetView() *StreetViewState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streetView == nil {
		return nil
	}
	sv := *m.streetView
	return &sv
}

// Removed reports whether Remove has run.
func (m *MapHandle) Removed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}

// Remove detaches every listener, drops the markers and clears the container.
// Later calls are no-ops.
func (m *MapHandle) Remove() {
	m.mu.Lock()
	if m.removed {
		m.mu.Unlock()
		return
	}
	m.removed = true
	m.listeners = make(map[int]listener)
	m.markers = nil
	m.openPopup = ""
	m.streetView = nil
	m.mu.Unlock()

	m.container.Clear()
}

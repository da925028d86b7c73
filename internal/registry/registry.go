// Package registry tracks the live map instances, one per map id.
//
// Operations on one id are serialized, so a teardown always completes before
// the next instance for that id is built. Each id also owns a cancellation
// token: Create and Destroy cancel the token of the previous operation, so a
// retry still waiting for a container cannot resurrect a torn-down map.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eduard256/mapkit/internal/cluster"
	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/host"
	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/internal/models"
	"github.com/eduard256/mapkit/internal/provider"
	"github.com/eduard256/mapkit/pkg/logger"
)

// InstanceHandle is everything live for one map id.
type InstanceHandle struct {
	MapID      string
	Generation uuid.UUID
	CreatedAt  time.Time

	Map     *provider.MapHandle
	Markers []*provider.MarkerHandle
	Cluster *cluster.Group

	Config models.MapConfig
	Specs  []models.MarkerSpec
}

// slot serializes operations on one id. tokMu guards the cancellation
// token separately so Destroy can cancel a Create that holds mu.
type slot struct {
	mu       sync.Mutex
	instance *InstanceHandle

	tokMu  sync.Mutex
	cancel context.CancelFunc
	token  uint64
}

func (s *slot) currentToken() uint64 {
	s.tokMu.Lock()
	defer s.tokMu.Unlock()
	return s.token
}

// Registry owns the instances.
type Registry struct {
	adapter provider.Adapter
	page    *host.Page
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	slots map[string]*slot
	seq   uint64
}

// New creates a Registry that renders through adapter onto page.
func New(adapter provider.Adapter, page *host.Page, log *logger.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		adapter: adapter,
		page:    page,
		logger:  logger.OrNop(log).Component("registry"),
		metrics: m,
		slots:   make(map[string]*slot),
	}
}

func (r *Registry) slot(mapID string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[mapID]
	if !ok {
		s = &slot{}
		r.slots[mapID] = s
	}
	return s
}

// Begin cancels any pending operation for mapID and returns a context tied
// to a fresh token. Callers that wait before Create (for example while
// collecting host data) run under this context so a later Begin or Destroy
// aborts them.
func (r *Registry) Begin(ctx context.Context, mapID string) (context.Context, context.CancelFunc) {
	s := r.slot(mapID)
	token := r.nextToken()

	opCtx, cancel := context.WithCancel(ctx)

	s.tokMu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.token = token
	s.tokMu.Unlock()

	return context.WithValue(opCtx, tokenKey{}, token), cancel
}

func (r *Registry) nextToken() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

type tokenKey struct{}

// Create tears down any live instance for mapID and builds a new one. When
// ctx came from Begin and a newer Begin or Destroy has happened since, Create
// aborts with context.Canceled.
func (r *Registry) Create(ctx context.Context, mapID string, cfg models.MapConfig, specs []models.MarkerSpec) (*InstanceHandle, error) {
	if _, ok := ctx.Value(tokenKey{}).(uint64); !ok {
		var cancel context.CancelFunc
		ctx, cancel = r.Begin(ctx, mapID)
		defer cancel()
	}

	s := r.slot(mapID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if token := ctx.Value(tokenKey{}).(uint64); token != s.currentToken() {
		return nil, fmt.Errorf("create %s: %w", mapID, context.Canceled)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("create %s: %w", mapID, err)
	}

	r.teardownLocked(s)

	cfg.MapID = mapID
	m, err := r.adapter.InitMap(ctx, r.page, cfg)
	if err != nil {
		return nil, err
	}
	// A Destroy may have cancelled us while the container was awaited.
	if err := ctx.Err(); err != nil {
		m.Remove()
		return nil, fmt.Errorf("create %s: %w", mapID, err)
	}

	markers := r.adapter.AddMarkers(m, specs, cfg)
	r.adapter.FitOrCenter(m, markers, cfg)
	group := r.adapter.BindClustering(m, markers, cfg.Cluster)

	if cfg.StreetView.Enabled {
		if pos, ok := streetViewPosition(cfg, markers); ok {
			r.adapter.ActivateStreetView(m, pos, cfg.StreetView.Heading, cfg.StreetView.Pitch)
		}
	}

	inst := &InstanceHandle{
		MapID:      mapID,
		Generation: uuid.New(),
		CreatedAt:  time.Now(),
		Map:        m,
		Markers:    markers,
		Cluster:    group,
		Config:     cfg,
		Specs:      append([]models.MarkerSpec(nil), specs...),
	}
	s.instance = inst
	r.metrics.InstanceCreated()

	r.logger.WithFields(map[string]interface{}{
		"map_id":     mapID,
		"generation": inst.Generation.String(),
		"markers":    len(markers),
		"clustered":  group != nil,
	}).Info("map instance created")

	return inst, nil
}

// streetViewPosition picks the panorama position: an explicit position, the
// named marker, or the first marker.
func streetViewPosition(cfg models.MapConfig, markers []*provider.MarkerHandle) (geo.LatLng, bool) {
	sv := cfg.StreetView
	if sv.Position != nil {
		return *sv.Position, true
	}
	for _, mk := range markers {
		if sv.MarkerID == "" || mk.ID == sv.MarkerID {
			return mk.Position, true
		}
	}
	return geo.LatLng{}, false
}

// Destroy cancels pending work for mapID and tears down its instance.
// Unknown ids are a no-op.
func (r *Registry) Destroy(mapID string) {
	r.mu.Lock()
	s, ok := r.slots[mapID]
	r.mu.Unlock()
	if !ok {
		return
	}

	// Cancel first so a Create waiting on a container releases the lock.
	token := r.nextToken()
	s.tokMu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.token = token
	s.tokMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.teardownLocked(s) {
		r.page.Release(mapID)
		r.logger.WithField("map_id", mapID).Info("map instance destroyed")
	}
}

// teardownLocked removes the live instance of s. It reports whether there was one.
func (r *Registry) teardownLocked(s *slot) bool {
	inst := s.instance
	if inst == nil {
		return false
	}
	s.instance = nil

	if inst.Cluster != nil {
		inst.Cluster.Unbind()
	}
	r.adapter.RemoveMarkers(inst.Map)
	inst.Map.Remove()

	r.metrics.InstanceDestroyed()
	return true
}

// Get returns the live instance for mapID, or nil.
func (r *Registry) Get(mapID string) *InstanceHandle {
	r.mu.Lock()
	s, ok := r.slots[mapID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance
}

// With runs fn on the live instance while holding the id's lock, so fn never
// races a teardown. It reports whether an instance existed.
func (r *Registry) With(mapID string, fn func(inst *InstanceHandle)) bool {
	r.mu.Lock()
	s, ok := r.slots[mapID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instance == nil {
		return false
	}
	fn(s.instance)
	return true
}

// IDs returns the ids with a live instance, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	slots := make(map[string]*slot, len(r.slots))
	for id, s := range r.slots {
		slots[id] = s
	}
	r.mu.Unlock()

	var ids []string
	for id, s := range slots {
		s.mu.Lock()
		live := s.instance != nil
		s.mu.Unlock()
		if live {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Close destroys every instance.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Destroy(id)
	}
}

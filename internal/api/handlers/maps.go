package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eduard256/mapkit/internal/api/auth"
	"github.com/eduard256/mapkit/internal/api/response"
	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/loader"
	"github.com/eduard256/mapkit/internal/orchestrator"
	"github.com/eduard256/mapkit/internal/registry"
	"github.com/eduard256/mapkit/internal/retry"
	"github.com/eduard256/mapkit/pkg/logger"
)

// MapsHandler handles map lifecycle requests.
type MapsHandler struct {
	orch   *orchestrator.Orchestrator
	logger *logger.Logger
}

// NewMapsHandler creates a new MapsHandler.
func NewMapsHandler(orch *orchestrator.Orchestrator, log *logger.Logger) *MapsHandler {
	return &MapsHandler{
		orch:   orch,
		logger: logger.OrNop(log).Component("maps-handler"),
	}
}

// InstanceResponse summarizes a freshly built map instance.
type InstanceResponse struct {
	MapID       string `json:"map_id"`
	Generation  string `json:"generation"`
	Markers     int    `json:"markers"`
	Clustered   bool   `json:"clustered"`
	RequestedBy string `json:"requested_by,omitempty"`
}

func instanceResponse(inst *registry.InstanceHandle, requestedBy string) InstanceResponse {
	return InstanceResponse{
		MapID:       inst.MapID,
		Generation:  inst.Generation.String(),
		Markers:     len(inst.Markers),
		Clustered:   inst.Cluster != nil,
		RequestedBy: requestedBy,
	}
}

// subject returns the authenticated caller, or "" when tokens are disabled.
func subject(r *http.Request) string {
	if claims := auth.GetClaims(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}

// Mount handles POST /api/v1/maps/{id}/mount.
func (h *MapsHandler) Mount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := h.orch.Mount(r.Context(), id)
	h.writeInstance(w, r, id, inst, err)
}

// Reload handles POST /api/v1/maps/{id}/reload.
func (h *MapsHandler) Reload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := h.orch.Reload(r.Context(), id)
	h.writeInstance(w, r, id, inst, err)
}

// Update handles PUT /api/v1/maps/{id}.
// Body: {"attributes": {...}, "markers": [...]}
func (h *MapsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req orchestrator.Update
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	inst, err := h.orch.UpdateMapByID(r.Context(), id, req)
	h.writeInstance(w, r, id, inst, err)
}

func (h *MapsHandler) writeInstance(w http.ResponseWriter, r *http.Request, id string, inst *registry.InstanceHandle, err error) {
	switch {
	case err == nil && inst == nil:
		response.Ignored(w)
	case err == nil:
		sub := subject(r)
		h.logger.WithFields(map[string]interface{}{
			"map_id":     id,
			"generation": inst.Generation.String(),
			"subject":    sub,
		}).Debug("map instance built")
		response.OK(w, instanceResponse(inst, sub))
	case errors.Is(err, retry.ErrGaveUp):
		response.GatewayTimeout(w, "map data not available")
	case errors.Is(err, loader.ErrUnavailable):
		response.Unavailable(w, "map provider unavailable")
	case errors.Is(err, context.Canceled):
		response.Conflict(w, "superseded by a newer operation")
	default:
		h.logger.WithField("map_id", id).WithError(err).Error("map operation failed")
		response.InternalError(w)
	}
}

// Delete handles DELETE /api/v1/maps/{id}.
func (h *MapsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.orch.Unmount(chi.URLParam(r, "id"))
	response.NoContent(w)
}

// Focus handles POST /api/v1/maps/{id}/focus/{markerId}.
func (h *MapsHandler) Focus(w http.ResponseWriter, r *http.Request) {
	if !h.orch.FocusOnMarker(chi.URLParam(r, "id"), chi.URLParam(r, "markerId")) {
		response.NotFound(w, "map or marker not found")
		return
	}
	response.OKStatus(w)
}

// RestoreBounds handles POST /api/v1/maps/{id}/restore-bounds.
func (h *MapsHandler) RestoreBounds(w http.ResponseWriter, r *http.Request) {
	if !h.orch.RestoreBounds(chi.URLParam(r, "id")) {
		response.NotFound(w, "map not found")
		return
	}
	response.OKStatus(w)
}

// ClickCluster handles POST /api/v1/maps/{id}/clusters/{clusterId}/click.
func (h *MapsHandler) ClickCluster(w http.ResponseWriter, r *http.Request) {
	if !h.orch.ClickCluster(chi.URLParam(r, "id"), chi.URLParam(r, "clusterId")) {
		response.NotFound(w, "cluster not found")
		return
	}
	response.OKStatus(w)
}

// Get handles GET /api/v1/maps/{id}.
func (h *MapsHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.orch.Describe(chi.URLParam(r, "id"))
	if err != nil {
		response.NotFound(w, "map not found")
		return
	}
	response.OK(w, d)
}

// GeoJSON handles GET /api/v1/maps/{id}/geojson[?lat=..&lon=..].
func (h *MapsHandler) GeoJSON(w http.ResponseWriter, r *http.Request) {
	origin, err := queryOrigin(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	fc, err := h.orch.GeoJSON(chi.URLParam(r, "id"), origin)
	if err != nil {
		response.NotFound(w, "map not found")
		return
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		response.InternalError(w)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// queryOrigin reads the optional lat/lon query pair. Both or neither must be
// present.
func queryOrigin(r *http.Request) (*geo.LatLng, error) {
	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lon") == "" {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return nil, errors.New("invalid lat")
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return nil, errors.New("invalid lon")
	}
	p := geo.LatLng{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Static handles GET /api/v1/maps/{id}/static.
// Locally rendered images are returned as is; remote ones as a JSON link.
func (h *MapsHandler) Static(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.orch.Snapshot(r.Context(), id)
	if errors.Is(err, orchestrator.ErrNotMounted) {
		response.NotFound(w, "map not found")
		return
	}
	if err != nil {
		response.Unavailable(w, "snapshot unavailable")
		return
	}

	if len(s.Image) == 0 {
		response.OK(w, s)
		return
	}
	w.Header().Set("Content-Type", s.ContentType)
	if s.Address != "" {
		w.Header().Set("X-Map-Address", s.Address)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(s.Image)
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/eduard256/mapkit/internal/api/response"
	"github.com/eduard256/mapkit/internal/geo"
	"github.com/eduard256/mapkit/internal/nominatim"
)

// GeocodeHandler serves reverse geocoding lookups.
type GeocodeHandler struct {
	client *nominatim.Client
}

// NewGeocodeHandler creates a new GeocodeHandler. client may be nil.
func NewGeocodeHandler(client *nominatim.Client) *GeocodeHandler {
	return &GeocodeHandler{client: client}
}

// ReverseResponse is the reverse geocoding result.
type ReverseResponse struct {
	DisplayName string            `json:"display_name"`
	City        string            `json:"city,omitempty"`
	Country     string            `json:"country,omitempty"`
	Address     nominatim.Address `json:"address"`
}

// Reverse handles GET /api/v1/geocode/reverse?lat=..&lon=..
func (h *GeocodeHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		response.Unavailable(w, "geocoding disabled")
		return
	}

	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		response.BadRequest(w, "invalid lat")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		response.BadRequest(w, "invalid lon")
		return
	}
	p := geo.LatLng{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	res, err := h.client.Reverse(r.Context(), p)
	if errors.Is(err, nominatim.ErrNoAddress) {
		response.NotFound(w, "no address found")
		return
	}
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, ReverseResponse{
		DisplayName: res.DisplayName,
		City:        res.Address.GetCity(),
		Country:     res.Address.Country,
		Address:     res.Address,
	})
}

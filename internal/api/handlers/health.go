// Package handlers provides HTTP request handlers for the mapkit API.
package handlers

import (
	"net/http"

	"github.com/eduard256/mapkit/internal/api/response"
	"github.com/eduard256/mapkit/internal/orchestrator"
)

// HealthResponse represents health check response.
type HealthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Maps     int    `json:"maps"`
}

// Health returns a health check handler.
func Health(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, HealthResponse{
			Status:   "ok",
			Provider: string(orch.Provider()),
			Maps:     len(orch.Mounted()),
		})
	}
}

package handler

import (
	"net/http"
	"time"

	"github.com/leca/dt-image-store/internal/api"
)

// GetStats handles GET /stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(h.Store.GetStats()))
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.Started).Round(time.Second).String(),
	})
}

// NotFound answers requests for routes that do not exist.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	api.NotFound(w, "path "+r.URL.Path+" does not exist")
}

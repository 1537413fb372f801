package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthHandler responds with service health information. Liveness only; the
// download pipeline is never exercised here.
type HealthHandler struct{}

// Handle implements GET /download/health and GET /healthz.
func (HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{
		"status": "ok",
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

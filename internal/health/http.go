package health

import (
	"encoding/json"
	"net/http"
)

// RegisterRoutes exposes liveness and readiness endpoints on the mux.
// /health reports the full aggregate; /readiness returns 503 when any
// critical dependency is down.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/readiness", m.handleReadiness)
}

func (m *Manager) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := m.GetOverallHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if overall.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(overall)
}

func (m *Manager) handleReadiness(w http.ResponseWriter, r *http.Request) {
	overall := m.GetOverallHealth(r.Context())
	if overall.Status == StatusUnhealthy {
		http.Error(w, `{"ready":false}`, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ready":true}`))
}

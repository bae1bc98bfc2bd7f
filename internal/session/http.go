package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger reports storage health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Routes mounts the websocket endpoint and the plain HTTP probes.
func (m *Manager) Routes(health Pinger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", m)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health.Ping(ctx); err != nil {
				status, code = "storage unavailable", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]any{"status": status, "sessions": m.Count()})
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		if m.deps.Rounds == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no orchestrator"})
			return
		}
		writeJSON(w, http.StatusOK, m.deps.Rounds.Snapshot())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

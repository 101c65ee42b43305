package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready   bool   `json:"ready"`
	Backend string `json:"backend"`
	Error   string `json:"error,omitempty"`
}

func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		resp := readyzResponse{Ready: true, Backend: "ok"}
		if d.Backend == nil {
			resp = readyzResponse{Ready: false, Backend: "down", Error: "client not initialized"}
		} else {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Backend.Ping(ctx); err != nil {
				resp = readyzResponse{Ready: false, Backend: "down", Error: err.Error()}
			}
		}

		status := http.StatusOK
		if !resp.Ready {
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

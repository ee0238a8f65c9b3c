package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/efp-desk/internal/connection"
	"github.com/rickgao/efp-desk/internal/desk"
	"github.com/rickgao/efp-desk/internal/runstate"
)

// deskStatus is the part of a desk the health endpoints report on.
type deskStatus interface {
	FeedStates() []desk.FeedState
	View() *runstate.View
	Stats() desk.Stats
}

// pinger is satisfied by the journal's database pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// createHealthHandler creates the HTTP handler for health checks. db may be
// nil when the journal is disabled.
func createHealthHandler(d deskStatus, db pinger, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		feeds := d.FeedStates()
		health.Components["feeds"] = feeds
		for _, f := range feeds {
			if f.State != connection.StateConnected {
				health.Status = "degraded"
			}
		}
		if len(feeds) == 0 {
			health.Status = "unhealthy"
		}

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["journal"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["journal"] = "connected"
			}
		}

		stats := d.Stats()
		health.Components["store"] = stats.Store
		health.Components["loop"] = stats.Loop

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("write health response failed", "err", err)
		}
	})

	mux.HandleFunc("/debug/run", func(w http.ResponseWriter, r *http.Request) {
		v := d.View()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"revision":   v.Revision,
			"updated_at": v.UpdatedAt,
			"run":        v.Rows,
			"recaps":     v.Recaps,
			"blotter":    v.Blotter,
		})
	})

	return mux
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/liveview"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/reconcile"
	"github.com/MrSnakeDoc/shelf/internal/session"
)

// Live upgrades to a websocket and mounts a controller seeded with the
// snapshot the page was rendered from.
func Live(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := session.FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		view, err := d.Views.Claim(r.URL.Query().Get("view"), id.UserID)
		switch {
		case errors.Is(err, liveview.ErrViewOwner):
			w.WriteHeader(http.StatusForbidden)
			return
		case err != nil:
			// expired or unknown: the page must be reloaded for a fresh snapshot
			w.WriteHeader(http.StatusGone)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: d.AllowedHosts,
		})
		if err != nil {
			d.Logger.Warn("websocket upgrade failed", logger.Error(err))
			return
		}
		defer conn.CloseNow()

		log := d.Logger.With(
			logger.String("owner_id", id.UserID),
			logger.String("view_id", view.ID))
		ctrl := reconcile.New(d.Store, d.Sessions, id, view.Snapshot, d.ControllerOptions(log))

		log.Debug("live view connected", logger.Int("snapshot", len(view.Snapshot)))
		if err := liveview.NewSocket(conn, ctrl, log).Serve(r.Context()); err != nil {
			log.Debug("live view ended", logger.Error(err))
			return
		}
		log.Debug("live view closed")
	}
}

package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// AuthCallback receives the token issued by the identity provider, stores
// it in the session cookie and sends the user to the bookmarks.
func AuthCallback(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			http.Redirect(w, r, d.LoginPath+"?error=invalid", http.StatusFound)
			return
		}

		id, err := d.Sessions.Verify(r.Context(), raw)
		if err != nil {
			d.Logger.Info("rejected session token", logger.Error(err))
			http.Redirect(w, r, d.LoginPath+"?error=invalid", http.StatusFound)
			return
		}

		d.Sessions.SetCookie(w, raw, id)
		d.Logger.Info("session started",
			logger.String("owner_id", id.UserID),
			logger.Time("expires_at", id.ExpiresAt))
		http.Redirect(w, r, "/bookmarks", http.StatusFound)
	}
}

package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/session"
)

// SignOut terminates the session and returns to the entry point. It backs
// the sign-out form when the page has no live socket.
func SignOut(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if id, ok := session.FromContext(r.Context()); ok {
			if err := d.Sessions.Terminate(r.Context(), id); err != nil {
				d.Logger.Error("failed to terminate session",
					logger.String("owner_id", id.UserID),
					logger.Error(err))
				http.Error(w, "could not sign out, please retry", http.StatusServiceUnavailable)
				return
			}
		}

		d.Sessions.ClearCookie(w)
		http.Redirect(w, r, d.LoginPath, http.StatusSeeOther)
	}
}

package mw

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/session"
)

// RequireSession gates a route prefix on a valid session. Browsers without
// one are redirected to loginPath; websocket upgrades get 401 since they
// cannot follow a redirect. Invalid or revoked cookies are cleared.
func RequireSession(gw *session.Gateway, loginPath string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := gw.Identify(r)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(session.WithIdentity(r.Context(), id)))
				return
			}

			switch {
			case errors.Is(err, session.ErrNoSession):
				log.Debug("RequireSession: no session", logger.String("path", r.URL.Path))
			case errors.Is(err, session.ErrInvalidSession), errors.Is(err, session.ErrRevoked):
				log.Debug("RequireSession: rejected session",
					logger.String("path", r.URL.Path),
					logger.Error(err))
				gw.ClearCookie(w)
			default:
				// revocation list unreachable: fail closed without dropping the cookie
				log.Warn("RequireSession: session check failed", logger.Error(err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}

			if isWebsocketUpgrade(r) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, loginPath, http.StatusFound)
		})
	}
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

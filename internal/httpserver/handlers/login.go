package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
)

type loginPage struct {
	Title string
	Error string
}

var loginErrors = map[string]string{
	"invalid": "That session is invalid or has expired. Please sign in again.",
}

// Login renders the unauthenticated entry point. A visitor who already
// holds a valid session goes straight to the bookmarks.
func Login(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := d.Sessions.Identify(r); err == nil {
			http.Redirect(w, r, "/bookmarks", http.StatusFound)
			return
		}

		render(w, d.Logger, "login", loginPage{
			Title: "Sign in",
			Error: loginErrors[r.URL.Query().Get("error")],
		})
	}
}

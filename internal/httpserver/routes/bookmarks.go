package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/mw"
)

func init() { Register(registerBookmarks) }

// registerBookmarks mounts the protected prefix. The websocket route has no
// request timeout: it lives as long as the tab.
func registerBookmarks(r chi.Router, d deps.Deps) {
	r.Route("/bookmarks", func(r chi.Router) {
		r.Use(mw.RequireSession(d.Sessions, d.LoginPath, d.Logger))

		r.Get("/live", handlers.Live(d))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(d.RequestTimeout + 5*time.Second))
			r.Get("/", handlers.Bookmarks(d))
			r.Post("/signout", handlers.SignOut(d))
		})
	})
}

package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/mw"
)

func init() { Register(registerAuth) }

func registerAuth(r chi.Router, d deps.Deps) {
	r.Get(d.LoginPath, handlers.Login(d))
	r.With(mw.RateLimit(mw.RateLimitConfig{
		Name:              "auth",
		Burst:             d.AuthBurst,
		RefillPerIPPerMin: d.AuthRefillPerMin,
		MaxEntries:        10000,
		TrustProxy:        d.TrustProxy,
		Logger:            d.Logger,
	})).Get("/auth/callback", handlers.AuthCallback(d))
}

package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/shelf/internal/liveview"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/metrics"
	"github.com/MrSnakeDoc/shelf/internal/reconcile"
	"github.com/MrSnakeDoc/shelf/internal/session"
	"github.com/MrSnakeDoc/shelf/internal/snapshot"
)

// Pinger reports whether the backend answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger           logger.Logger
	StartTime        time.Time
	Version          string
	Commit           string
	BuildDate        string
	GoVersion        string
	TimeNow          func() time.Time   // for testing, defaults to time.Now
	AllowedHosts     []string           // Host headers allowed to access the server
	AllowedCIDRS     []string           // IPs allowed to access healthz/readyz/metrics endpoints
	TrustProxy       bool               // true if running behind a trusted reverse proxy (e.g., cloudflared)
	AuthBurst        int                // rate limit burst on the auth endpoints
	AuthRefillPerMin int                // rate limit refill on the auth endpoints
	LoginPath        string             // unauthenticated entry point
	Sessions         *session.Gateway   // verifies, sets and terminates sessions
	Snapshots        *snapshot.Loader   // initial list before first paint
	Views            *liveview.Registry // pages waiting for their websocket
	Store            reconcile.Store    // record store used by mounted views
	Backend          Pinger             // readiness probe target
	Metrics          *metrics.Metrics   // nil disables /metrics
	HighlightWindow  time.Duration      // recent marker lifetime
	RequestTimeout   time.Duration      // per store call timeout for views
}

// ControllerOptions returns the options shared by every mounted view.
func (d Deps) ControllerOptions(log logger.Logger) reconcile.Options {
	return reconcile.Options{
		HighlightWindow: d.HighlightWindow,
		RequestTimeout:  d.RequestTimeout,
		LoginPath:       d.LoginPath,
		Logger:          log,
		Metrics:         d.Metrics,
		Now:             d.TimeNow,
	}
}

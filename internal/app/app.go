package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/shelf/internal/config"
	"github.com/MrSnakeDoc/shelf/internal/httpserver"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/liveview"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/metrics"
	"github.com/MrSnakeDoc/shelf/internal/redis"
	"github.com/MrSnakeDoc/shelf/internal/scheduler"
	"github.com/MrSnakeDoc/shelf/internal/session"
	"github.com/MrSnakeDoc/shelf/internal/snapshot"
	redisstore "github.com/MrSnakeDoc/shelf/internal/store/redis"
	"github.com/MrSnakeDoc/shelf/internal/utils"
	"github.com/MrSnakeDoc/shelf/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	store       *redisstore.Store
	sweeper     *scheduler.ViewSweeper
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config) logger.Logger {
	return logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Pretty: cfg.PrettyLog,
		File:   cfg.LogFile,
	})
}

// NewSessions builds the identity gateway. revoker may be nil when no
// backend is needed, e.g. to mint development tokens.
func NewSessions(cfg *config.Config, revoker session.Revoker) *session.Gateway {
	return session.NewGateway(session.Config{
		Secret:       cfg.SessionSecret,
		Issuer:       cfg.SessionIssuer,
		CookieName:   cfg.SessionCookie,
		SecureCookie: cfg.SessionSecureCookie,
	}, revoker)
}

// Connect reaches the backend, failing after the configured connect timeout.
func Connect(cfg *config.Config, log logger.Logger, clientName string) (*goredis.Client, *redisstore.Store, error) {
	client, err := redis.New(redis.ConnectOptions{
		URL:            cfg.BackendURL,
		APIKey:         cfg.BackendKey,
		ClientName:     clientName,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to backend: %w", err)
	}

	store := redisstore.NewStore(client, log, redisstore.WithSubscribeTimeout(cfg.SubscribeTimeout))
	return client, store, nil
}

func New(cfg *config.Config) (*App, error) {
	loggerClient := NewLogger(cfg)

	// Initialize the backend early - fail fast if unavailable
	redisClient, store, err := Connect(cfg, loggerClient, "shelf-server")
	if err != nil {
		return nil, err
	}
	loggerClient.Info("backend initialized successfully")

	m := metrics.New(store.LiveSubscriptions)
	views := liveview.NewRegistry(cfg.ViewTTL, m.PendingViews)
	sweeper := scheduler.NewViewSweeper(views, loggerClient, cfg.ViewSweepInterval)

	// Dependencies passed to routes.
	d := deps.Deps{
		Logger:           loggerClient,
		StartTime:        time.Now(),
		Version:          version.Version,
		Commit:           version.Commit,
		BuildDate:        version.BuildDate,
		GoVersion:        version.GoVersion,
		TimeNow:          time.Now,
		AllowedHosts:     cfg.AllowedHosts,
		AllowedCIDRS:     cfg.AllowedCIDRS,
		TrustProxy:       cfg.TrustProxy,
		AuthBurst:        cfg.AuthBurst,
		AuthRefillPerMin: cfg.AuthRefillPerMin,
		LoginPath:        cfg.LoginPath,
		Sessions:         NewSessions(cfg, store),
		Snapshots:        snapshot.NewLoader(store, loggerClient),
		Views:            views,
		Store:            liveview.Backend{Store: store},
		Backend:          store,
		Metrics:          m,
		HighlightWindow:  cfg.HighlightWindow,
		RequestTimeout:   cfg.RequestTimeout,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		store:       store,
		sweeper:     sweeper,
	}, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting shelf v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("shelf %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)
	defer func() { _ = a.logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start view sweeper: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	a.sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	// live views unmount as their sockets close; whatever is left is closed here
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelDrain()
	n, err := a.store.Drain(drainCtx)
	if err != nil {
		a.logger.Warn("subscriptions did not stop in time", logger.Int("count", n), logger.Error(err))
	} else if n > 0 {
		a.logger.Info("closed subscriptions left open at shutdown", logger.Int("count", n))
	}

	utils.MustClose(a.redisClient, a.logger)
	a.logger.Info("✅ shelf stopped cleanly")
	return nil
}

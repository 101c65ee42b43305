package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/shelf/internal/logger"
)

const (
	// DefaultSweepInterval is how often abandoned pending views are dropped
	DefaultSweepInterval = 30 * time.Second
)

// Sweepable is anything holding entries that expire.
type Sweepable interface {
	Sweep() int
	Count() int
}

// ViewSweeper drops pending views whose websocket never connected
type ViewSweeper struct {
	views    Sweepable
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewViewSweeper creates a new view sweeper
func NewViewSweeper(views Sweepable, log logger.Logger, interval time.Duration) *ViewSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &ViewSweeper{
		views:    views,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (s *ViewSweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("view sweeper started", logger.Duration("interval", s.interval))
	return nil
}

// Stop stops the sweeper
func (s *ViewSweeper) Stop() {
	close(s.stopCh)
}

// Sweep runs one pass and returns the number of views dropped
func (s *ViewSweeper) Sweep(_ context.Context) int {
	removed := s.views.Sweep()

	if removed > 0 {
		s.logger.Info("expired pending views dropped",
			logger.Int("removed", removed),
			logger.Int("remaining", s.views.Count()))
	} else {
		s.logger.Debug("no pending views to sweep")
	}

	return removed
}

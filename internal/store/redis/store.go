package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// Store is the client side of the record store: bookmark rows,
// per-owner visibility, the change feed and the session revocation list.
type Store struct {
	client           *redis.Client
	logger           logger.Logger
	now              func() time.Time
	newID            func() string
	subscribeTimeout time.Duration

	mu   sync.Mutex
	subs map[string]*Subscription // live subscriptions by name
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the row identifier source (tests).
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithSubscribeTimeout bounds the wait for a subscription acknowledgment.
func WithSubscribeTimeout(d time.Duration) Option {
	return func(s *Store) { s.subscribeTimeout = d }
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client, log logger.Logger, opts ...Option) *Store {
	s := &Store{
		client:           client,
		logger:           log,
		now:              time.Now,
		newID:            newRowID,
		subscribeTimeout: 10 * time.Second,
		subs:             make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks that the backend answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("backend ping failed: %w", err)
	}
	return nil
}

// LiveSubscriptions returns how many subscriptions are currently open.
func (s *Store) LiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) track(sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[sub.name]; exists {
		return fmt.Errorf("subscription %q already open", sub.name)
	}
	s.subs[sub.name] = sub
	return nil
}

func (s *Store) untrack(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.subs[sub.name]; ok && cur == sub {
		delete(s.subs, sub.name)
	}
}

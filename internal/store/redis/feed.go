package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

const tableBookmarks = "bookmarks"

// wireChange is the JSON published on ChannelBookmarks.
type wireChange struct {
	Type            domain.ChangeKind `json:"type"`
	Table           string            `json:"table"`
	Record          *domain.Bookmark  `json:"record,omitempty"`
	Old             *wireOldRecord    `json:"old_record,omitempty"`
	CommitTimestamp time.Time         `json:"commit_timestamp"`
}

// wireOldRecord only carries the primary key: deletes do not replicate
// the full row.
type wireOldRecord struct {
	ID string `json:"id"`
}

func encodeChange(c domain.Change, at time.Time) (string, error) {
	w := wireChange{
		Type:            c.Kind,
		Table:           tableBookmarks,
		CommitTimestamp: at,
	}
	switch c.Kind {
	case domain.ChangeInsert:
		rec := c.Record
		w.Record = &rec
	case domain.ChangeDelete:
		w.Old = &wireOldRecord{ID: c.OldID}
	default:
		return "", fmt.Errorf("unknown change kind %q", c.Kind)
	}

	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to marshal change: %w", err)
	}
	return string(data), nil
}

func decodeChange(payload string) (domain.Change, error) {
	var w wireChange
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return domain.Change{}, fmt.Errorf("failed to unmarshal change: %w", err)
	}

	switch w.Type {
	case domain.ChangeInsert:
		if w.Record == nil || w.Record.ID == "" {
			return domain.Change{}, errors.New("insert change without record")
		}
		return domain.Change{Kind: w.Type, Record: *w.Record}, nil
	case domain.ChangeDelete:
		if w.Old == nil || w.Old.ID == "" {
			return domain.Change{}, errors.New("delete change without id")
		}
		return domain.Change{Kind: w.Type, OldID: w.Old.ID}, nil
	default:
		return domain.Change{}, fmt.Errorf("unknown change kind %q", w.Type)
	}
}

// Subscription is one live listener on the bookmarks change feed.
type Subscription struct {
	name     string
	store    *Store
	ps       *redis.PubSub
	handlers domain.FeedHandlers
	timeout  time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// Subscribe opens a table-wide subscription named name.
// Status transitions and changes are reported through h from a dedicated
// goroutine: connected on acknowledgment, errored on rejection, acknowledgment
// timeout or a later stream failure. The caller owns the connecting state.
// There is no automatic reconnect: an errored subscription is finished.
func (s *Store) Subscribe(ctx context.Context, name string, h domain.FeedHandlers) (*Subscription, error) {
	if name == "" {
		return nil, errors.New("subscription requires a name")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		name:     name,
		store:    s,
		ps:       s.client.Subscribe(runCtx, ChannelBookmarks),
		handlers: h,
		timeout:  s.subscribeTimeout,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if err := s.track(sub); err != nil {
		cancel()
		_ = sub.ps.Close()
		return nil, err
	}

	s.logger.Debug("subscription opened", logger.String("subscription", name))
	go sub.run(runCtx)

	return sub, nil
}

// Name returns the unique name the subscription was opened with.
func (sub *Subscription) Name() string { return sub.name }

// Done is closed once the receive goroutine has exited.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// Drain closes every live subscription and waits for their receive
// goroutines to exit. It returns how many were still open.
func (s *Store) Drain(ctx context.Context) (int, error) {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	for _, sub := range subs {
		select {
		case <-sub.Done():
		case <-ctx.Done():
			return len(subs), fmt.Errorf("drain subscriptions: %w", ctx.Err())
		}
	}
	return len(subs), nil
}

// Close tears the subscription down. It does not wait for the receive
// goroutine, so it is safe to call from inside a handler. No callback is
// delivered after Close returns.
func (sub *Subscription) Close() error {
	var err error
	sub.closeOnce.Do(func() {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()

		sub.store.untrack(sub)
		sub.cancel()
		err = sub.ps.Close()
		sub.store.logger.Debug("subscription closed", logger.String("subscription", sub.name))
	})
	return err
}

func (sub *Subscription) isClosed() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.closed
}

func (sub *Subscription) run(ctx context.Context) {
	defer close(sub.done)

	acked := false
	for {
		var (
			msg interface{}
			err error
		)
		if acked {
			msg, err = sub.ps.Receive(ctx)
		} else {
			msg, err = sub.ps.ReceiveTimeout(ctx, sub.timeout)
		}

		if sub.isClosed() {
			return
		}
		if err != nil {
			sub.fail(err, acked)
			return
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" && !acked {
				acked = true
				sub.handlers.EmitStatus(domain.StatusConnected)
			}
		case *redis.Message:
			change, err := decodeChange(m.Payload)
			if err != nil {
				sub.store.logger.Warn("dropping malformed change notification",
					logger.String("subscription", sub.name),
					logger.Error(err))
				continue
			}
			sub.mu.Lock()
			closed := sub.closed
			sub.mu.Unlock()
			if closed {
				return
			}
			sub.handlers.EmitChange(change)
		case *redis.Pong:
			// keepalive
		}
	}
}

func (sub *Subscription) fail(err error, acked bool) {
	phase := "stream"
	if !acked {
		phase = "acknowledgment"
	}
	sub.store.logger.Warn("subscription failed",
		logger.String("subscription", sub.name),
		logger.String("phase", phase),
		logger.Error(err))

	sub.handlers.EmitStatus(domain.StatusErrored)

	sub.closeOnce.Do(func() {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
		sub.store.untrack(sub)
		sub.cancel()
		_ = sub.ps.Close()
	})
}

package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// stepClock returns a clock advancing by one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	base := []Option{
		WithClock(stepClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))),
		WithIDGenerator(sequentialIDs("a")),
		WithSubscribeTimeout(2 * time.Second),
	}
	return NewStore(client, logger.Nop(), append(base, opts...)...), mr
}

func mustDraft(t *testing.T, title, url string) domain.Draft {
	t.Helper()
	d, err := domain.NewDraft(title, url)
	require.NoError(t, err)
	return d
}

func TestInsertAndListNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.Insert(ctx, mustDraft(t, "HN", "https://news.ycombinator.com"), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "a1", first.ID)
	assert.Equal(t, "user-1", first.OwnerID)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := s.Insert(ctx, mustDraft(t, "Go", "https://go.dev"), "user-1")
	require.NoError(t, err)

	list, err := s.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, first.ID}, domain.IDs(list))
	assert.Equal(t, first, list[1])
}

func TestListIsOwnerScoped(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, mustDraft(t, "Mine", "https://mine.example"), "user-1")
	require.NoError(t, err)
	_, err = s.Insert(ctx, mustDraft(t, "Theirs", "https://theirs.example"), "user-2")
	require.NoError(t, err)

	list, err := s.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Mine", list[0].Title)

	empty, err := s.List(ctx, "user-3")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestInsertRejectsInvalidDraft(t *testing.T) {
	s, mr := newTestStore(t)

	_, err := s.Insert(context.Background(), domain.Draft{Title: "x", URL: "not a url"}, "user-1")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, mr.Keys())
}

func TestDeleteIsOwnerScoped(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	b, err := s.Insert(ctx, mustDraft(t, "HN", "https://news.ycombinator.com"), "user-1")
	require.NoError(t, err)

	// Someone else cannot delete it
	require.NoError(t, s.Delete(ctx, b.ID, "user-2"))
	list, err := s.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Delete(ctx, b.ID, "user-1"))
	list, err = s.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	// Deleting again is a no-op
	require.NoError(t, s.Delete(ctx, b.ID, "user-1"))
}

// recorder collects feed callbacks.
func TestDeleteCommitsRowIndexAndNotificationTogether(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	rec := &recorder{}

	sub, err := s.Subscribe(ctx, "bookmarks:user-1:9", rec.handlers())
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()
	require.Eventually(t, func() bool {
		_, st := rec.snapshot()
		return len(st) == 1
	}, 2*time.Second, 10*time.Millisecond)

	b, err := s.Insert(ctx, mustDraft(t, "HN", "https://news.ycombinator.com"), "user-1")
	require.NoError(t, err)

	// foreign owner: nothing removed, nothing published
	require.NoError(t, s.Delete(ctx, b.ID, "user-2"))
	assert.True(t, mr.Exists(BookmarkKey(b.ID)))

	require.NoError(t, s.Delete(ctx, b.ID, "user-1"))
	assert.False(t, mr.Exists(BookmarkKey(b.ID)))
	assert.False(t, mr.Exists(OwnerIndexKey("user-1")))

	require.Eventually(t, func() bool {
		ch, _ := rec.snapshot()
		return len(ch) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		ch, _ := rec.snapshot()
		return len(ch) > 2
	}, 150*time.Millisecond, 10*time.Millisecond)

	changes, _ := rec.snapshot()
	assert.Equal(t, domain.Change{Kind: domain.ChangeDelete, OldID: b.ID}, changes[1])
}

func TestDeleteCleansIndexEntryWithoutRow(t *testing.T) {
	s, mr := newTestStore(t)

	_, err := mr.ZAdd(OwnerIndexKey("user-1"), 1, "ghost")
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), "ghost", "user-1"))
	assert.False(t, mr.Exists(OwnerIndexKey("user-1")))
}

func TestDrainClosesOpenSubscriptions(t *testing.T) {
	s, _ := newTestStore(t)
	rec := &recorder{}

	a, err := s.Subscribe(context.Background(), "bookmarks:user-1:a", rec.handlers())
	require.NoError(t, err)
	b, err := s.Subscribe(context.Background(), "bookmarks:user-2:b", rec.handlers())
	require.NoError(t, err)
	require.Equal(t, 2, s.LiveSubscriptions())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := s.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, s.LiveSubscriptions())

	for _, sub := range []*Subscription{a, b} {
		select {
		case <-sub.Done():
		default:
			t.Fatalf("subscription %s still running after Drain", sub.Name())
		}
	}

	n, err = s.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type recorder struct {
	mu       sync.Mutex
	changes  []domain.Change
	statuses []domain.ConnStatus
}

func (r *recorder) handlers() domain.FeedHandlers {
	return domain.FeedHandlers{
		Change: func(c domain.Change) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.changes = append(r.changes, c)
		},
		Status: func(s domain.ConnStatus) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, s)
		},
	}
}

func (r *recorder) snapshot() ([]domain.Change, []domain.ConnStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Change(nil), r.changes...), append([]domain.ConnStatus(nil), r.statuses...)
}

func TestSubscribeDeliversTableWideChanges(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	rec := &recorder{}

	sub, err := s.Subscribe(ctx, "bookmarks:user-1:1", rec.handlers())
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.Eventually(t, func() bool {
		_, st := rec.snapshot()
		return len(st) == 1 && st[0] == domain.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	mine, err := s.Insert(ctx, mustDraft(t, "Mine", "https://mine.example"), "user-1")
	require.NoError(t, err)
	_, err = s.Insert(ctx, mustDraft(t, "Theirs", "https://theirs.example"), "user-2")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, mine.ID, "user-1"))

	require.Eventually(t, func() bool {
		ch, _ := rec.snapshot()
		return len(ch) == 3
	}, 2*time.Second, 10*time.Millisecond)

	changes, _ := rec.snapshot()
	assert.Equal(t, domain.ChangeInsert, changes[0].Kind)
	assert.Equal(t, mine, changes[0].Record)
	assert.Equal(t, "user-2", changes[1].Record.OwnerID)
	assert.Equal(t, domain.Change{Kind: domain.ChangeDelete, OldID: mine.ID}, changes[2])
}

func TestSubscriptionCloseLeavesNoLiveSubscription(t *testing.T) {
	s, _ := newTestStore(t)
	rec := &recorder{}

	sub, err := s.Subscribe(context.Background(), "bookmarks:user-1:2", rec.handlers())
	require.NoError(t, err)
	assert.Equal(t, 1, s.LiveSubscriptions())

	_, err = s.Subscribe(context.Background(), "bookmarks:user-1:2", rec.handlers())
	assert.Error(t, err, "duplicate subscription name must be rejected")

	require.NoError(t, sub.Close())
	assert.Equal(t, 0, s.LiveSubscriptions())
	require.NoError(t, sub.Close(), "Close must be idempotent")

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive goroutine did not exit after Close")
	}
}

func TestSubscriptionErrorsWhenBackendGoesAway(t *testing.T) {
	s, mr := newTestStore(t)
	rec := &recorder{}

	sub, err := s.Subscribe(context.Background(), "bookmarks:user-1:3", rec.handlers())
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.Eventually(t, func() bool {
		_, st := rec.snapshot()
		return len(st) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mr.Close()

	require.Eventually(t, func() bool {
		_, st := rec.snapshot()
		return len(st) == 2 && st[1] == domain.StatusErrored
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.LiveSubscriptions())
}

func TestDecodeChangeRejectsMalformedPayloads(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{"type":"UPDATE","table":"bookmarks"}`,
		`{"type":"INSERT","table":"bookmarks"}`,
		`{"type":"DELETE","table":"bookmarks","old_record":{}}`,
	} {
		_, err := decodeChange(payload)
		assert.Error(t, err, payload)
	}
}

func TestRevokeSession(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s, mr := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.RevokeSession(ctx, "tok-1", now.Add(time.Hour)))
	revoked, err := s.IsSessionRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Already expired tokens are not stored
	require.NoError(t, s.RevokeSession(ctx, "tok-2", now.Add(-time.Minute)))
	revoked, err = s.IsSessionRevoked(ctx, "tok-2")
	require.NoError(t, err)
	assert.False(t, revoked)

	mr.FastForward(2 * time.Hour)
	revoked, err = s.IsSessionRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, revoked, "revocation entry should expire with the token")
}

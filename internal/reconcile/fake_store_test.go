package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/session"
)

type fakeSub struct {
	name   string
	h      domain.FeedHandlers
	store  *fakeStore
	closed bool
}

func (s *fakeSub) Name() string { return s.name }

func (s *fakeSub) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.closed = true
	return nil
}

// fakeStore is an in-memory Store. Write calls can be held open with
// gate to observe the optimistic state.
type fakeStore struct {
	mu sync.Mutex

	rows    map[string][]domain.Bookmark
	nextID  string
	subs    []*fakeSub
	inserts int
	deletes int
	lists   int

	insertErr    error
	deleteErr    error
	deleteErrFor map[string]error
	listErr      error
	subscribeErr error

	gate chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]domain.Bookmark)}
}

func (f *fakeStore) seed(owner string, rows ...domain.Bookmark) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[owner] = append([]domain.Bookmark(nil), rows...)
}

func (f *fakeStore) wait(ctx context.Context) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeStore) List(_ context.Context, owner string) ([]domain.Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Bookmark{}, f.rows[owner]...), nil
}

func (f *fakeStore) Insert(ctx context.Context, d domain.Draft, owner string) (domain.Bookmark, error) {
	f.mu.Lock()
	f.inserts++
	f.mu.Unlock()

	if err := f.wait(ctx); err != nil {
		return domain.Bookmark{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return domain.Bookmark{}, f.insertErr
	}
	id := f.nextID
	if id == "" {
		id = "generated"
	}
	b := domain.Bookmark{ID: id, OwnerID: owner, URL: d.URL, Title: d.Title, CreatedAt: time.Now().UTC()}
	f.rows[owner] = append([]domain.Bookmark{b}, f.rows[owner]...)
	return b, nil
}

func (f *fakeStore) Delete(ctx context.Context, id, owner string) error {
	f.mu.Lock()
	f.deletes++
	f.mu.Unlock()

	if err := f.wait(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if err := f.deleteErrFor[id]; err != nil {
		return err
	}
	rows := f.rows[owner]
	for i := range rows {
		if rows[i].ID == id {
			f.rows[owner] = append(rows[:i:i], rows[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) Subscribe(_ context.Context, name string, h domain.FeedHandlers) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	for _, s := range f.subs {
		if s.name == name && !s.closed {
			return nil, errors.New("duplicate subscription name")
		}
	}
	sub := &fakeSub{name: name, h: h, store: f}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeStore) live() []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSub
	for _, s := range f.subs {
		if !s.closed {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeStore) all() []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSub(nil), f.subs...)
}

// publish delivers c to every open subscription, like the table-wide feed.
func (f *fakeStore) publish(c domain.Change) {
	for _, s := range f.live() {
		s.h.EmitChange(c)
	}
}

func (f *fakeStore) status(st domain.ConnStatus) {
	for _, s := range f.live() {
		s.h.EmitStatus(st)
	}
}

func (f *fakeStore) counts() (inserts, deletes, lists int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts, f.deletes, f.lists
}

type fakeGateway struct {
	mu         sync.Mutex
	terminated []session.Identity
	err        error

	currentErr error             // returned by Current
	switchTo   *session.Identity // identity Current reports instead of the given one
	checks     int
}

func (g *fakeGateway) Current(_ context.Context, id session.Identity) (session.Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	if g.currentErr != nil {
		return session.Identity{}, g.currentErr
	}
	for _, t := range g.terminated {
		if t.TokenID == id.TokenID {
			return session.Identity{}, session.ErrRevoked
		}
	}
	if g.switchTo != nil {
		return *g.switchTo, nil
	}
	return id, nil
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) Terminate(_ context.Context, id session.Identity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.terminated = append(g.terminated, id)
	return nil
}

// Package liveview hands server-rendered snapshots to the websocket that
// mounts the view for them.
package liveview

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrSnakeDoc/shelf/internal/domain"
)

var (
	ErrViewNotFound = errors.New("pending view not found or expired")
	ErrViewOwner    = errors.New("pending view belongs to another session")
)

// DefaultTTL is how long a rendered page may wait for its websocket.
const DefaultTTL = time.Minute

// PendingView is a rendered page whose websocket has not connected yet.
type PendingView struct {
	ID        string
	OwnerID   string
	Snapshot  []domain.Bookmark
	CreatedAt time.Time
}

// Registry stores pending views in memory until they are claimed or expire.
type Registry struct {
	mu    sync.RWMutex
	views map[string]*PendingView // ID -> view
	ttl   time.Duration
	now   func() time.Time
	gauge prometheus.Gauge
}

// NewRegistry creates an empty registry. gauge may be nil.
func NewRegistry(ttl time.Duration, gauge prometheus.Gauge) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		views: make(map[string]*PendingView),
		ttl:   ttl,
		now:   time.Now,
		gauge: gauge,
	}
}

// Register stores snapshot for owner and returns the view id to embed in
// the page.
func (r *Registry) Register(owner string, snapshot []domain.Bookmark) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	r.views[id] = &PendingView{
		ID:        id,
		OwnerID:   owner,
		Snapshot:  append([]domain.Bookmark(nil), snapshot...),
		CreatedAt: r.now(),
	}
	r.observeLocked()
	return id
}

// Claim removes and returns the pending view id. A view can be claimed
// once, only by its owner, and only before it expires.
func (r *Registry) Claim(id, owner string) (PendingView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.views[id]
	if !ok || r.expired(v, r.now()) {
		return PendingView{}, ErrViewNotFound
	}
	if v.OwnerID != owner {
		return PendingView{}, ErrViewOwner
	}

	delete(r.views, id)
	r.observeLocked()
	return *v, nil
}

// Sweep drops every view older than the TTL and returns how many went.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, v := range r.views {
		if r.expired(v, now) {
			delete(r.views, id)
			removed++
		}
	}
	if removed > 0 {
		r.observeLocked()
	}
	return removed
}

// Count returns the number of pending views, expired ones included.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.views)
}

func (r *Registry) expired(v *PendingView, now time.Time) bool {
	return now.Sub(v.CreatedAt) > r.ttl
}

func (r *Registry) observeLocked() {
	if r.gauge != nil {
		r.gauge.Set(float64(len(r.views)))
	}
}

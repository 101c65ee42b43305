package liveview

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MrSnakeDoc/shelf/internal/domain"
)

func newTestRegistry(ttl time.Duration) (*Registry, *time.Time) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(ttl, nil)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestRegisterAndClaim(t *testing.T) {
	r, _ := newTestRegistry(time.Minute)
	snapshot := []domain.Bookmark{{ID: "a1", OwnerID: "user-1"}}

	id := r.Register("user-1", snapshot)
	if id == "" {
		t.Fatal("Register() returned empty id")
	}

	v, err := r.Claim(id, "user-1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if v.OwnerID != "user-1" || len(v.Snapshot) != 1 || v.Snapshot[0].ID != "a1" {
		t.Errorf("Claim() = %+v, want snapshot [a1] for user-1", v)
	}

	if _, err := r.Claim(id, "user-1"); !errors.Is(err, ErrViewNotFound) {
		t.Errorf("second Claim() error = %v, want ErrViewNotFound", err)
	}
}

func TestClaimErrors(t *testing.T) {
	tests := []struct {
		name    string
		owner   string
		advance time.Duration
		wantErr error
	}{
		{"other owner", "user-2", 0, ErrViewOwner},
		{"expired", "user-1", 2 * time.Minute, ErrViewNotFound},
		{"at ttl", "user-1", time.Minute, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, now := newTestRegistry(time.Minute)
			id := r.Register("user-1", nil)
			*now = now.Add(tt.advance)

			_, err := r.Claim(id, tt.owner)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Claim() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClaimByOtherOwnerKeepsView(t *testing.T) {
	r, _ := newTestRegistry(time.Minute)
	id := r.Register("user-1", nil)

	_, _ = r.Claim(id, "user-2")

	if _, err := r.Claim(id, "user-1"); err != nil {
		t.Errorf("owner Claim() after foreign attempt error = %v", err)
	}
}

func TestSweep(t *testing.T) {
	r, now := newTestRegistry(time.Minute)
	r.Register("user-1", nil)
	*now = now.Add(45 * time.Second)
	r.Register("user-1", nil)
	*now = now.Add(30 * time.Second)

	if got := r.Sweep(); got != 1 {
		t.Errorf("Sweep() removed %d, want 1", got)
	}
	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestRegistryGauge(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "pending"})
	r := NewRegistry(time.Minute, g)

	id := r.Register("user-1", nil)
	r.Register("user-1", nil)
	if got := testutil.ToFloat64(g); got != 2 {
		t.Errorf("gauge = %v, want 2", got)
	}

	_, _ = r.Claim(id, "user-1")
	if got := testutil.ToFloat64(g); got != 1 {
		t.Errorf("gauge = %v, want 1", got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(time.Minute, nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Register("user-1", nil)
			_, _ = r.Claim(id, "user-1")
			r.Sweep()
		}()
	}
	wg.Wait()

	if got := r.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

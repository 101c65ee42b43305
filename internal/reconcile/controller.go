// Package reconcile keeps one tab's bookmark list consistent with the
// store. Three sources feed it: the snapshot rendered before the tab
// connected, the tab's own optimistic writes, and the table-wide change
// feed. Every insertion goes through AddToList, which is idempotent by
// identifier, so the same record arriving from two sources is kept once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/metrics"
	"github.com/MrSnakeDoc/shelf/internal/session"
)

var (
	// ErrBusy is returned by AddBookmark while another add is in flight.
	ErrBusy = errors.New("an add is already in progress")
	// ErrDeleteInFlight is returned by DeleteBookmark while the same record
	// is already being deleted.
	ErrDeleteInFlight = errors.New("this bookmark is already being deleted")
	// ErrNoIdentity is returned when the controller has no session owner.
	ErrNoIdentity = errors.New("no session identity")
	// ErrSessionEnded is returned by writes once the session was terminated
	// or expired. The view is detached and must navigate to LoginPath.
	ErrSessionEnded = errors.New("session ended")
)

// Subscription is a live handle on the change feed.
type Subscription interface {
	Name() string
	Close() error
}

// Store is the record store as seen by one view.
type Store interface {
	List(ctx context.Context, owner string) ([]domain.Bookmark, error)
	Insert(ctx context.Context, draft domain.Draft, owner string) (domain.Bookmark, error)
	Delete(ctx context.Context, id, owner string) error
	Subscribe(ctx context.Context, name string, h domain.FeedHandlers) (Subscription, error)
}

// Gateway checks and terminates sessions.
type Gateway interface {
	Current(ctx context.Context, id session.Identity) (session.Identity, error)
	Terminate(ctx context.Context, id session.Identity) error
}

type Options struct {
	HighlightWindow time.Duration
	RequestTimeout  time.Duration
	LoginPath       string
	Logger          logger.Logger
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HighlightWindow <= 0 {
		o.HighlightWindow = 2 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.LoginPath == "" {
		o.LoginPath = "/login"
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type mark struct {
	seq   uint64
	timer *time.Timer
}

// Controller is the authoritative list of one mounted view.
// All state transitions happen under mu; store calls never do.
type Controller struct {
	store   Store
	gateway Gateway
	opts    Options
	log     logger.Logger

	mu       sync.Mutex
	identity session.Identity
	list     []domain.Bookmark
	recent   map[string]mark
	markSeq  uint64
	deleting map[string]struct{}
	busy     bool
	ended    bool
	status   domain.ConnStatus
	errMsg   string

	sub     Subscription
	gen     uint64
	mounted bool

	changes chan struct{}
}

// New returns a controller for identity seeded with the snapshot list.
// Duplicate identifiers in seed are dropped.
func New(store Store, gateway Gateway, identity session.Identity, seed []domain.Bookmark, opts Options) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		store:    store,
		gateway:  gateway,
		opts:     opts,
		log:      opts.Logger,
		identity: identity,
		recent:   make(map[string]mark),
		deleting: make(map[string]struct{}),
		status:   domain.StatusConnecting,
		changes:  make(chan struct{}, 1),
	}
	c.list = dedupe(seed)
	return c
}

// ─── Subscription lifecycle ───────────────────────────────────────────────

// Mount opens the change subscription, replacing any previous one.
// The status becomes connecting; the feed reports the rest.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	owner := c.identity.UserID
	if owner == "" {
		c.mu.Unlock()
		return ErrNoIdentity
	}
	if c.ended {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	old := c.sub
	c.sub = nil
	c.gen++
	gen := c.gen
	if !c.mounted {
		c.mounted = true
		c.gaugeMounted(1)
	}
	c.status = domain.StatusConnecting
	c.mu.Unlock()
	c.signal()

	if old != nil {
		c.closeSub(old)
	}

	name := subscriptionName(owner, c.opts.Now())
	sub, err := c.store.Subscribe(ctx, name, domain.FeedHandlers{
		Change: func(ch domain.Change) { c.onChange(gen, ch) },
		Status: func(s domain.ConnStatus) { c.onStatus(gen, s) },
	})
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.status = domain.StatusErrored
		}
		c.mu.Unlock()
		c.signal()
		c.log.Warn("subscribe failed", logger.Error(err))
		return fmt.Errorf("subscribe: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen || !c.mounted {
		// superseded by a newer mount or an unmount
		c.mu.Unlock()
		c.closeSub(sub)
		return nil
	}
	c.sub = sub
	c.mu.Unlock()

	c.log.Debug("view mounted", logger.String("subscription", sub.Name()))
	return nil
}

// Resubscribe is the user retry after the feed errored. It is a fresh
// Mount; nothing reconnects on its own.
func (c *Controller) Resubscribe(ctx context.Context) error {
	return c.Mount(ctx)
}

// Unmount tears the subscription down and stops highlight timers.
// It is safe to call more than once.
func (c *Controller) Unmount() {
	c.mu.Lock()
	sub := c.detachLocked()
	for id, m := range c.recent {
		m.timer.Stop()
		delete(c.recent, id)
	}
	c.mu.Unlock()

	if sub != nil {
		c.closeSub(sub)
	}
}

// SetIdentity switches the view to another owner. The list is replaced by
// a fresh fetch for the new owner and a mounted view is remounted.
func (c *Controller) SetIdentity(ctx context.Context, id session.Identity) error {
	c.mu.Lock()
	if id.UserID == c.identity.UserID {
		c.identity = id
		c.ended = false
		c.mu.Unlock()
		return nil
	}
	c.identity = id
	c.ended = false
	wasMounted := c.mounted
	c.mu.Unlock()

	list := []domain.Bookmark{}
	if id.UserID != "" {
		var err error
		list, err = c.fetch(ctx, id.UserID)
		if err != nil {
			c.log.Warn("identity switch fetch failed, showing empty list",
				logger.String("owner_id", id.UserID),
				logger.Error(err))
			list = []domain.Bookmark{}
		}
	}

	c.mu.Lock()
	if c.identity.UserID == id.UserID {
		c.list = dedupe(list)
		clear(c.deleting)
		c.errMsg = ""
		for rid, m := range c.recent {
			m.timer.Stop()
			delete(c.recent, rid)
		}
	}
	c.mu.Unlock()
	c.signal()

	if id.UserID == "" {
		c.Unmount()
		return nil
	}
	if wasMounted {
		return c.Mount(ctx)
	}
	return nil
}

func (c *Controller) detachLocked() Subscription {
	sub := c.sub
	c.sub = nil
	c.gen++
	if c.mounted {
		c.mounted = false
		c.gaugeMounted(-1)
	}
	return sub
}

func (c *Controller) closeSub(sub Subscription) {
	if err := sub.Close(); err != nil {
		c.log.Debug("subscription close", logger.String("subscription", sub.Name()), logger.Error(err))
	}
}

func (c *Controller) onChange(gen uint64, ch domain.Change) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	changed := false
	switch ch.Kind {
	case domain.ChangeInsert:
		if !ch.Record.OwnedBy(c.identity.UserID) {
			c.mu.Unlock()
			if c.opts.Metrics != nil {
				c.opts.Metrics.DroppedNotifications.Inc()
			}
			return
		}
		changed = c.addLocked(ch.Record)
	case domain.ChangeDelete:
		changed = c.removeLocked(ch.OldID)
	}
	c.mu.Unlock()

	if changed {
		if c.opts.Metrics != nil {
			c.opts.Metrics.AppliedNotifications.WithLabelValues(string(ch.Kind)).Inc()
		}
		c.signal()
	}
}

func (c *Controller) onStatus(gen uint64, s domain.ConnStatus) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()

	if s == domain.StatusErrored {
		c.log.Warn("change feed errored, waiting for reconnect")
		if c.opts.Metrics != nil {
			c.opts.Metrics.SubscriptionFailures.Inc()
		}
	}
	c.signal()
}

// ─── Reconciliation ───────────────────────────────────────────────────────

// AddToList prepends b unless a record with the same identifier is
// already listed. It reports whether the list changed. A newly inserted
// record is marked recent for the highlight window.
func (c *Controller) AddToList(b domain.Bookmark) bool {
	c.mu.Lock()
	changed := c.addLocked(b)
	c.mu.Unlock()
	if changed {
		c.signal()
	}
	return changed
}

// RemoveFromList drops the record with identifier id, if present.
func (c *Controller) RemoveFromList(id string) bool {
	c.mu.Lock()
	changed := c.removeLocked(id)
	c.mu.Unlock()
	if changed {
		c.signal()
	}
	return changed
}

func (c *Controller) addLocked(b domain.Bookmark) bool {
	if b.ID == "" || c.indexLocked(b.ID) >= 0 {
		return false
	}
	c.list = append([]domain.Bookmark{b}, c.list...)
	c.markRecentLocked(b.ID)
	return true
}

func (c *Controller) removeLocked(id string) bool {
	i := c.indexLocked(id)
	if i < 0 {
		return false
	}
	c.list = append(c.list[:i:i], c.list[i+1:]...)
	return true
}

func (c *Controller) indexLocked(id string) int {
	for i := range c.list {
		if c.list[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) markRecentLocked(id string) {
	if m, ok := c.recent[id]; ok {
		m.timer.Stop()
	}
	c.markSeq++
	seq := c.markSeq
	c.recent[id] = mark{
		seq:   seq,
		timer: time.AfterFunc(c.opts.HighlightWindow, func() { c.expireRecent(id, seq) }),
	}
}

func (c *Controller) expireRecent(id string, seq uint64) {
	c.mu.Lock()
	m, ok := c.recent[id]
	if !ok || m.seq != seq {
		c.mu.Unlock()
		return
	}
	delete(c.recent, id)
	c.mu.Unlock()
	c.signal()
}

// ─── Write paths ──────────────────────────────────────────────────────────

// AddBookmark validates draft, inserts it for the current owner and merges
// the stored row into the list. Invalid drafts never reach the store.
// A failed insert leaves the list untouched.
func (c *Controller) AddBookmark(ctx context.Context, draft domain.Draft) (domain.Bookmark, error) {
	d, err := domain.NewDraft(draft.Title, draft.URL)
	if err != nil {
		c.setError(err.Error())
		return domain.Bookmark{}, err
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return domain.Bookmark{}, ErrBusy
	}
	c.busy = true
	c.errMsg = ""
	c.mu.Unlock()
	c.signal()

	owner, err := c.authorize(ctx)
	if err != nil {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		c.signal()
		return domain.Bookmark{}, err
	}

	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	rec, err := c.store.Insert(rctx, d, owner)
	cancel()

	c.mu.Lock()
	c.busy = false
	if err != nil {
		c.errMsg = "Could not save the bookmark. Please try again."
		c.mu.Unlock()
		c.signal()
		c.writeFailed(metrics.OpAdd, err)
		return domain.Bookmark{}, fmt.Errorf("add bookmark: %w", err)
	}
	if rec.OwnedBy(c.identity.UserID) {
		c.addLocked(rec)
	}
	c.mu.Unlock()
	c.signal()

	return rec, nil
}

// DeleteBookmark removes id optimistically and deletes it from the store,
// scoped by the current owner. Deletes of different records may overlap;
// a second delete of the same record is rejected. On failure the owner's
// full list is fetched again and replaces the local one.
func (c *Controller) DeleteBookmark(ctx context.Context, id string) error {
	c.mu.Lock()
	if _, ok := c.deleting[id]; ok {
		c.mu.Unlock()
		return ErrDeleteInFlight
	}
	if c.identity.UserID == "" {
		c.mu.Unlock()
		return ErrNoIdentity
	}
	pos := c.indexLocked(id)
	var row domain.Bookmark
	if pos >= 0 {
		row = c.list[pos]
	}
	c.removeLocked(id)
	c.deleting[id] = struct{}{}
	c.errMsg = ""
	c.mu.Unlock()
	c.signal()

	owner, err := c.authorize(ctx)
	if errors.Is(err, ErrSessionEnded) {
		// nothing was deleted: put the row back where it was
		c.mu.Lock()
		if pos >= 0 && c.indexLocked(id) < 0 {
			pos = min(pos, len(c.list))
			c.list = slices.Insert(c.list, pos, row)
		}
		c.mu.Unlock()
		c.doneDeleting(id)
		return err
	}
	if err == nil {
		rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		err = c.store.Delete(rctx, id, owner)
		cancel()
		if err == nil {
			c.doneDeleting(id)
			return nil
		}
		c.writeFailed(metrics.OpDelete, err)
	}

	// id must be released before the resync so the failed row comes back;
	// other deletes still in flight stay hidden.
	c.mu.Lock()
	delete(c.deleting, id)
	owner = c.identity.UserID
	c.mu.Unlock()
	c.resync(ctx, owner)
	c.setError("Could not delete the bookmark. The list was reloaded.")

	return fmt.Errorf("delete bookmark: %w", err)
}

func (c *Controller) doneDeleting(id string) {
	c.mu.Lock()
	delete(c.deleting, id)
	c.mu.Unlock()
	c.signal()
}

// authorize re-checks the session before a write and returns the owner to
// write for. An ended session detaches the view and yields ErrSessionEnded.
func (c *Controller) authorize(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.identity
	ended := c.ended
	c.mu.Unlock()
	if ended {
		return "", ErrSessionEnded
	}
	if id.UserID == "" {
		return "", ErrNoIdentity
	}

	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	cur, err := c.gateway.Current(rctx, id)
	cancel()
	switch {
	case session.Ended(err):
		c.endSession()
		return "", fmt.Errorf("%w: %v", ErrSessionEnded, err)
	case err != nil:
		c.setError("Could not verify your session. Please try again.")
		return "", fmt.Errorf("verify session: %w", err)
	}

	if cur.UserID != id.UserID {
		if err := c.SetIdentity(ctx, cur); err != nil {
			c.log.Warn("identity switch failed", logger.Error(err))
		}
	}
	return cur.UserID, nil
}

// endSession detaches the view from the feed after its session ended
// elsewhere, e.g. a sign-out in another tab.
func (c *Controller) endSession() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	sub := c.detachLocked()
	c.errMsg = "Your session has ended. Please sign in again."
	c.mu.Unlock()

	if sub != nil {
		c.closeSub(sub)
	}
	c.signal()
	c.log.Info("session ended, view detached")
}

// LoginPath is where a view goes once its session is over.
func (c *Controller) LoginPath() string { return c.opts.LoginPath }

// resync replaces the list with the store's current rows for owner.
// A failed fetch keeps the local list.
func (c *Controller) resync(ctx context.Context, owner string) {
	list, err := c.fetch(ctx, owner)
	if err != nil {
		c.log.Warn("resync failed, keeping local list", logger.Error(err))
		return
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.Resyncs.Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity.UserID != owner {
		return
	}
	c.list = dedupe(list)
	for rid := range c.deleting {
		c.removeLocked(rid)
	}
	for rid, m := range c.recent {
		if c.indexLocked(rid) < 0 {
			m.timer.Stop()
			delete(c.recent, rid)
		}
	}
}

func (c *Controller) fetch(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	return c.store.List(rctx, owner)
}

// SignOut closes the subscription, terminates the session and returns the
// path of the unauthenticated entry point.
func (c *Controller) SignOut(ctx context.Context) (string, error) {
	c.mu.Lock()
	sub := c.detachLocked()
	id := c.identity
	c.mu.Unlock()

	if sub != nil {
		c.closeSub(sub)
	}

	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	if err := c.gateway.Terminate(rctx, id); err != nil {
		c.setError("Could not sign out. Please try again.")
		return "", fmt.Errorf("sign out: %w", err)
	}

	c.mu.Lock()
	c.ended = true
	c.mu.Unlock()

	c.log.Info("session terminated")
	return c.opts.LoginPath, nil
}

func (c *Controller) setError(msg string) {
	c.mu.Lock()
	c.errMsg = msg
	c.mu.Unlock()
	c.signal()
}

func (c *Controller) writeFailed(op string, err error) {
	c.log.Warn("store write failed", logger.String("op", op), logger.Error(err))
	if c.opts.Metrics != nil {
		c.opts.Metrics.WriteFailures.WithLabelValues(op).Inc()
	}
}

func (c *Controller) gaugeMounted(delta float64) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.MountedViews.Add(delta)
	}
}

// ─── Rendering ────────────────────────────────────────────────────────────

// Changes signals that View may return something new. Signals coalesce:
// a reader that falls behind sees one pending signal, not a backlog.
func (c *Controller) Changes() <-chan struct{} { return c.changes }

func (c *Controller) signal() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func subscriptionName(owner string, at time.Time) string {
	return fmt.Sprintf("bookmarks:%s:%d:%s", owner, at.UnixNano(), uuid.NewString())
}

func dedupe(list []domain.Bookmark) []domain.Bookmark {
	out := make([]domain.Bookmark, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, b := range list {
		if _, ok := seen[b.ID]; ok {
			continue
		}
		seen[b.ID] = struct{}{}
		out = append(out, b)
	}
	return out
}

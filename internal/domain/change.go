package domain

// ChangeKind identifies the type of a change notification.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeDelete ChangeKind = "DELETE"
)

// Change is one event from the bookmarks change feed.
//
// Inserts carry the full row. Deletes only reliably carry the
// identifier of the removed row, in OldID.
type Change struct {
	Kind   ChangeKind
	Record Bookmark
	OldID  string
}

// ConnStatus tracks the lifecycle of a change subscription.
type ConnStatus string

const (
	StatusConnecting ConnStatus = "connecting"
	StatusConnected  ConnStatus = "connected"
	StatusErrored    ConnStatus = "errored"
)

// FeedHandlers receives the events of one subscription.
// Both callbacks are invoked from the subscription's receive goroutine.
type FeedHandlers struct {
	Change func(Change)
	Status func(ConnStatus)
}

func (h FeedHandlers) EmitChange(c Change) {
	if h.Change != nil {
		h.Change(c)
	}
}

func (h FeedHandlers) EmitStatus(s ConnStatus) {
	if h.Status != nil {
		h.Status(s)
	}
}

package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a row does not exist
// or is not visible to the requesting owner.
var ErrNotFound = errors.New("bookmark not found")

// Bookmark is a single URL/title pair owned by one identity.
//
// Rows are created and deleted, never updated in place.
type Bookmark struct {
	// ─────────────────────────────
	// Identity (assigned by the store)
	// ─────────────────────────────

	// ID is the opaque unique token assigned by the store on insert.
	ID string `json:"id"`

	// OwnerID is the subject of the session that created the row.
	// It never changes after creation.
	OwnerID string `json:"owner_id"`

	// ─────────────────────────────
	// Content (user supplied)
	// ─────────────────────────────

	// URL is a well-formed absolute URL.
	// Example: https://news.ycombinator.com
	URL string `json:"url"`

	// Title is the display title, never empty.
	Title string `json:"title"`

	// ─────────────────────────────
	// Metadata
	// ─────────────────────────────

	// CreatedAt is assigned by the store and drives newest-first ordering.
	CreatedAt time.Time `json:"created_at"`
}

// OwnedBy reports whether the bookmark belongs to owner.
func (b Bookmark) OwnedBy(owner string) bool {
	return owner != "" && b.OwnerID == owner
}

// IDs returns the identifiers of list in order.
func IDs(list []Bookmark) []string {
	ids := make([]string, 0, len(list))
	for _, b := range list {
		ids = append(ids, b.ID)
	}
	return ids
}

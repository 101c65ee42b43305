package reconcile

import (
	"slices"

	"github.com/MrSnakeDoc/shelf/internal/domain"
)

// Item is one listed bookmark as rendered.
type Item struct {
	domain.Bookmark
	Recent bool `json:"recent"`
}

// View is an immutable copy of the controller state.
type View struct {
	Owner    string            `json:"owner"`
	Items    []Item            `json:"items"`
	Count    int               `json:"count"`
	Status   domain.ConnStatus `json:"status"`
	Busy     bool              `json:"busy"`
	Deleting []string          `json:"deleting,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// View snapshots the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]Item, len(c.list))
	for i, b := range c.list {
		_, recent := c.recent[b.ID]
		items[i] = Item{Bookmark: b, Recent: recent}
	}
	var deleting []string
	for id := range c.deleting {
		deleting = append(deleting, id)
	}
	slices.Sort(deleting)

	return View{
		Owner:    c.identity.UserID,
		Items:    items,
		Count:    len(items),
		Status:   c.status,
		Busy:     c.busy,
		Deleting: deleting,
		Error:    c.errMsg,
	}
}

// IDs returns the listed identifiers in order.
func (v View) IDs() []string {
	ids := make([]string, len(v.Items))
	for i := range v.Items {
		ids[i] = v.Items[i].ID
	}
	return ids
}

// IsRecent reports whether id is marked as recently arrived.
func (v View) IsRecent(id string) bool {
	for _, it := range v.Items {
		if it.ID == id {
			return it.Recent
		}
	}
	return false
}

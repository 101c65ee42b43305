package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/session"
)

type bookmarksPage struct {
	Title  string
	ViewID string
	Items  []domain.Bookmark
	Count  int
	Status domain.ConnStatus
}

// Bookmarks renders the list from a fresh snapshot and registers it as a
// pending view for the websocket the page opens next.
func Bookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := session.FromContext(r.Context())
		if !ok {
			http.Redirect(w, r, d.LoginPath, http.StatusFound)
			return
		}

		list := d.Snapshots.Load(r.Context(), id.UserID)
		viewID := d.Views.Register(id.UserID, list)

		render(w, d.Logger, "bookmarks", bookmarksPage{
			Title:  "Bookmarks",
			ViewID: viewID,
			Items:  list,
			Count:  len(list),
			Status: domain.StatusConnecting,
		})
	}
}

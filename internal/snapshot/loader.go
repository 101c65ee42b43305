package snapshot

import (
	"context"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// Lister reads an owner's bookmarks, newest first.
type Lister interface {
	List(ctx context.Context, owner string) ([]domain.Bookmark, error)
}

// Loader produces the initial list rendered before a view mounts.
type Loader struct {
	store  Lister
	logger logger.Logger
}

// NewLoader creates a new snapshot loader
func NewLoader(store Lister, log logger.Logger) *Loader {
	return &Loader{
		store:  store,
		logger: log,
	}
}

// Load returns owner's bookmarks newest first. It never fails: a store
// error degrades to an empty list so the page still renders.
func (l *Loader) Load(ctx context.Context, owner string) []domain.Bookmark {
	list, err := l.store.List(ctx, owner)
	if err != nil {
		l.logger.Warn("snapshot load failed, rendering empty list",
			logger.String("owner_id", owner),
			logger.Error(err))
		return []domain.Bookmark{}
	}
	if list == nil {
		return []domain.Bookmark{}
	}

	l.logger.Debug("snapshot loaded",
		logger.String("owner_id", owner),
		logger.Int("count", len(list)))
	return list
}

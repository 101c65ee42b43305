package homepage

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// Target is the store the importer writes to.
type Target interface {
	List(ctx context.Context, owner string) ([]domain.Bookmark, error)
	Insert(ctx context.Context, draft domain.Draft, owner string) (domain.Bookmark, error)
}

// Result summarises one import run.
type Result struct {
	Added    int
	Existing int
	Failed   int
}

// Importer copies Homepage bookmarks into one owner's shelf. Every insert
// goes through the store, so open views receive it on the change feed.
type Importer struct {
	target Target
	logger logger.Logger
}

// NewImporter creates a new importer
func NewImporter(target Target, log logger.Logger) *Importer {
	return &Importer{
		target: target,
		logger: log,
	}
}

// Import inserts every entry whose URL is not already on owner's shelf.
// A failed insert is logged and counted; the run continues.
func (i *Importer) Import(ctx context.Context, owner string, entries []Entry, dryRun bool) (Result, error) {
	var res Result
	if owner == "" {
		return res, fmt.Errorf("import requires an owner")
	}

	existing, err := i.target.List(ctx, owner)
	if err != nil {
		return res, fmt.Errorf("failed to list existing bookmarks: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, b := range existing {
		known[b.URL] = struct{}{}
	}

	for _, e := range entries {
		if _, ok := known[e.Draft.URL]; ok {
			res.Existing++
			continue
		}
		if dryRun {
			res.Added++
			continue
		}

		b, err := i.target.Insert(ctx, e.Draft, owner)
		if err != nil {
			i.logger.Warn("failed to import bookmark",
				logger.String("category", e.Category),
				logger.String("name", e.Name),
				logger.Error(err))
			res.Failed++
			continue
		}
		known[b.URL] = struct{}{}
		res.Added++

		i.logger.Debug("bookmark imported",
			logger.String("bookmark_id", b.ID),
			logger.String("url", b.URL))
	}

	i.logger.Info("homepage import completed",
		logger.String("owner_id", owner),
		logger.Int("added", res.Added),
		logger.Int("existing", res.Existing),
		logger.Int("failed", res.Failed),
		logger.Bool("dry_run", dryRun))

	return res, nil
}

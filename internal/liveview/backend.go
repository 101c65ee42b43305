package liveview

import (
	"context"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/reconcile"
	redisstore "github.com/MrSnakeDoc/shelf/internal/store/redis"
)

// Backend adapts the redis store to the store a controller expects.
type Backend struct {
	*redisstore.Store
}

func (b Backend) Subscribe(ctx context.Context, name string, h domain.FeedHandlers) (reconcile.Subscription, error) {
	sub, err := b.Store.Subscribe(ctx, name, h)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

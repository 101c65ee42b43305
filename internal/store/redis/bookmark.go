package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

func newRowID() string {
	return uuid.NewString()
}

// List returns every bookmark owned by owner, newest first.
// Rows whose stored owner does not match are never returned.
func (s *Store) List(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	if owner == "" {
		return nil, errors.New("list requires an owner")
	}

	ids, err := s.client.ZRevRange(ctx, OwnerIndexKey(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmark ids: %w", err)
	}

	bookmarks := make([]domain.Bookmark, 0, len(ids))
	if len(ids) == 0 {
		return bookmarks, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BookmarkKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmarks: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a row: skip it
			continue
		}
		var b domain.Bookmark
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			s.logger.Warn("skipping undecodable bookmark row",
				logger.String("bookmark_id", ids[i]),
				logger.Error(err))
			continue
		}
		if !b.OwnedBy(owner) {
			continue
		}
		bookmarks = append(bookmarks, b)
	}

	return bookmarks, nil
}

// Insert stores one row for owner and returns it with its assigned
// identifier and timestamp. The insert is published on the change feed
// in the same transaction.
func (s *Store) Insert(ctx context.Context, draft domain.Draft, owner string) (domain.Bookmark, error) {
	if owner == "" {
		return domain.Bookmark{}, errors.New("insert requires an owner")
	}
	if err := draft.Validate(); err != nil {
		return domain.Bookmark{}, err
	}

	b := domain.Bookmark{
		ID:        s.newID(),
		OwnerID:   owner,
		URL:       draft.URL,
		Title:     draft.Title,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}

	data, err := json.Marshal(b)
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to marshal bookmark: %w", err)
	}
	event, err := encodeChange(domain.Change{Kind: domain.ChangeInsert, Record: b}, b.CreatedAt)
	if err != nil {
		return domain.Bookmark{}, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, BookmarkKey(b.ID), data, 0)
		pipe.ZAdd(ctx, OwnerIndexKey(owner), redis.Z{
			Score:  float64(b.CreatedAt.UnixMicro()),
			Member: b.ID,
		})
		pipe.Publish(ctx, ChannelBookmarks, event)
		return nil
	})
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to insert bookmark: %w", err)
	}

	return b, nil
}

// deleteRetries bounds optimistic-lock retries when the row is modified
// between WATCH and EXEC.
const deleteRetries = 3

var errNoRow = errors.New("no matching row")

// Delete removes the row matching both id and owner.
// Deleting a row that does not exist, or that belongs to someone else,
// is a silent no-op, like a filtered DELETE affecting zero rows.
// The ownership check, both removals and the notification commit together.
func (s *Store) Delete(ctx context.Context, id, owner string) error {
	if id == "" || owner == "" {
		return errors.New("delete requires an id and an owner")
	}

	indexKey := OwnerIndexKey(owner)
	rowKey := BookmarkKey(id)
	event, err := encodeChange(domain.Change{Kind: domain.ChangeDelete, OldID: id}, s.now().UTC())
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		if err := tx.ZScore(ctx, indexKey, id).Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				return errNoRow
			}
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, indexKey, id)
			pipe.Del(ctx, rowKey)
			pipe.Publish(ctx, ChannelBookmarks, event)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= deleteRetries; attempt++ {
		err = s.client.Watch(ctx, txf, indexKey, rowKey)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errNoRow):
			s.logger.Debug("delete matched no row",
				logger.String("bookmark_id", id),
				logger.String("owner_id", owner))
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("failed to delete bookmark: %w", err)
		}
	}
	return fmt.Errorf("failed to delete bookmark after %d attempts: %w", deleteRetries, err)
}

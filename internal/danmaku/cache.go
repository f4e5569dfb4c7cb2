package danmaku

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// CachedStore puts a Redis cache-aside layer in front of another Store. Only List is
// cached; writes go straight through and invalidate the video's key.
type CachedStore struct {
	next   Store
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
	log    zerolog.Logger
}

func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{next: next, client: client, prefix: "danmaku:video:", ttl: ttl, log: logger}
}

func (c *CachedStore) key(videoID string) string {
	return c.prefix + videoID
}

func (c *CachedStore) List(ctx context.Context, videoID string) ([]Item, error) {
	data, err := c.client.Get(ctx, c.key(videoID)).Bytes()
	switch {
	case err == nil:
		var items []Item
		if err := json.Unmarshal(data, &items); err == nil {
			return items, nil
		}
		c.log.Warn().Str("video_id", videoID).Msg("[danmaku] corrupt cache entry, reloading")
	case !errors.Is(err, redis.Nil):
		// Continue to the backing store on cache errors
		c.log.Warn().Err(err).Str("video_id", videoID).Msg("[danmaku] cache get failed")
	}

	val, err, _ := c.group.Do(videoID, func() (any, error) {
		// shared by every waiter, so one caller going away must not fail the rest
		ctx := context.WithoutCancel(ctx)
		items, err := c.next.List(ctx, videoID)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(items); err == nil {
			if err := c.client.Set(ctx, c.key(videoID), data, c.ttl).Err(); err != nil {
				c.log.Warn().Err(err).Str("video_id", videoID).Msg("[danmaku] cache set failed")
			}
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]Item), nil
}

func (c *CachedStore) Create(ctx context.Context, item Item) (Item, error) {
	created, err := c.next.Create(ctx, item)
	if err != nil {
		return Item{}, err
	}
	c.invalidate(ctx, created.VideoID)
	return created, nil
}

func (c *CachedStore) Delete(ctx context.Context, id string) (Item, error) {
	deleted, err := c.next.Delete(ctx, id)
	if err != nil {
		return Item{}, err
	}
	c.invalidate(ctx, deleted.VideoID)
	return deleted, nil
}

func (c *CachedStore) invalidate(ctx context.Context, videoID string) {
	if err := c.client.Del(ctx, c.key(videoID)).Err(); err != nil {
		c.log.Warn().Err(err).Str("video_id", videoID).Msg("[danmaku] cache invalidate failed")
	}
}

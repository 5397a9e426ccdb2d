package storage

import (
	"context"
	"strconv"
	"time"

	"ClipSync/logger"
	clipmodel "ClipSync/module/clip/model"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// cursor key: clip:cursor:<device>
// Value: last delivered sequence, refreshed on every advance.
func cursorKey(deviceID string) string {
	return "clip:cursor:" + deviceID
}

// CursorSource is the persistent cursor store the cache sits in front of. The
// device registry satisfies it.
type CursorSource interface {
	Cursor(ctx context.Context, deviceID string) (*clipmodel.SyncCursor, error)
	AdvanceCursor(ctx context.Context, userID, deviceID string, seq int64) error
}

// CursorCache fronts the registry's cursor with a redis copy so the resume
// read on every connect skips mongo on the hot path. Redis is a cache, never
// the authority: advances write through, reads fall back to the source on a
// miss or any redis error, and an advance that fails to refresh the cache
// only invalidates it.
type CursorCache struct {
	src CursorSource
	rdb *redis.Client
	ttl time.Duration
}

func NewCursorCache(src CursorSource, rdb *redis.Client, ttl time.Duration) *CursorCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CursorCache{src: src, rdb: rdb, ttl: ttl}
}

func (c *CursorCache) Cursor(ctx context.Context, deviceID string) (*clipmodel.SyncCursor, error) {
	val, err := c.rdb.Get(ctx, cursorKey(deviceID)).Result()
	if err == nil {
		if seq, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			return &clipmodel.SyncCursor{DeviceID: deviceID, LastDeliveredSeq: seq}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logger.Errorf("[CursorCache] redis read failed deviceID=%s err=%v", deviceID, err)
	}

	cur, err := c.src.Cursor(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if serr := c.rdb.Set(ctx, cursorKey(deviceID), strconv.FormatInt(cur.LastDeliveredSeq, 10), c.ttl).Err(); serr != nil {
		logger.Errorf("[CursorCache] redis fill failed deviceID=%s err=%v", deviceID, serr)
	}
	return cur, nil
}

func (c *CursorCache) AdvanceCursor(ctx context.Context, userID, deviceID string, seq int64) error {
	if err := c.src.AdvanceCursor(ctx, userID, deviceID, seq); err != nil {
		return err
	}
	// The source clamps rewinds, so re-read rather than trusting seq.
	cur, err := c.src.Cursor(ctx, deviceID)
	if err != nil {
		c.invalidate(ctx, deviceID)
		return nil
	}
	if serr := c.rdb.Set(ctx, cursorKey(deviceID), strconv.FormatInt(cur.LastDeliveredSeq, 10), c.ttl).Err(); serr != nil {
		c.invalidate(ctx, deviceID)
	}
	return nil
}

// Invalidate drops the cached entry, e.g. when the device unregisters.
func (c *CursorCache) Invalidate(ctx context.Context, deviceID string) {
	c.invalidate(ctx, deviceID)
}

func (c *CursorCache) invalidate(ctx context.Context, deviceID string) {
	if err := c.rdb.Del(ctx, cursorKey(deviceID)).Err(); err != nil {
		logger.Errorf("[CursorCache] redis invalidate failed deviceID=%s err=%v", deviceID, err)
	}
}

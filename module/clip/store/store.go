package store

import (
	clipmodel "ClipSync/module/clip/model"
	"context"
)

// Quota is the capacity policy applied on append. When the live (non
// tombstoned) item count would exceed MaxItems, either the oldest live item
// is tombstoned in the same operation (EvictOldest) or the append fails.
// MaxItems <= 0 disables the quota.
type Quota struct {
	MaxItems    int
	EvictOldest bool
}

// AppendResult carries the appended event plus, when quota eviction fired,
// the eviction tombstone. The tombstone holds the lower sequence; callers
// broadcasting both must send it first.
type AppendResult struct {
	Item    *clipmodel.ClipItem
	Evicted *clipmodel.ClipItem
}

// DB is the versioned clip storage. Production implementation is Mongo
// (mongo.go); an in-memory implementation (mem.go) backs the unit tests.
//
// Append and Tombstone serialize per user: sequence allocation and the write
// commit under a single per-user lock, so sequence numbers never race and
// persisted events are gapless. Delta takes no write lock and sees only
// fully committed events.
type DB interface {
	// Append assigns the next sequence for item.UserID and persists the
	// item. Returns errs.ErrQuotaExceeded when the quota is hit and
	// eviction is disabled.
	Append(ctx context.Context, item *clipmodel.ClipItem) (*AppendResult, error)

	// Tombstone marks the item deleted and moves it to a freshly assigned
	// sequence, so the delete replicates exactly once and its ordering
	// against concurrent appends is well defined. Tombstoning an already
	// tombstoned item is a no-op returning the existing record.
	Tombstone(ctx context.Context, userID, itemID string) (*clipmodel.ClipItem, error)

	// Delta returns events with seq > sinceSeq in ascending order, capped
	// at limit, tombstones included. Re-calling with the last returned
	// sequence resumes the scan; repeated to exhaustion it yields every
	// event after the start point exactly once.
	Delta(ctx context.Context, userID string, sinceSeq int64, limit int) ([]*clipmodel.ClipItem, error)

	// Get returns a single event by ID, errs.ErrRecordNotFound if absent.
	Get(ctx context.Context, userID, itemID string) (*clipmodel.ClipItem, error)

	// MaxSeq returns the highest committed sequence for the user (0 when
	// the user has no events).
	MaxSeq(ctx context.Context, userID string) (int64, error)

	LiveCount(ctx context.Context, userID string) (int, error)

	// OldestLive returns the live item with the lowest sequence, nil when
	// the user has none. Used for FIFO quota trimming.
	OldestLive(ctx context.Context, userID string) (*clipmodel.ClipItem, error)

	// ExpiredLive lists live items created before cutoffMS, oldest first.
	ExpiredLive(ctx context.Context, userID string, cutoffMS int64, limit int) ([]*clipmodel.ClipItem, error)

	// Users lists user IDs that currently have any stored events; drives
	// the cleanup sweep.
	Users(ctx context.Context) ([]string, error)

	// PurgeTombstones physically deletes tombstones whose delete time is
	// before beforeMS. The sequence counter is untouched, so sequences
	// stay unique forever. Returns the number of rows removed.
	PurgeTombstones(ctx context.Context, userID string, beforeMS int64) (int64, error)

	// IsTransientErr reports whether err is worth a bounded retry at the
	// coordinator (storage briefly unavailable, not a logic error).
	IsTransientErr(err error) bool
}

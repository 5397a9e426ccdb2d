package syncer

import (
	"context"
	"time"

	"ClipSync/logger"
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/module/clip/store"
	"ClipSync/module/device"
	"ClipSync/service/hub"
	"ClipSync/tools/errs"
)

// Relay forwards committed events to peer nodes so sessions homed elsewhere
// still receive them. Optional: nil means single node.
type Relay interface {
	PublishItem(ctx context.Context, item *clipmodel.ClipItem, originDeviceID string) error
}

type Config struct {
	MaxContentSize int64 // global hard cap, bytes
	RetryMax       int   // bounded retries on transient storage errors
	RetryBase      time.Duration
}

func (c Config) norm() Config {
	if c.MaxContentSize <= 0 {
		c.MaxContentSize = 1 << 20
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 50 * time.Millisecond
	}
	return c
}

// Coordinator is the write path: it validates a device's push or delete,
// commits it to the store, and fans the committed event out to the user's
// other live sessions (local hub plus cross-node relay).
type Coordinator struct {
	conf    Config
	store   store.DB
	reg     *device.Registry
	cursors hub.CursorStore
	hub     *hub.Hub
	relay   Relay
}

func NewCoordinator(conf Config, db store.DB, reg *device.Registry, h *hub.Hub) *Coordinator {
	return &Coordinator{conf: conf.norm(), store: db, reg: reg, cursors: reg, hub: h}
}

// SetRelay wires the cross-node relay. Called once at startup.
func (c *Coordinator) SetRelay(r Relay) { c.relay = r }

// SetCursorStore swaps in a cursor store wrapper (the redis cache) so pull
// advances go through the same path the hub's acks do. Called once at startup.
func (c *Coordinator) SetCursorStore(cs hub.CursorStore) { c.cursors = cs }

// Push validates and commits one clipboard capture from a device. On
// success the committed item (and, when the quota evicted an older one, the
// eviction tombstone) is broadcast to the user's other sessions. The origin
// device already holds the content and is excluded from the item broadcast;
// an eviction tombstone goes to every session, origin included.
func (c *Coordinator) Push(ctx context.Context, userID, deviceID string, contentType clipmodel.ContentType, content string) (*store.AppendResult, error) {
	d, err := c.authDevice(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if !contentType.Valid() {
		return nil, errs.ErrUnsupportedContentType.WrapMsg("unknown content type", "contentType", string(contentType))
	}
	if !d.Caps.Accepts(contentType) {
		return nil, errs.ErrUnsupportedContentType.WrapMsg("device does not handle content type",
			"deviceID", deviceID, "contentType", string(contentType))
	}
	if len(content) == 0 {
		return nil, errs.ErrArgs.WrapMsg("empty content")
	}
	max := c.conf.MaxContentSize
	if d.Caps.MaxContentSize > 0 && d.Caps.MaxContentSize < max {
		max = d.Caps.MaxContentSize
	}
	if int64(len(content)) > max {
		return nil, errs.ErrPayloadTooLarge.WrapMsg("content over limit", "size", len(content), "max", max)
	}

	item := &clipmodel.ClipItem{
		UserID:         userID,
		OriginDeviceID: deviceID,
		ContentType:    contentType,
		Content:        content,
	}

	var res *store.AppendResult
	err = c.withRetry(ctx, func() error {
		var aerr error
		res, aerr = c.store.Append(ctx, item)
		return aerr
	})
	if err != nil {
		return nil, err
	}

	if res.Evicted != nil {
		c.broadcast(ctx, res.Evicted, "") // lower seq goes out first
	}
	c.broadcast(ctx, res.Item, deviceID)

	if terr := c.reg.Touch(ctx, deviceID); terr != nil {
		logger.Errorf("[Coordinator] touch after push failed deviceID=%s err=%v", deviceID, terr)
	}
	return res, nil
}

// Delete tombstones an item on behalf of a device and broadcasts the
// tombstone to the user's other sessions. Deleting an already deleted item
// succeeds without a new event.
func (c *Coordinator) Delete(ctx context.Context, userID, deviceID, itemID string) (*clipmodel.ClipItem, error) {
	if _, err := c.authDevice(ctx, userID, deviceID); err != nil {
		return nil, err
	}

	var before *clipmodel.ClipItem
	if it, err := c.store.Get(ctx, userID, itemID); err == nil {
		before = it
	}

	var ts *clipmodel.ClipItem
	err := c.withRetry(ctx, func() error {
		var terr error
		ts, terr = c.store.Tombstone(ctx, userID, itemID)
		return terr
	})
	if err != nil {
		return nil, err
	}

	// Only a fresh tombstone produces a new event worth broadcasting.
	if before == nil || !before.Deleted() {
		c.broadcast(ctx, ts, deviceID)
	}
	return ts, nil
}

// Pull returns the committed events after sinceSeq for the device, ascending
// and capped at limit, and advances the device's cursor past what it is
// handed. The second return is the cursor to resume from.
func (c *Coordinator) Pull(ctx context.Context, userID, deviceID string, sinceSeq int64, limit int) ([]*clipmodel.ClipItem, int64, error) {
	if _, err := c.authDevice(ctx, userID, deviceID); err != nil {
		return nil, 0, err
	}
	if sinceSeq < 0 {
		return nil, 0, errs.ErrArgs.WrapMsg("sinceSeq must be >= 0", "sinceSeq", sinceSeq)
	}

	items, err := c.store.Delta(ctx, userID, sinceSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	next := sinceSeq
	if n := len(items); n > 0 {
		next = items[n-1].Seq
		if aerr := c.cursors.AdvanceCursor(ctx, userID, deviceID, next); aerr != nil {
			logger.Errorf("[Coordinator] advance cursor after pull failed deviceID=%s err=%v", deviceID, aerr)
		}
	}
	return items, next, nil
}

// LocalPublish hands a relayed event from a peer node to the local hub.
func (c *Coordinator) LocalPublish(item *clipmodel.ClipItem, originDeviceID string) {
	c.hub.Publish(item.UserID, item, originDeviceID)
}

// authDevice checks the device exists and belongs to the caller.
func (c *Coordinator) authDevice(ctx context.Context, userID, deviceID string) (*clipmodel.Device, error) {
	d, err := c.reg.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, errs.ErrNoPermission.WrapMsg("device belongs to another user", "deviceID", deviceID)
	}
	return d, nil
}

func (c *Coordinator) broadcast(ctx context.Context, item *clipmodel.ClipItem, excludeDeviceID string) {
	c.hub.Publish(item.UserID, item, excludeDeviceID)
	if c.relay != nil {
		if err := c.relay.PublishItem(ctx, item, excludeDeviceID); err != nil {
			logger.Errorf("[Coordinator] relay publish failed userID=%s seq=%d err=%v", item.UserID, item.Seq, err)
		}
	}
}

// withRetry runs op, retrying transient storage errors with exponential
// backoff. Non-transient errors return immediately; exhausting the budget
// surfaces ErrTransientStorage so callers can tell the client to retry.
func (c *Coordinator) withRetry(ctx context.Context, op func() error) error {
	var last error
	for attempt := 0; attempt <= c.conf.RetryMax; attempt++ {
		if attempt > 0 {
			wait := c.conf.RetryBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return errs.WrapMsg(ctx.Err(), "retry interrupted")
			case <-time.After(wait):
			}
		}
		err := op()
		if err == nil {
			return nil
		}
		if !c.store.IsTransientErr(err) {
			return err
		}
		last = err
		logger.Errorf("[Coordinator] transient storage error attempt=%d err=%v", attempt, err)
	}
	return errs.ErrTransientStorage.WrapMsg("storage retries exhausted", "cause", last)
}

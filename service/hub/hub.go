package hub

import (
	"context"
	"sync"
	"time"

	"ClipSync/logger"
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/tools/errs"
	"ClipSync/tools/ids"
	"ClipSync/tools/safe"
)

// CursorStore is the persisted delivery watermark per device. The device
// registry satisfies it.
type CursorStore interface {
	Cursor(ctx context.Context, deviceID string) (*clipmodel.SyncCursor, error)
	AdvanceCursor(ctx context.Context, userID, deviceID string, seq int64) error
}

// DeltaSource replays committed events after a sequence. The clip store
// satisfies it.
type DeltaSource interface {
	Delta(ctx context.Context, userID string, sinceSeq int64, limit int) ([]*clipmodel.ClipItem, error)
	MaxSeq(ctx context.Context, userID string) (int64, error)
}

// Presence mirrors online state to a shared view (redis). Best effort: a
// presence failure never fails a connect.
type Presence interface {
	Up(ctx context.Context, userID, deviceID string) error
	Down(ctx context.Context, userID, deviceID string) error
}

type HubConf struct {
	SendQueueSize int           // per-session outbound buffer
	SessionTTL    time.Duration // drop sessions without a heartbeat for this long
	SweepEvery    time.Duration
	CatchupBatch  int // delta page size during connect replay
	CatchupWait   time.Duration
	FanoutWorkers int
	FanoutQueue   int
}

func (c HubConf) norm() HubConf {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 90 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
	if c.CatchupBatch <= 0 {
		c.CatchupBatch = 200
	}
	if c.CatchupWait <= 0 {
		c.CatchupWait = 30 * time.Second
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 4
	}
	if c.FanoutQueue <= 0 {
		c.FanoutQueue = 1024
	}
	return c
}

// Hub owns every live session on this node. One session per device: a new
// connection for a device supersedes the old one. A connecting session first
// replays its delta window, then goes live; pushes that race the replay are
// buffered and de-duplicated by sequence.
type Hub struct {
	conf     HubConf
	cursors  CursorStore
	delta    DeltaSource
	presence Presence // optional

	mu     sync.RWMutex
	byDev  map[string]*Session            // deviceID -> session
	byUser map[string]map[string]*Session // userID -> deviceID -> session

	fanout *fanout

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewHub(conf HubConf, cursors CursorStore, delta DeltaSource) *Hub {
	h := &Hub{
		conf:    conf.norm(),
		cursors: cursors,
		delta:   delta,
		byDev:   make(map[string]*Session),
		byUser:  make(map[string]map[string]*Session),
		stopped: make(chan struct{}),
	}
	h.fanout = newFanout(h, h.conf.FanoutWorkers, h.conf.FanoutQueue)
	safe.SafeGo(h.sweepLoop)
	return h
}

// SetPresence wires the shared presence mirror. Called once at startup.
func (h *Hub) SetPresence(p Presence) { h.presence = p }

// Connect registers a live session for the device and starts its catch-up
// replay from the device's persisted cursor. Any existing session for the
// same device is closed first.
func (h *Hub) Connect(ctx context.Context, userID, deviceID string, tr Transport) (*Session, error) {
	if userID == "" || deviceID == "" {
		return nil, errs.ErrArgs.WrapMsg("userID/deviceID required")
	}
	cur, err := h.cursors.Cursor(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	s := newSession(ids.GenerateString(), userID, deviceID, tr, h.conf.SendQueueSize, time.Now(), h.conf.SessionTTL)
	s.lastAcked = cur.LastDeliveredSeq

	h.mu.Lock()
	if old, ok := h.byDev[deviceID]; ok {
		h.removeLocked(old)
		old.close()
		logger.Infof("[Hub] session superseded deviceID=%s old=%s new=%s", deviceID, old.ID, s.ID)
	}
	h.byDev[deviceID] = s
	devs, ok := h.byUser[userID]
	if !ok {
		devs = make(map[string]*Session)
		h.byUser[userID] = devs
	}
	devs[deviceID] = s
	h.mu.Unlock()

	// Snapshot the replay window before returning: everything committed from
	// here on reaches the registered session through Publish, so the replay
	// must never reach past this point.
	maxSeq, err := h.delta.MaxSeq(ctx, userID)
	if err != nil {
		h.Disconnect(s, "connect snapshot failed")
		return nil, err
	}

	safe.SafeGo(func() { h.writeLoop(s) })
	safe.SafeGo(func() { h.runCatchup(s, cur.LastDeliveredSeq, maxSeq) })

	if h.presence != nil {
		if err := h.presence.Up(ctx, userID, deviceID); err != nil {
			logger.Errorf("[Hub] presence up failed deviceID=%s err=%v", deviceID, err)
		}
	}
	return s, nil
}

// Publish fans a committed event out to the user's live sessions, excluding
// the origin device. Sessions that cannot take the event are dropped; the
// device recovers through reconnect + catch-up.
func (h *Hub) Publish(userID string, item *clipmodel.ClipItem, excludeDeviceID string) {
	h.mu.RLock()
	devs := h.byUser[userID]
	targets := make([]*Session, 0, len(devs))
	for devID, s := range devs {
		if devID == excludeDeviceID {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		h.fanout.submit(s, item)
	}
}

// Ack records that the device has durably applied everything up to seq.
// Lower or repeated acks are ignored; the persisted cursor only moves
// forward.
func (h *Hub) Ack(ctx context.Context, s *Session, seq int64) error {
	if seq <= 0 {
		return errs.ErrArgs.WrapMsg("ack seq must be positive", "seq", seq)
	}
	if !s.markAcked(seq) {
		return nil
	}
	return h.cursors.AdvanceCursor(ctx, s.UserID, s.DeviceID, seq)
}

// Heartbeat extends the session lease.
func (h *Hub) Heartbeat(s *Session) {
	now := time.Now()
	s.mu.Lock()
	s.heartbeat = now
	s.expireAt = now.Add(h.conf.SessionTTL)
	s.mu.Unlock()
	if h.presence != nil {
		if err := h.presence.Up(context.Background(), s.UserID, s.DeviceID); err != nil {
			logger.Errorf("[Hub] presence refresh failed deviceID=%s err=%v", s.DeviceID, err)
		}
	}
}

// Disconnect tears the session down. Safe to call more than once.
func (h *Hub) Disconnect(s *Session, reason string) {
	h.mu.Lock()
	cur, ok := h.byDev[s.DeviceID]
	if ok && cur == s {
		h.removeLocked(s)
	}
	h.mu.Unlock()

	s.close()
	if ok && cur == s {
		logger.Infof("[Hub] session closed deviceID=%s sessionID=%s reason=%s", s.DeviceID, s.ID, reason)
		if h.presence != nil {
			if err := h.presence.Down(context.Background(), s.UserID, s.DeviceID); err != nil {
				logger.Errorf("[Hub] presence down failed deviceID=%s err=%v", s.DeviceID, err)
			}
		}
	}
}

// DisconnectDevice closes whatever session the device currently holds.
// Wired into the registry as its SessionCloser.
func (h *Hub) DisconnectDevice(deviceID, reason string) {
	h.mu.RLock()
	s := h.byDev[deviceID]
	h.mu.RUnlock()
	if s != nil {
		h.Disconnect(s, reason)
	}
}

// Online lists device IDs with a live session for the user on this node.
func (h *Hub) Online(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	devs := h.byUser[userID]
	out := make([]string, 0, len(devs))
	for devID := range devs {
		out = append(out, devID)
	}
	return out
}

// Session returns the live session for a device, nil when offline.
func (h *Hub) Session(deviceID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byDev[deviceID]
}

func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stopped) })
	h.fanout.stop()

	h.mu.Lock()
	all := make([]*Session, 0, len(h.byDev))
	for _, s := range h.byDev {
		all = append(all, s)
	}
	h.byDev = make(map[string]*Session)
	h.byUser = make(map[string]map[string]*Session)
	h.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}

// removeLocked detaches the session from both indexes. Caller holds h.mu.
func (h *Hub) removeLocked(s *Session) {
	delete(h.byDev, s.DeviceID)
	if devs := h.byUser[s.UserID]; devs != nil {
		delete(devs, s.DeviceID)
		if len(devs) == 0 {
			delete(h.byUser, s.UserID)
		}
	}
}

// writeLoop is the session's single writer: everything the device receives
// on this connection goes through here, so websocket writes never interleave.
func (h *Hub) writeLoop(s *Session) {
	for {
		select {
		case item := <-s.out:
			if err := s.tr.SendItem(item); err != nil {
				logger.Errorf("[Hub] send failed deviceID=%s sessionID=%s err=%v", s.DeviceID, s.ID, err)
				h.Disconnect(s, "send failed")
				return
			}
		case <-s.Done():
			return
		}
	}
}

// runCatchup replays the events between the device's cursor and the window
// snapshot taken at connect, then flips the session live and drains pushes
// that arrived during the replay. Anything committed after the snapshot
// reaches the session through Publish; replaying past it would deliver those
// events twice, including the device's own pushes.
func (h *Hub) runCatchup(s *Session, sinceSeq, maxSeq int64) {
	ctx, cancel := context.WithTimeout(context.Background(), h.conf.CatchupWait)
	defer cancel()

	replayedTo := sinceSeq
	for replayedTo < maxSeq {
		items, err := h.delta.Delta(ctx, s.UserID, replayedTo, h.conf.CatchupBatch)
		if err != nil {
			logger.Errorf("[Hub] catchup delta failed deviceID=%s since=%d err=%v", s.DeviceID, replayedTo, err)
			h.Disconnect(s, "catchup failed")
			return
		}
		progressed := false
		for _, it := range items {
			if it.Seq > maxSeq {
				break
			}
			if !s.queueCatchup(it) {
				h.Disconnect(s, "catchup queue full")
				return
			}
			replayedTo = it.Seq
			progressed = true
		}
		if !progressed || len(items) < h.conf.CatchupBatch {
			break
		}
	}

	// Purged tombstones can leave the replay short of the snapshot; the
	// watermark still moves to it so the live filter lines up.
	if replayedTo < maxSeq {
		replayedTo = maxSeq
	}
	if !s.finishCatchup(replayedTo) {
		h.Disconnect(s, "catchup drain overflow")
	}
}

func (h *Hub) sweepLoop() {
	t := time.NewTicker(h.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-h.stopped:
			return
		case now := <-t.C:
			h.sweep(now)
		}
	}
}

func (h *Hub) sweep(now time.Time) {
	h.mu.RLock()
	var dead []*Session
	for _, s := range h.byDev {
		s.mu.Lock()
		expired := now.After(s.expireAt)
		s.mu.Unlock()
		if expired {
			dead = append(dead, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range dead {
		h.Disconnect(s, "heartbeat timeout")
	}
}

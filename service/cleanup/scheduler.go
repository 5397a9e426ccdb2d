package cleanup

import (
	"context"
	"sync"
	"time"

	"ClipSync/logger"
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/module/clip/store"
	"ClipSync/tools/safe"
)

// Publisher fans a cleanup-produced tombstone out to live sessions. The hub
// satisfies it.
type Publisher interface {
	Publish(userID string, item *clipmodel.ClipItem, excludeDeviceID string)
}

type Config struct {
	Interval time.Duration // sweep period for TTL expiry and quota trim
	ItemTTL  time.Duration // live items older than this are tombstoned; 0 disables
	MaxItems int           // quota trim floor; 0 disables

	TombstoneRetention time.Duration // purge tombstones older than this; 0 keeps them forever
	PurgeInterval      time.Duration

	Batch int // per-user page size for the expiry scan
}

func (c Config) norm() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = time.Hour
	}
	if c.Batch <= 0 {
		c.Batch = 100
	}
	return c
}

// Scheduler runs the background hygiene passes: tombstoning expired items,
// trimming users back under quota, and purging old tombstones. Expiry and
// trim go through the store's Tombstone path, so every removal is a normal
// sequenced event that live devices see and offline devices pick up on
// their next delta. Purging deletes tombstone rows outright and emits
// nothing; the sequence counter never rewinds.
type Scheduler struct {
	conf Config
	db   store.DB
	pub  Publisher

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewScheduler(conf Config, db store.DB, pub Publisher) *Scheduler {
	return &Scheduler{
		conf:    conf.norm(),
		db:      db,
		pub:     pub,
		stopped: make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	safe.SafeGo(s.sweepLoop)
	if s.conf.TombstoneRetention > 0 {
		safe.SafeGo(s.purgeLoop)
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *Scheduler) sweepLoop() {
	t := time.NewTicker(s.conf.Interval)
	defer t.Stop()
	for {
		select {
		case <-s.stopped:
			return
		case <-t.C:
			s.Sweep(context.Background())
		}
	}
}

func (s *Scheduler) purgeLoop() {
	t := time.NewTicker(s.conf.PurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stopped:
			return
		case <-t.C:
			s.Purge(context.Background())
		}
	}
}

// Sweep runs one TTL + quota pass over every user with stored events.
func (s *Scheduler) Sweep(ctx context.Context) {
	users, err := s.db.Users(ctx)
	if err != nil {
		logger.Errorf("[Cleanup] list users failed err=%v", err)
		return
	}
	for _, userID := range users {
		if s.conf.ItemTTL > 0 {
			s.expireUser(ctx, userID)
		}
		if s.conf.MaxItems > 0 {
			s.trimUser(ctx, userID)
		}
	}
}

// Purge runs one tombstone purge pass.
func (s *Scheduler) Purge(ctx context.Context) {
	users, err := s.db.Users(ctx)
	if err != nil {
		logger.Errorf("[Cleanup] list users failed err=%v", err)
		return
	}
	beforeMS := time.Now().Add(-s.conf.TombstoneRetention).UnixMilli()
	for _, userID := range users {
		n, err := s.db.PurgeTombstones(ctx, userID, beforeMS)
		if err != nil {
			logger.Errorf("[Cleanup] purge tombstones failed userID=%s err=%v", userID, err)
			continue
		}
		if n > 0 {
			logger.Infof("[Cleanup] purged tombstones userID=%s count=%d", userID, n)
		}
	}
}

func (s *Scheduler) expireUser(ctx context.Context, userID string) {
	cutoffMS := time.Now().Add(-s.conf.ItemTTL).UnixMilli()
	for {
		items, err := s.db.ExpiredLive(ctx, userID, cutoffMS, s.conf.Batch)
		if err != nil {
			logger.Errorf("[Cleanup] expired scan failed userID=%s err=%v", userID, err)
			return
		}
		for _, it := range items {
			s.tombstone(ctx, userID, it.ID, "ttl")
		}
		if len(items) < s.conf.Batch {
			return
		}
	}
}

func (s *Scheduler) trimUser(ctx context.Context, userID string) {
	n, err := s.db.LiveCount(ctx, userID)
	if err != nil {
		logger.Errorf("[Cleanup] live count failed userID=%s err=%v", userID, err)
		return
	}
	for ; n > s.conf.MaxItems; n-- {
		oldest, err := s.db.OldestLive(ctx, userID)
		if err != nil {
			logger.Errorf("[Cleanup] oldest live failed userID=%s err=%v", userID, err)
			return
		}
		if oldest == nil {
			return
		}
		s.tombstone(ctx, userID, oldest.ID, "quota")
	}
}

func (s *Scheduler) tombstone(ctx context.Context, userID, itemID, reason string) {
	ts, err := s.db.Tombstone(ctx, userID, itemID)
	if err != nil {
		logger.Errorf("[Cleanup] tombstone failed userID=%s itemID=%s reason=%s err=%v", userID, itemID, reason, err)
		return
	}
	if s.pub != nil {
		s.pub.Publish(userID, ts, "")
	}
}

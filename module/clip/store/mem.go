package store

import (
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/tools/errs"
	"ClipSync/tools/ids"
	"context"
	"sort"
	"sync"
	"time"
)

type memDB struct {
	mu    sync.RWMutex
	quota Quota
	byID  map[string]map[string]*clipmodel.ClipItem // userID -> itemID -> item
	seq   map[string]int64                          // userID -> last issued seq
}

// NewMemDB builds the in-memory store used by tests and local development.
func NewMemDB(quota Quota) DB {
	return &memDB{
		quota: quota,
		byID:  make(map[string]map[string]*clipmodel.ClipItem),
		seq:   make(map[string]int64),
	}
}

func (db *memDB) nextSeqLocked(userID string) int64 {
	db.seq[userID]++
	return db.seq[userID]
}

func (db *memDB) liveCountLocked(userID string) int {
	n := 0
	for _, it := range db.byID[userID] {
		if !it.Deleted() {
			n++
		}
	}
	return n
}

func (db *memDB) oldestLiveLocked(userID string) *clipmodel.ClipItem {
	var oldest *clipmodel.ClipItem
	for _, it := range db.byID[userID] {
		if it.Deleted() {
			continue
		}
		if oldest == nil || it.Seq < oldest.Seq {
			oldest = it
		}
	}
	return oldest
}

func (db *memDB) tombstoneLocked(it *clipmodel.ClipItem, nowMS int64) *clipmodel.ClipItem {
	it.DeletedAtMS = nowMS
	it.Seq = db.nextSeqLocked(it.UserID)
	cp := *it
	return &cp
}

func (db *memDB) Append(ctx context.Context, item *clipmodel.ClipItem) (*AppendResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	nowMS := time.Now().UnixMilli()
	res := &AppendResult{}

	if db.quota.MaxItems > 0 && db.liveCountLocked(item.UserID) >= db.quota.MaxItems {
		if !db.quota.EvictOldest {
			return nil, errs.ErrQuotaExceeded.WrapMsg("live items at quota", "userID", item.UserID, "max", db.quota.MaxItems)
		}
		if oldest := db.oldestLiveLocked(item.UserID); oldest != nil {
			res.Evicted = db.tombstoneLocked(oldest, nowMS)
		}
	}

	cp := *item
	if cp.ID == "" {
		cp.ID = ids.GenerateString()
	}
	if cp.CreatedAtMS == 0 {
		cp.CreatedAtMS = nowMS
	}
	cp.Seq = db.nextSeqLocked(cp.UserID)

	if db.byID[cp.UserID] == nil {
		db.byID[cp.UserID] = make(map[string]*clipmodel.ClipItem)
	}
	db.byID[cp.UserID][cp.ID] = &cp

	out := cp
	res.Item = &out
	return res, nil
}

func (db *memDB) Tombstone(ctx context.Context, userID, itemID string) (*clipmodel.ClipItem, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	it, ok := db.byID[userID][itemID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("clip item", "userID", userID, "itemID", itemID)
	}
	if it.Deleted() {
		cp := *it
		return &cp, nil
	}
	return db.tombstoneLocked(it, time.Now().UnixMilli()), nil
}

func (db *memDB) Delta(ctx context.Context, userID string, sinceSeq int64, limit int) ([]*clipmodel.ClipItem, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []*clipmodel.ClipItem
	for _, it := range db.byID[userID] {
		if it.Seq > sinceSeq {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *memDB) Get(ctx context.Context, userID, itemID string) (*clipmodel.ClipItem, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	it, ok := db.byID[userID][itemID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("clip item", "userID", userID, "itemID", itemID)
	}
	cp := *it
	return &cp, nil
}

func (db *memDB) MaxSeq(ctx context.Context, userID string) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.seq[userID], nil
}

func (db *memDB) LiveCount(ctx context.Context, userID string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.liveCountLocked(userID), nil
}

func (db *memDB) OldestLive(ctx context.Context, userID string) (*clipmodel.ClipItem, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	it := db.oldestLiveLocked(userID)
	if it == nil {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (db *memDB) ExpiredLive(ctx context.Context, userID string, cutoffMS int64, limit int) ([]*clipmodel.ClipItem, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []*clipmodel.ClipItem
	for _, it := range db.byID[userID] {
		if !it.Deleted() && it.CreatedAtMS < cutoffMS {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *memDB) Users(ctx context.Context) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]string, 0, len(db.byID))
	for u := range db.byID {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (db *memDB) PurgeTombstones(ctx context.Context, userID string, beforeMS int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var n int64
	for id, it := range db.byID[userID] {
		if it.Deleted() && it.DeletedAtMS < beforeMS {
			delete(db.byID[userID], id)
			n++
		}
	}
	return n, nil
}

func (db *memDB) IsTransientErr(err error) bool { return false } // memory store has no transient failures

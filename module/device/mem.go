package device

import (
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/tools/errs"
	"context"
	"sort"
	"sync"
)

type memDB struct {
	mu      sync.RWMutex
	devices map[string]*clipmodel.Device     // deviceID -> device
	cursors map[string]*clipmodel.SyncCursor // deviceID -> cursor
}

// NewMemDB builds the in-memory device store used by tests.
func NewMemDB() DB {
	return &memDB{
		devices: make(map[string]*clipmodel.Device),
		cursors: make(map[string]*clipmodel.SyncCursor),
	}
}

func (db *memDB) FindByFingerprint(ctx context.Context, userID, fingerprint string) (*clipmodel.Device, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, d := range db.devices {
		if d.UserID == userID && d.Fingerprint == fingerprint {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (db *memDB) Insert(ctx context.Context, d *clipmodel.Device) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *d
	db.devices[d.ID] = &cp
	return nil
}

func (db *memDB) Update(ctx context.Context, d *clipmodel.Device) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.devices[d.ID]; !ok {
		return errs.ErrRecordNotFound.WrapMsg("device", "deviceID", d.ID)
	}
	cp := *d
	db.devices[d.ID] = &cp
	return nil
}

func (db *memDB) Get(ctx context.Context, deviceID string) (*clipmodel.Device, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	d, ok := db.devices[deviceID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("device", "deviceID", deviceID)
	}
	cp := *d
	return &cp, nil
}

func (db *memDB) Touch(ctx context.Context, deviceID string, nowMS int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	d, ok := db.devices[deviceID]
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("device", "deviceID", deviceID)
	}
	d.LastSeenAtMS = nowMS
	return nil
}

func (db *memDB) Delete(ctx context.Context, deviceID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.devices[deviceID]; !ok {
		return errs.ErrRecordNotFound.WrapMsg("device", "deviceID", deviceID)
	}
	delete(db.devices, deviceID)
	return nil
}

func (db *memDB) List(ctx context.Context, userID string) ([]*clipmodel.Device, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*clipmodel.Device
	for _, d := range db.devices {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (db *memDB) GetCursor(ctx context.Context, deviceID string) (*clipmodel.SyncCursor, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.cursors[deviceID]
	if !ok {
		return &clipmodel.SyncCursor{DeviceID: deviceID}, nil
	}
	cp := *c
	return &cp, nil
}

func (db *memDB) AdvanceCursor(ctx context.Context, userID, deviceID string, seq int64, nowMS int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.cursors[deviceID]
	if !ok {
		db.cursors[deviceID] = &clipmodel.SyncCursor{
			DeviceID:         deviceID,
			UserID:           userID,
			LastDeliveredSeq: seq,
			UpdateTimeMS:     nowMS,
		}
		return nil
	}
	if seq > c.LastDeliveredSeq {
		c.LastDeliveredSeq = seq
		c.UpdateTimeMS = nowMS
	}
	return nil
}

func (db *memDB) DeleteCursor(ctx context.Context, deviceID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.cursors, deviceID)
	return nil
}

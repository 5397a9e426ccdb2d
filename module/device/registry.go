package device

import (
	"ClipSync/logger"
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/tools/errs"
	"ClipSync/tools/ids"
	"context"
	"time"
)

// DB abstracts device + cursor persistence. Production implementation is
// Mongo (mongo.go); the in-memory one (mem.go) backs tests.
type DB interface {
	// FindByFingerprint returns the user's device with the given
	// fingerprint, nil when absent.
	FindByFingerprint(ctx context.Context, userID, fingerprint string) (*clipmodel.Device, error)
	Insert(ctx context.Context, d *clipmodel.Device) error
	Update(ctx context.Context, d *clipmodel.Device) error
	Get(ctx context.Context, deviceID string) (*clipmodel.Device, error)
	Touch(ctx context.Context, deviceID string, nowMS int64) error
	Delete(ctx context.Context, deviceID string) error
	List(ctx context.Context, userID string) ([]*clipmodel.Device, error)

	// GetCursor returns the device's delivery watermark; a device that has
	// never acked gets a zero cursor, not an error.
	GetCursor(ctx context.Context, deviceID string) (*clipmodel.SyncCursor, error)
	// AdvanceCursor raises the watermark monotonically; a lower value is a
	// silent no-op (late or duplicate ack).
	AdvanceCursor(ctx context.Context, userID, deviceID string, seq int64, nowMS int64) error
	DeleteCursor(ctx context.Context, deviceID string) error
}

// SessionCloser force-closes any open session for a device. Wired by the hub
// after construction to avoid a package cycle.
type SessionCloser func(deviceID, reason string)

// Registry tracks a user's registered devices and their sync cursors.
type Registry struct {
	db     DB
	closer SessionCloser
}

func NewRegistry(db DB) *Registry {
	return &Registry{db: db}
}

func (r *Registry) SetSessionCloser(c SessionCloser) { r.closer = c }

// RegisterInfo is the caller-supplied registration payload. Fingerprint
// makes registration idempotent: re-registering updates display name and
// capabilities instead of creating a duplicate.
type RegisterInfo struct {
	Fingerprint string                 `json:"fingerprint"`
	DisplayName string                 `json:"display_name"`
	Caps        clipmodel.Capabilities `json:"caps"`
}

func (r *Registry) Register(ctx context.Context, userID string, info RegisterInfo) (*clipmodel.Device, error) {
	if userID == "" || info.Fingerprint == "" {
		return nil, errs.ErrArgs.WrapMsg("userID/fingerprint required")
	}
	nowMS := time.Now().UnixMilli()

	existing, err := r.db.FindByFingerprint(ctx, userID, info.Fingerprint)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.DisplayName = info.DisplayName
		existing.Caps = info.Caps
		existing.LastSeenAtMS = nowMS
		if err := r.db.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	d := &clipmodel.Device{
		ID:             ids.GenerateString(),
		UserID:         userID,
		Fingerprint:    info.Fingerprint,
		DisplayName:    info.DisplayName,
		Caps:           info.Caps,
		RegisteredAtMS: nowMS,
		LastSeenAtMS:   nowMS,
	}
	if err := r.db.Insert(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *Registry) Get(ctx context.Context, deviceID string) (*clipmodel.Device, error) {
	return r.db.Get(ctx, deviceID)
}

// Touch refreshes last-seen; called on connect and on every heartbeat.
func (r *Registry) Touch(ctx context.Context, deviceID string) error {
	return r.db.Touch(ctx, deviceID, time.Now().UnixMilli())
}

// Unregister removes the device and its sync cursor and force-closes any
// open session. Clip items originated by the device are untouched.
func (r *Registry) Unregister(ctx context.Context, deviceID string) error {
	if err := r.db.Delete(ctx, deviceID); err != nil {
		return err
	}
	if err := r.db.DeleteCursor(ctx, deviceID); err != nil {
		logger.Errorf("[Registry] delete cursor failed deviceID=%s err=%v", deviceID, err)
	}
	if r.closer != nil {
		r.closer(deviceID, "unregistered")
	}
	return nil
}

func (r *Registry) List(ctx context.Context, userID string) ([]*clipmodel.Device, error) {
	return r.db.List(ctx, userID)
}

func (r *Registry) Cursor(ctx context.Context, deviceID string) (*clipmodel.SyncCursor, error) {
	return r.db.GetCursor(ctx, deviceID)
}

func (r *Registry) AdvanceCursor(ctx context.Context, userID, deviceID string, seq int64) error {
	return r.db.AdvanceCursor(ctx, userID, deviceID, seq, time.Now().UnixMilli())
}

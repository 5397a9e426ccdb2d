package device

import (
	"context"
	"testing"

	clipmodel "ClipSync/module/clip/model"
	"ClipSync/tools/errs"
)

func newTestRegistry() *Registry {
	return NewRegistry(NewMemDB())
}

func TestRegisterIsIdempotentOnFingerprint(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	d1, err := r.Register(ctx, "u1", RegisterInfo{
		Fingerprint: "fp-1",
		DisplayName: "laptop",
		Caps:        clipmodel.Capabilities{Text: true},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	d2, err := r.Register(ctx, "u1", RegisterInfo{
		Fingerprint: "fp-1",
		DisplayName: "laptop (renamed)",
		Caps:        clipmodel.Capabilities{Text: true, Image: true},
	})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if d2.ID != d1.ID {
		t.Fatalf("re-registration created a new device: %s vs %s", d2.ID, d1.ID)
	}
	if d2.DisplayName != "laptop (renamed)" || !d2.Caps.Image {
		t.Fatalf("re-registration did not update: %+v", d2)
	}

	list, err := r.List(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("device count = %d, want 1", len(list))
	}

	// same fingerprint for a different user is a different device
	d3, err := r.Register(ctx, "u2", RegisterInfo{Fingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("register other user: %v", err)
	}
	if d3.ID == d1.ID {
		t.Fatal("devices shared across users")
	}
}

func TestRegisterRejectsMissingArgs(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Register(context.Background(), "", RegisterInfo{Fingerprint: "fp"}); !errs.ErrArgs.Is(err) {
		t.Fatalf("missing user: err = %v", err)
	}
	if _, err := r.Register(context.Background(), "u1", RegisterInfo{}); !errs.ErrArgs.Is(err) {
		t.Fatalf("missing fingerprint: err = %v", err)
	}
}

func TestUnregisterRemovesCursorAndClosesSession(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	d, err := r.Register(ctx, "u1", RegisterInfo{Fingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.AdvanceCursor(ctx, "u1", d.ID, 7); err != nil {
		t.Fatalf("advance: %v", err)
	}

	var closedDevice, closedReason string
	r.SetSessionCloser(func(deviceID, reason string) {
		closedDevice, closedReason = deviceID, reason
	})

	if err := r.Unregister(ctx, d.ID); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if closedDevice != d.ID || closedReason == "" {
		t.Fatalf("session not closed: device=%q reason=%q", closedDevice, closedReason)
	}
	if _, err := r.Get(ctx, d.ID); !errs.ErrRecordNotFound.Is(err) {
		t.Fatalf("device still present: %v", err)
	}
	cur, err := r.Cursor(ctx, d.ID)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cur.LastDeliveredSeq != 0 {
		t.Fatalf("cursor survived unregister: %+v", cur)
	}

	if err := r.Unregister(ctx, d.ID); !errs.ErrRecordNotFound.Is(err) {
		t.Fatalf("double unregister: err = %v", err)
	}
}

func TestCursorAdvancesMonotonically(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	d, err := r.Register(ctx, "u1", RegisterInfo{Fingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// a never-acked device has a zero cursor, not an error
	cur, err := r.Cursor(ctx, d.ID)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cur.LastDeliveredSeq != 0 {
		t.Fatalf("fresh cursor = %d", cur.LastDeliveredSeq)
	}

	if err := r.AdvanceCursor(ctx, "u1", d.ID, 5); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := r.AdvanceCursor(ctx, "u1", d.ID, 3); err != nil {
		t.Fatalf("late advance: %v", err)
	}
	cur, _ = r.Cursor(ctx, d.ID)
	if cur.LastDeliveredSeq != 5 {
		t.Fatalf("cursor = %d, want 5 (must never rewind)", cur.LastDeliveredSeq)
	}
}

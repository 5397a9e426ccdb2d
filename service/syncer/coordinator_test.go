package syncer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	clipmodel "ClipSync/module/clip/model"
	"ClipSync/module/clip/store"
	"ClipSync/module/device"
	"ClipSync/service/hub"
	"ClipSync/tools/errs"
)

type fixture struct {
	db    store.DB
	reg   *device.Registry
	hub   *hub.Hub
	coord *Coordinator
}

func newFixture(t *testing.T, quota store.Quota) *fixture {
	t.Helper()
	db := store.NewMemDB(quota)
	reg := device.NewRegistry(device.NewMemDB())
	h := hub.NewHub(hub.HubConf{}, reg, db)
	t.Cleanup(h.Close)
	coord := NewCoordinator(Config{MaxContentSize: 1024}, db, reg, h)
	return &fixture{db: db, reg: reg, hub: h, coord: coord}
}

func (fx *fixture) register(t *testing.T, userID, fingerprint string, caps clipmodel.Capabilities) *clipmodel.Device {
	t.Helper()
	d, err := fx.reg.Register(context.Background(), userID, device.RegisterInfo{
		Fingerprint: fingerprint,
		DisplayName: fingerprint,
		Caps:        caps,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return d
}

func allCaps() clipmodel.Capabilities {
	return clipmodel.Capabilities{Text: true, Image: true, File: true}
}

type collector struct {
	mu    sync.Mutex
	items []*clipmodel.ClipItem
}

func (c *collector) SendItem(item *clipmodel.ClipItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	return nil
}

func (c *collector) Close() error { return nil }

func (c *collector) seqs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.items))
	for i, it := range c.items {
		out[i] = it.Seq
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPushCommitsAndBroadcasts(t *testing.T) {
	fx := newFixture(t, store.Quota{})
	ctx := context.Background()
	origin := fx.register(t, "u1", "fp-origin", allCaps())
	other := fx.register(t, "u1", "fp-other", allCaps())

	trOrigin := &collector{}
	trOther := &collector{}
	if _, err := fx.hub.Connect(ctx, "u1", origin.ID, trOrigin); err != nil {
		t.Fatalf("connect origin: %v", err)
	}
	if _, err := fx.hub.Connect(ctx, "u1", other.ID, trOther); err != nil {
		t.Fatalf("connect other: %v", err)
	}

	res, err := fx.coord.Push(ctx, "u1", origin.ID, clipmodel.ContentTypeText, "hello")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res.Item.Seq != 1 || res.Item.OriginDeviceID != origin.ID {
		t.Fatalf("bad committed item: %+v", res.Item)
	}

	waitFor(t, "broadcast to other device", func() bool { return len(trOther.seqs()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if len(trOrigin.seqs()) != 0 {
		t.Fatalf("origin received its own push: %v", trOrigin.seqs())
	}
}

func TestPushValidation(t *testing.T) {
	fx := newFixture(t, store.Quota{})
	ctx := context.Background()
	d := fx.register(t, "u1", "fp-text-only", clipmodel.Capabilities{Text: true, MaxContentSize: 10})

	cases := []struct {
		name    string
		ct      clipmodel.ContentType
		content string
		want    *errs.CodeError
	}{
		{"unknown type", "video", "x", errs.ErrUnsupportedContentType},
		{"type not accepted by device", clipmodel.ContentTypeImage, "ref", errs.ErrUnsupportedContentType},
		{"empty content", clipmodel.ContentTypeText, "", errs.ErrArgs},
		{"over device cap", clipmodel.ContentTypeText, strings.Repeat("x", 11), errs.ErrPayloadTooLarge},
	}
	for _, tc := range cases {
		_, err := fx.coord.Push(ctx, "u1", d.ID, tc.ct, tc.content)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.want.Is(err) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	// over the global cap regardless of device caps
	big := fx.register(t, "u1", "fp-big", allCaps())
	_, err := fx.coord.Push(ctx, "u1", big.ID, clipmodel.ContentTypeText, strings.Repeat("x", 2048))
	if !errs.ErrPayloadTooLarge.Is(err) {
		t.Fatalf("global cap: err = %v", err)
	}

	// pushing through someone else's device
	foreign := fx.register(t, "u2", "fp-foreign", allCaps())
	_, err = fx.coord.Push(ctx, "u1", foreign.ID, clipmodel.ContentTypeText, "x")
	if !errs.ErrNoPermission.Is(err) {
		t.Fatalf("foreign device: err = %v", err)
	}
}

func TestQuotaEvictionBroadcastsTombstoneFirst(t *testing.T) {
	fx := newFixture(t, store.Quota{MaxItems: 1, EvictOldest: true})
	ctx := context.Background()
	origin := fx.register(t, "u1", "fp-origin", allCaps())
	other := fx.register(t, "u1", "fp-other", allCaps())

	if _, err := fx.coord.Push(ctx, "u1", origin.ID, clipmodel.ContentTypeText, "first"); err != nil {
		t.Fatalf("push: %v", err)
	}

	trOther := &collector{}
	sess, err := fx.hub.Connect(ctx, "u1", other.ID, trOther)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "replay of first item", func() bool { return len(trOther.seqs()) == 1 })
	if err := fx.hub.Ack(ctx, sess, 1); err != nil {
		t.Fatalf("ack: %v", err)
	}

	res, err := fx.coord.Push(ctx, "u1", origin.ID, clipmodel.ContentTypeText, "second")
	if err != nil {
		t.Fatalf("push over quota: %v", err)
	}
	if res.Evicted == nil {
		t.Fatal("expected eviction")
	}

	// the other device sees the eviction tombstone, then the new item
	waitFor(t, "tombstone + item", func() bool { return len(trOther.seqs()) == 3 })
	got := trOther.seqs()
	if got[1] != res.Evicted.Seq || got[2] != res.Item.Seq {
		t.Fatalf("broadcast order wrong: %v (evicted=%d item=%d)", got, res.Evicted.Seq, res.Item.Seq)
	}
}

func TestDeleteBroadcastsTombstoneOnce(t *testing.T) {
	fx := newFixture(t, store.Quota{})
	ctx := context.Background()
	origin := fx.register(t, "u1", "fp-origin", allCaps())
	other := fx.register(t, "u1", "fp-other", allCaps())

	res, err := fx.coord.Push(ctx, "u1", origin.ID, clipmodel.ContentTypeText, "x")
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	trOther := &collector{}
	if _, err := fx.hub.Connect(ctx, "u1", other.ID, trOther); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "replay", func() bool { return len(trOther.seqs()) == 1 })

	ts, err := fx.coord.Delete(ctx, "u1", origin.ID, res.Item.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !ts.Deleted() || ts.Seq != 2 {
		t.Fatalf("bad tombstone: %+v", ts)
	}
	waitFor(t, "tombstone delivery", func() bool { return len(trOther.seqs()) == 2 })

	// deleting again succeeds without another event
	again, err := fx.coord.Delete(ctx, "u1", origin.ID, res.Item.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if again.Seq != ts.Seq {
		t.Fatalf("second delete re-sequenced: %d vs %d", again.Seq, ts.Seq)
	}
	time.Sleep(50 * time.Millisecond)
	if len(trOther.seqs()) != 2 {
		t.Fatalf("duplicate tombstone broadcast: %v", trOther.seqs())
	}
}

func TestPullPaginatesAndAdvancesCursor(t *testing.T) {
	fx := newFixture(t, store.Quota{})
	ctx := context.Background()
	origin := fx.register(t, "u1", "fp-origin", allCaps())
	puller := fx.register(t, "u1", "fp-puller", allCaps())

	for i := 0; i < 7; i++ {
		if _, err := fx.coord.Push(ctx, "u1", origin.ID, clipmodel.ContentTypeText, "x"); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	items, next, err := fx.coord.Pull(ctx, "u1", puller.ID, 0, 5)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(items) != 5 || next != 5 {
		t.Fatalf("page 1: len=%d next=%d", len(items), next)
	}

	cur, err := fx.reg.Cursor(ctx, puller.ID)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cur.LastDeliveredSeq != 5 {
		t.Fatalf("cursor = %d, want 5", cur.LastDeliveredSeq)
	}

	items, next, err = fx.coord.Pull(ctx, "u1", puller.ID, next, 5)
	if err != nil {
		t.Fatalf("pull 2: %v", err)
	}
	if len(items) != 2 || next != 7 {
		t.Fatalf("page 2: len=%d next=%d", len(items), next)
	}
}

// flakyDB injects transient failures ahead of the real store.
type flakyDB struct {
	store.DB
	mu       sync.Mutex
	failures int
}

var errFlaky = errors.New("storage briefly down")

func (f *flakyDB) Append(ctx context.Context, item *clipmodel.ClipItem) (*store.AppendResult, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errFlaky
	}
	return f.DB.Append(ctx, item)
}

func (f *flakyDB) IsTransientErr(err error) bool {
	return errors.Is(err, errFlaky)
}

func TestPushRetriesTransientStorageErrors(t *testing.T) {
	base := store.NewMemDB(store.Quota{})
	flaky := &flakyDB{DB: base, failures: 2}
	reg := device.NewRegistry(device.NewMemDB())
	h := hub.NewHub(hub.HubConf{}, reg, flaky)
	t.Cleanup(h.Close)
	coord := NewCoordinator(Config{MaxContentSize: 1024, RetryMax: 3, RetryBase: time.Millisecond}, flaky, reg, h)

	d, err := reg.Register(context.Background(), "u1", device.RegisterInfo{Fingerprint: "fp", Caps: allCaps()})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := coord.Push(context.Background(), "u1", d.ID, clipmodel.ContentTypeText, "x")
	if err != nil {
		t.Fatalf("push should survive transient errors: %v", err)
	}
	if res.Item.Seq != 1 {
		t.Fatalf("seq = %d", res.Item.Seq)
	}

	// exhausted retries surface as the transient error code
	flaky.mu.Lock()
	flaky.failures = 10
	flaky.mu.Unlock()
	_, err = coord.Push(context.Background(), "u1", d.ID, clipmodel.ContentTypeText, "x")
	if !errs.ErrTransientStorage.Is(err) {
		t.Fatalf("err = %v, want transient storage", err)
	}
}

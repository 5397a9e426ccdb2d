package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	clipmodel "ClipSync/module/clip/model"
	"ClipSync/module/clip/store"
	"ClipSync/module/device"
)

type fakeTransport struct {
	mu     sync.Mutex
	items  []*clipmodel.ClipItem
	fail   bool
	closed bool
}

func (f *fakeTransport) SendItem(item *clipmodel.ClipItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.items = append(f.items, item)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) seqs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.items))
	for i, it := range f.items {
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

type fixture struct {
	db  store.DB
	reg *device.Registry
	hub *Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := store.NewMemDB(store.Quota{})
	reg := device.NewRegistry(device.NewMemDB())
	h := NewHub(HubConf{SendQueueSize: 64}, reg, db)
	t.Cleanup(h.Close)
	return &fixture{db: db, reg: reg, hub: h}
}

func (fx *fixture) append(t *testing.T, userID, deviceID, text string) *clipmodel.ClipItem {
	t.Helper()
	res, err := fx.db.Append(context.Background(), &clipmodel.ClipItem{
		UserID:         userID,
		OriginDeviceID: deviceID,
		ContentType:    clipmodel.ContentTypeText,
		Content:        text,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return res.Item
}

func TestConnectReplaysBacklogInOrder(t *testing.T) {
	fx := newFixture(t)
	for i := 0; i < 3; i++ {
		fx.append(t, "u1", "origin", "x")
	}

	tr := &fakeTransport{}
	if _, err := fx.hub.Connect(context.Background(), "u1", "d1", tr); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, "catch-up replay", func() bool { return len(tr.seqs()) == 3 })
	for i, seq := range tr.seqs() {
		if seq != int64(i+1) {
			t.Fatalf("replay order wrong: %v", tr.seqs())
		}
	}
}

func TestLivePushAfterCatchupHasNoGapsOrDuplicates(t *testing.T) {
	fx := newFixture(t)
	for i := 0; i < 5; i++ {
		fx.append(t, "u1", "origin", "x")
	}

	tr := &fakeTransport{}
	if _, err := fx.hub.Connect(context.Background(), "u1", "d1", tr); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// publish live while the replay may still be running
	it := fx.append(t, "u1", "origin", "live")
	fx.hub.Publish("u1", it, "origin")

	waitFor(t, "all six events", func() bool { return len(tr.seqs()) == 6 })
	seen := map[int64]bool{}
	prev := int64(0)
	for _, seq := range tr.seqs() {
		if seen[seq] {
			t.Fatalf("duplicate delivery of seq %d: %v", seq, tr.seqs())
		}
		seen[seq] = true
		if seq <= prev {
			t.Fatalf("out of order delivery: %v", tr.seqs())
		}
		prev = seq
	}
	if prev != 6 {
		t.Fatalf("last delivered seq = %d, want 6", prev)
	}
}

func TestPublishExcludesOriginDevice(t *testing.T) {
	fx := newFixture(t)

	trA := &fakeTransport{}
	trB := &fakeTransport{}
	if _, err := fx.hub.Connect(context.Background(), "u1", "devA", trA); err != nil {
		t.Fatalf("connect A: %v", err)
	}
	if _, err := fx.hub.Connect(context.Background(), "u1", "devB", trB); err != nil {
		t.Fatalf("connect B: %v", err)
	}

	it := fx.append(t, "u1", "devA", "from A")
	fx.hub.Publish("u1", it, "devA")

	waitFor(t, "delivery to B", func() bool { return len(trB.seqs()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if len(trA.seqs()) != 0 {
		t.Fatalf("origin device received its own push: %v", trA.seqs())
	}
}

func TestCatchupStopsAtConnectSnapshot(t *testing.T) {
	fx := newFixture(t)

	// events committed after connect must not be replayed back to the
	// device that produced them
	trA := &fakeTransport{}
	if _, err := fx.hub.Connect(context.Background(), "u1", "devA", trA); err != nil {
		t.Fatalf("connect: %v", err)
	}

	it := fx.append(t, "u1", "devA", "mine")
	fx.hub.Publish("u1", it, "devA")
	it = fx.append(t, "u1", "devA", "mine too")
	fx.hub.Publish("u1", it, "devA")

	time.Sleep(100 * time.Millisecond)
	if len(trA.seqs()) != 0 {
		t.Fatalf("device got its own pushes back via catch-up: %v", trA.seqs())
	}

	// a second device still sees both, once each
	trB := &fakeTransport{}
	if _, err := fx.hub.Connect(context.Background(), "u1", "devB", trB); err != nil {
		t.Fatalf("connect B: %v", err)
	}
	waitFor(t, "replay to B", func() bool { return len(trB.seqs()) == 2 })
	if got := trB.seqs(); got[0] != 1 || got[1] != 2 {
		t.Fatalf("replay to B = %v", got)
	}
}

func TestFanoutLaneOverflowDropsSession(t *testing.T) {
	db := store.NewMemDB(store.Quota{})
	reg := device.NewRegistry(device.NewMemDB())
	h := NewHub(HubConf{SendQueueSize: 8, FanoutWorkers: 1, FanoutQueue: 1}, reg, db)
	t.Cleanup(h.Close)

	tr := &fakeTransport{}
	sess, err := h.Connect(context.Background(), "u1", "d1", tr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	// park the lane: with the worker stopped nothing drains it
	h.fanout.stop()
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 4; i++ {
		res, aerr := db.Append(context.Background(), &clipmodel.ClipItem{
			UserID:         "u1",
			OriginDeviceID: "origin",
			ContentType:    clipmodel.ContentTypeText,
			Content:        "x",
		})
		if aerr != nil {
			t.Fatalf("append: %v", aerr)
		}
		h.Publish("u1", res.Item, "origin")
	}

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session survived a saturated lane")
	}
	if h.Session("d1") != nil {
		t.Fatal("dropped session still registered")
	}
	// nothing may be delivered out of band ahead of the parked jobs
	if len(tr.seqs()) != 0 {
		t.Fatalf("events bypassed the lane: %v", tr.seqs())
	}
}

func TestSweepDropsSessionsWithoutHeartbeat(t *testing.T) {
	db := store.NewMemDB(store.Quota{})
	reg := device.NewRegistry(device.NewMemDB())
	h := NewHub(HubConf{
		SendQueueSize: 8,
		SessionTTL:    60 * time.Millisecond,
		SweepEvery:    20 * time.Millisecond,
	}, reg, db)
	t.Cleanup(h.Close)

	quiet, err := h.Connect(context.Background(), "u1", "quiet", &fakeTransport{})
	if err != nil {
		t.Fatalf("connect quiet: %v", err)
	}
	alive, err := h.Connect(context.Background(), "u1", "alive", &fakeTransport{})
	if err != nil {
		t.Fatalf("connect alive: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(15 * time.Millisecond):
				h.Heartbeat(alive)
			}
		}
	}()

	select {
	case <-quiet.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("silent session never swept")
	}
	if h.Session("quiet") != nil {
		t.Fatal("swept session still registered")
	}
	if h.Session("alive") == nil {
		t.Fatal("heartbeated session was swept")
	}
}

func TestReconnectSupersedesOldSession(t *testing.T) {
	fx := newFixture(t)

	tr1 := &fakeTransport{}
	s1, err := fx.hub.Connect(context.Background(), "u1", "d1", tr1)
	if err != nil {
		t.Fatalf("connect 1: %v", err)
	}

	tr2 := &fakeTransport{}
	if _, err := fx.hub.Connect(context.Background(), "u1", "d1", tr2); err != nil {
		t.Fatalf("connect 2: %v", err)
	}

	select {
	case <-s1.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("old session not superseded")
	}

	it := fx.append(t, "u1", "origin", "x")
	fx.hub.Publish("u1", it, "origin")

	waitFor(t, "delivery to new session", func() bool { return len(tr2.seqs()) == 1 })
	if len(tr1.seqs()) != 0 {
		t.Fatalf("superseded session still receiving: %v", tr1.seqs())
	}
}

func TestAckPersistsCursorAndReconnectSkipsAcked(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		fx.append(t, "u1", "origin", "x")
	}

	tr := &fakeTransport{}
	sess, err := fx.hub.Connect(ctx, "u1", "d1", tr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "replay", func() bool { return len(tr.seqs()) == 3 })

	if err := fx.hub.Ack(ctx, sess, 3); err != nil {
		t.Fatalf("ack: %v", err)
	}
	cur, err := fx.reg.Cursor(ctx, "d1")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cur.LastDeliveredSeq != 3 {
		t.Fatalf("cursor = %d, want 3", cur.LastDeliveredSeq)
	}

	// a lower ack never rewinds
	if err := fx.hub.Ack(ctx, sess, 1); err != nil {
		t.Fatalf("low ack: %v", err)
	}
	cur, _ = fx.reg.Cursor(ctx, "d1")
	if cur.LastDeliveredSeq != 3 {
		t.Fatalf("cursor rewound to %d", cur.LastDeliveredSeq)
	}

	fx.hub.Disconnect(sess, "test")

	// reconnect: nothing acked is redelivered
	tr2 := &fakeTransport{}
	if _, err := fx.hub.Connect(ctx, "u1", "d1", tr2); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	it := fx.append(t, "u1", "origin", "new")
	fx.hub.Publish("u1", it, "origin")

	waitFor(t, "new event only", func() bool { return len(tr2.seqs()) == 1 })
	if tr2.seqs()[0] != 4 {
		t.Fatalf("redelivered acked events: %v", tr2.seqs())
	}
}

func TestSendFailureDropsSession(t *testing.T) {
	fx := newFixture(t)

	tr := &fakeTransport{fail: true}
	sess, err := fx.hub.Connect(context.Background(), "u1", "d1", tr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	it := fx.append(t, "u1", "origin", "x")
	fx.hub.Publish("u1", it, "origin")

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("failing session not dropped")
	}
	if fx.hub.Session("d1") != nil {
		t.Fatal("dropped session still registered")
	}
}

func TestOnlineListsLiveDevices(t *testing.T) {
	fx := newFixture(t)

	if _, err := fx.hub.Connect(context.Background(), "u1", "d1", &fakeTransport{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := fx.hub.Connect(context.Background(), "u1", "d2", &fakeTransport{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	online := fx.hub.Online("u1")
	if len(online) != 2 {
		t.Fatalf("online = %v, want two devices", online)
	}
	fx.hub.DisconnectDevice("d1", "test")
	waitFor(t, "d1 offline", func() bool { return len(fx.hub.Online("u1")) == 1 })
}

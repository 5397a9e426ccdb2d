package store

import (
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/tools/errs"
	"context"
	"sync"
	"testing"
	"time"
)

func newItem(userID, deviceID, text string) *clipmodel.ClipItem {
	return &clipmodel.ClipItem{
		UserID:         userID,
		OriginDeviceID: deviceID,
		ContentType:    clipmodel.ContentTypeText,
		Content:        text,
	}
}

func TestAppendAssignsGaplessSequences(t *testing.T) {
	db := NewMemDB(Quota{})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := db.Append(ctx, newItem("u1", "d1", "x"))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if res.Item.Seq != int64(i) {
			t.Fatalf("seq = %d, want %d", res.Item.Seq, i)
		}
	}

	// another user starts its own sequence
	res, err := db.Append(ctx, newItem("u2", "d1", "y"))
	if err != nil {
		t.Fatalf("append u2: %v", err)
	}
	if res.Item.Seq != 1 {
		t.Fatalf("u2 seq = %d, want 1", res.Item.Seq)
	}
}

func TestConcurrentAppendsStayGapless(t *testing.T) {
	db := NewMemDB(Quota{})
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.Append(ctx, newItem("u1", "d1", "x")); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	items, err := db.Delta(ctx, "u1", 0, 0)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if len(items) != n {
		t.Fatalf("got %d items, want %d", len(items), n)
	}
	for i, it := range items {
		if it.Seq != int64(i+1) {
			t.Fatalf("items[%d].Seq = %d, want %d (gap or duplicate)", i, it.Seq, i+1)
		}
	}
}

func TestDeltaPaginationIsExactlyOnce(t *testing.T) {
	db := NewMemDB(Quota{})
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if _, err := db.Append(ctx, newItem("u1", "d1", "x")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	seen := map[int64]bool{}
	since := int64(0)
	for {
		page, err := db.Delta(ctx, "u1", since, 10)
		if err != nil {
			t.Fatalf("delta: %v", err)
		}
		for _, it := range page {
			if seen[it.Seq] {
				t.Fatalf("seq %d returned twice", it.Seq)
			}
			seen[it.Seq] = true
			since = it.Seq
		}
		if len(page) < 10 {
			break
		}
	}
	if len(seen) != 25 {
		t.Fatalf("paginated %d events, want 25", len(seen))
	}

	// re-running the same page is idempotent
	again, err := db.Delta(ctx, "u1", 10, 10)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if len(again) != 10 || again[0].Seq != 11 {
		t.Fatalf("re-read page wrong: len=%d first=%d", len(again), again[0].Seq)
	}
}

func TestTombstoneResequencesTheItem(t *testing.T) {
	db := NewMemDB(Quota{})
	ctx := context.Background()

	res, err := db.Append(ctx, newItem("u1", "d1", "old"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := db.Append(ctx, newItem("u1", "d1", "new")); err != nil {
		t.Fatalf("append: %v", err)
	}

	ts, err := db.Tombstone(ctx, "u1", res.Item.ID)
	if err != nil {
		t.Fatalf("tombstone: %v", err)
	}
	if !ts.Deleted() {
		t.Fatal("tombstone not marked deleted")
	}
	if ts.Seq != 3 {
		t.Fatalf("tombstone seq = %d, want 3 (moved past the later append)", ts.Seq)
	}

	// a full delta shows the item exactly once, at the delete's sequence
	items, err := db.Delta(ctx, "u1", 0, 0)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	count := 0
	for _, it := range items {
		if it.ID == res.Item.ID {
			count++
			if !it.Deleted() || it.Seq != 3 {
				t.Fatalf("delta shows item deleted=%v seq=%d", it.Deleted(), it.Seq)
			}
		}
	}
	if count != 1 {
		t.Fatalf("item appears %d times in delta, want 1", count)
	}

	// tombstoning again is a no-op returning the same record
	again, err := db.Tombstone(ctx, "u1", res.Item.ID)
	if err != nil {
		t.Fatalf("second tombstone: %v", err)
	}
	if again.Seq != ts.Seq || again.DeletedAtMS != ts.DeletedAtMS {
		t.Fatalf("second tombstone changed the record: %+v vs %+v", again, ts)
	}
}

func TestQuotaEvictsOldest(t *testing.T) {
	db := NewMemDB(Quota{MaxItems: 2, EvictOldest: true})
	ctx := context.Background()

	first, err := db.Append(ctx, newItem("u1", "d1", "a"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := db.Append(ctx, newItem("u1", "d1", "b")); err != nil {
		t.Fatalf("append: %v", err)
	}

	res, err := db.Append(ctx, newItem("u1", "d1", "c"))
	if err != nil {
		t.Fatalf("append over quota: %v", err)
	}
	if res.Evicted == nil {
		t.Fatal("expected an eviction tombstone")
	}
	if res.Evicted.ID != first.Item.ID {
		t.Fatalf("evicted %s, want oldest %s", res.Evicted.ID, first.Item.ID)
	}
	if !res.Evicted.Deleted() {
		t.Fatal("evicted item not tombstoned")
	}
	if res.Evicted.Seq >= res.Item.Seq {
		t.Fatalf("eviction seq %d must precede new item seq %d", res.Evicted.Seq, res.Item.Seq)
	}

	n, err := db.LiveCount(ctx, "u1")
	if err != nil {
		t.Fatalf("live count: %v", err)
	}
	if n != 2 {
		t.Fatalf("live count = %d, want 2", n)
	}
}

func TestQuotaRejectsWhenEvictionDisabled(t *testing.T) {
	db := NewMemDB(Quota{MaxItems: 1, EvictOldest: false})
	ctx := context.Background()

	if _, err := db.Append(ctx, newItem("u1", "d1", "a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	_, err := db.Append(ctx, newItem("u1", "d1", "b"))
	if err == nil {
		t.Fatal("expected quota error")
	}
	if !errs.ErrQuotaExceeded.Is(err) {
		t.Fatalf("err = %v, want quota exceeded", err)
	}
}

func TestPurgeTombstonesKeepsSequence(t *testing.T) {
	db := NewMemDB(Quota{})
	ctx := context.Background()

	res, err := db.Append(ctx, newItem("u1", "d1", "a"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := db.Tombstone(ctx, "u1", res.Item.ID); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	n, err := db.PurgeTombstones(ctx, "u1", time.Now().Add(time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}

	// the counter never rewinds: the next append continues after the purge
	next, err := db.Append(ctx, newItem("u1", "d1", "b"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if next.Item.Seq != 3 {
		t.Fatalf("seq after purge = %d, want 3", next.Item.Seq)
	}
}

func TestExpiredLiveFindsOldItems(t *testing.T) {
	db := NewMemDB(Quota{})
	ctx := context.Background()

	old := newItem("u1", "d1", "old")
	old.CreatedAtMS = time.Now().Add(-2 * time.Hour).UnixMilli()
	if _, err := db.Append(ctx, old); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := db.Append(ctx, newItem("u1", "d1", "fresh")); err != nil {
		t.Fatalf("append: %v", err)
	}

	cutoff := time.Now().Add(-time.Hour).UnixMilli()
	expired, err := db.ExpiredLive(ctx, "u1", cutoff, 0)
	if err != nil {
		t.Fatalf("expired live: %v", err)
	}
	if len(expired) != 1 || expired[0].Content != "old" {
		t.Fatalf("expired = %v, want just the old item", expired)
	}
}

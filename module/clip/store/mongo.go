package store

import (
	clipmodel "ClipSync/module/clip/model"
	clipseq "ClipSync/module/clip/seq"
	"ClipSync/tools/errs"
	"ClipSync/tools/ids"
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoDB struct {
	db    *mongo.Database
	seq   *clipseq.DAO
	quota Quota

	mu    sync.Mutex
	locks map[string]*sync.Mutex // userID -> write lock
}

// NewMongoDB builds the production store on top of a connected database.
func NewMongoDB(db *mongo.Database, quota Quota) DB {
	return &mongoDB{
		db:    db,
		seq:   &clipseq.DAO{DB: db},
		quota: quota,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *mongoDB) coll() *mongo.Collection {
	it := clipmodel.ClipItem{}
	return s.db.Collection(it.GetTableName())
}

// userLock returns the per-user serialization point for sequence assignment
// and writes. Reads never take it.
func (s *mongoDB) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func (s *mongoDB) Append(ctx context.Context, item *clipmodel.ClipItem) (*AppendResult, error) {
	l := s.userLock(item.UserID)
	l.Lock()
	defer l.Unlock()

	nowMS := time.Now().UnixMilli()
	res := &AppendResult{}

	if s.quota.MaxItems > 0 {
		n, err := s.liveCount(ctx, item.UserID)
		if err != nil {
			return nil, err
		}
		if n >= s.quota.MaxItems {
			if !s.quota.EvictOldest {
				return nil, errs.ErrQuotaExceeded.WrapMsg("live items at quota", "userID", item.UserID, "max", s.quota.MaxItems)
			}
			oldest, err := s.oldestLive(ctx, item.UserID)
			if err != nil {
				return nil, err
			}
			if oldest != nil {
				ev, err := s.tombstoneLocked(ctx, oldest, nowMS)
				if err != nil {
					return nil, err
				}
				res.Evicted = ev
			}
		}
	}

	cp := *item
	if cp.ID == "" {
		cp.ID = ids.GenerateString()
	}
	if cp.CreatedAtMS == 0 {
		cp.CreatedAtMS = nowMS
	}
	seq, err := s.seq.Next(ctx, cp.UserID)
	if err != nil {
		return nil, errs.WrapMsg(err, "alloc seq", "userID", cp.UserID)
	}
	cp.Seq = seq

	if _, err := s.coll().InsertOne(ctx, &cp); err != nil {
		return nil, errs.WrapMsg(err, "insert clip item", "userID", cp.UserID, "itemID", cp.ID)
	}
	res.Item = &cp
	return res, nil
}

func (s *mongoDB) Tombstone(ctx context.Context, userID, itemID string) (*clipmodel.ClipItem, error) {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	var it clipmodel.ClipItem
	err := s.coll().FindOne(ctx, bson.M{"_id": itemID, "user_id": userID}).Decode(&it)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WrapMsg("clip item", "userID", userID, "itemID", itemID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find clip item", "itemID", itemID)
	}
	if it.Deleted() {
		return &it, nil
	}
	return s.tombstoneLocked(ctx, &it, time.Now().UnixMilli())
}

// tombstoneLocked re-sequences the item as a delete event. Caller holds the
// user lock.
func (s *mongoDB) tombstoneLocked(ctx context.Context, it *clipmodel.ClipItem, nowMS int64) (*clipmodel.ClipItem, error) {
	seq, err := s.seq.Next(ctx, it.UserID)
	if err != nil {
		return nil, errs.WrapMsg(err, "alloc seq", "userID", it.UserID)
	}
	_, err = s.coll().UpdateOne(ctx,
		bson.M{"_id": it.ID, "user_id": it.UserID},
		bson.M{"$set": bson.M{"deleted_at_ms": nowMS, "seq": seq}},
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "tombstone clip item", "itemID", it.ID)
	}
	cp := *it
	cp.DeletedAtMS = nowMS
	cp.Seq = seq
	return &cp, nil
}

func (s *mongoDB) Delta(ctx context.Context, userID string, sinceSeq int64, limit int) ([]*clipmodel.ClipItem, error) {
	opts := options.Find().SetSort(bson.M{"seq": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll().Find(ctx,
		bson.M{"user_id": userID, "seq": bson.M{"$gt": sinceSeq}}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "delta query", "userID", userID, "since", sinceSeq)
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*clipmodel.ClipItem
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "delta decode", "userID", userID)
	}
	return out, nil
}

func (s *mongoDB) Get(ctx context.Context, userID, itemID string) (*clipmodel.ClipItem, error) {
	var it clipmodel.ClipItem
	err := s.coll().FindOne(ctx, bson.M{"_id": itemID, "user_id": userID}).Decode(&it)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WrapMsg("clip item", "userID", userID, "itemID", itemID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find clip item", "itemID", itemID)
	}
	return &it, nil
}

func (s *mongoDB) MaxSeq(ctx context.Context, userID string) (int64, error) {
	return s.seq.Current(ctx, userID)
}

func (s *mongoDB) LiveCount(ctx context.Context, userID string) (int, error) {
	return s.liveCount(ctx, userID)
}

func (s *mongoDB) liveCount(ctx context.Context, userID string) (int, error) {
	n, err := s.coll().CountDocuments(ctx, bson.M{
		"user_id":       userID,
		"deleted_at_ms": bson.M{"$in": bson.A{nil, int64(0)}},
	})
	if err != nil {
		return 0, errs.WrapMsg(err, "live count", "userID", userID)
	}
	return int(n), nil
}

func (s *mongoDB) OldestLive(ctx context.Context, userID string) (*clipmodel.ClipItem, error) {
	return s.oldestLive(ctx, userID)
}

func (s *mongoDB) oldestLive(ctx context.Context, userID string) (*clipmodel.ClipItem, error) {
	var it clipmodel.ClipItem
	err := s.coll().FindOne(ctx,
		bson.M{"user_id": userID, "deleted_at_ms": bson.M{"$in": bson.A{nil, int64(0)}}},
		options.FindOne().SetSort(bson.M{"seq": 1}),
	).Decode(&it)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "oldest live", "userID", userID)
	}
	return &it, nil
}

func (s *mongoDB) ExpiredLive(ctx context.Context, userID string, cutoffMS int64, limit int) ([]*clipmodel.ClipItem, error) {
	opts := options.Find().SetSort(bson.M{"seq": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll().Find(ctx, bson.M{
		"user_id":       userID,
		"deleted_at_ms": bson.M{"$in": bson.A{nil, int64(0)}},
		"created_at_ms": bson.M{"$lt": cutoffMS},
	}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "expired live query", "userID", userID)
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*clipmodel.ClipItem
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "expired live decode", "userID", userID)
	}
	return out, nil
}

func (s *mongoDB) Users(ctx context.Context) ([]string, error) {
	raw, err := s.coll().Distinct(ctx, "user_id", bson.M{})
	if err != nil {
		return nil, errs.WrapMsg(err, "distinct users")
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if u, ok := v.(string); ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *mongoDB) PurgeTombstones(ctx context.Context, userID string, beforeMS int64) (int64, error) {
	res, err := s.coll().DeleteMany(ctx, bson.M{
		"user_id":       userID,
		"deleted_at_ms": bson.M{"$gt": int64(0), "$lt": beforeMS},
	})
	if err != nil {
		return 0, errs.WrapMsg(err, "purge tombstones", "userID", userID)
	}
	return res.DeletedCount, nil
}

func (s *mongoDB) IsTransientErr(err error) bool {
	if err == nil {
		return false
	}
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

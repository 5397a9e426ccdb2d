package device

import (
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/tools/errs"
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoDB struct {
	db *mongo.Database
}

// NewMongoDB builds the production device store.
func NewMongoDB(db *mongo.Database) DB {
	return &mongoDB{db: db}
}

func (s *mongoDB) devColl() *mongo.Collection {
	d := clipmodel.Device{}
	return s.db.Collection(d.GetTableName())
}

func (s *mongoDB) curColl() *mongo.Collection {
	c := clipmodel.SyncCursor{}
	return s.db.Collection(c.GetTableName())
}

func (s *mongoDB) FindByFingerprint(ctx context.Context, userID, fingerprint string) (*clipmodel.Device, error) {
	var d clipmodel.Device
	err := s.devColl().FindOne(ctx, bson.M{"user_id": userID, "fingerprint": fingerprint}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find device by fingerprint", "userID", userID)
	}
	return &d, nil
}

func (s *mongoDB) Insert(ctx context.Context, d *clipmodel.Device) error {
	if _, err := s.devColl().InsertOne(ctx, d); err != nil {
		return errs.WrapMsg(err, "insert device", "deviceID", d.ID)
	}
	return nil
}

func (s *mongoDB) Update(ctx context.Context, d *clipmodel.Device) error {
	res, err := s.devColl().ReplaceOne(ctx, bson.M{"_id": d.ID}, d)
	if err != nil {
		return errs.WrapMsg(err, "update device", "deviceID", d.ID)
	}
	if res.MatchedCount == 0 {
		return errs.ErrRecordNotFound.WrapMsg("device", "deviceID", d.ID)
	}
	return nil
}

func (s *mongoDB) Get(ctx context.Context, deviceID string) (*clipmodel.Device, error) {
	var d clipmodel.Device
	err := s.devColl().FindOne(ctx, bson.M{"_id": deviceID}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WrapMsg("device", "deviceID", deviceID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find device", "deviceID", deviceID)
	}
	return &d, nil
}

func (s *mongoDB) Touch(ctx context.Context, deviceID string, nowMS int64) error {
	res, err := s.devColl().UpdateOne(ctx,
		bson.M{"_id": deviceID},
		bson.M{"$set": bson.M{"last_seen_at_ms": nowMS}},
	)
	if err != nil {
		return errs.WrapMsg(err, "touch device", "deviceID", deviceID)
	}
	if res.MatchedCount == 0 {
		return errs.ErrRecordNotFound.WrapMsg("device", "deviceID", deviceID)
	}
	return nil
}

func (s *mongoDB) Delete(ctx context.Context, deviceID string) error {
	res, err := s.devColl().DeleteOne(ctx, bson.M{"_id": deviceID})
	if err != nil {
		return errs.WrapMsg(err, "delete device", "deviceID", deviceID)
	}
	if res.DeletedCount == 0 {
		return errs.ErrRecordNotFound.WrapMsg("device", "deviceID", deviceID)
	}
	return nil
}

func (s *mongoDB) List(ctx context.Context, userID string) ([]*clipmodel.Device, error) {
	cur, err := s.devColl().Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.M{"registered_at_ms": 1}))
	if err != nil {
		return nil, errs.WrapMsg(err, "list devices", "userID", userID)
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*clipmodel.Device
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "list devices decode", "userID", userID)
	}
	return out, nil
}

func (s *mongoDB) GetCursor(ctx context.Context, deviceID string) (*clipmodel.SyncCursor, error) {
	var c clipmodel.SyncCursor
	err := s.curColl().FindOne(ctx, bson.M{"_id": deviceID}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return &clipmodel.SyncCursor{DeviceID: deviceID}, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find cursor", "deviceID", deviceID)
	}
	return &c, nil
}

func (s *mongoDB) AdvanceCursor(ctx context.Context, userID, deviceID string, seq int64, nowMS int64) error {
	_, err := s.curColl().UpdateOne(ctx,
		bson.M{"_id": deviceID},
		bson.M{
			"$max":         bson.M{"last_delivered_seq": seq},
			"$set":         bson.M{"update_time_ms": nowMS},
			"$setOnInsert": bson.M{"user_id": userID},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errs.WrapMsg(err, "advance cursor", "deviceID", deviceID, "seq", seq)
	}
	return nil
}

func (s *mongoDB) DeleteCursor(ctx context.Context, deviceID string) error {
	if _, err := s.curColl().DeleteOne(ctx, bson.M{"_id": deviceID}); err != nil {
		return errs.WrapMsg(err, "delete cursor", "deviceID", deviceID)
	}
	return nil
}

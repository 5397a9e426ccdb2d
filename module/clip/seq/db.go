package seq

import (
	clipmodel "ClipSync/module/clip/model"
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type DAO struct{ DB *mongo.Database }

// Next atomically allocates the next sequence for a user: issued_seq += 1,
// returning the new value. Block size is fixed at 1 so persisted events stay
// gapless; callers must hold the user's write lock so allocation and insert
// commit in the same order.
func (d *DAO) Next(ctx context.Context, userID string) (int64, error) {
	s := clipmodel.SeqUser{}
	c := d.DB.Collection(s.GetTableName())
	now := time.Now().UnixMilli()

	filter := bson.M{"_id": userID}
	update := bson.M{
		"$inc":         bson.M{"issued_seq": int64(1)},
		"$setOnInsert": bson.M{"create_time_ms": now},
		"$set":         bson.M{"update_time_ms": now},
	}

	var after struct {
		IssuedSeq int64 `bson:"issued_seq"`
	}
	err := c.FindOneAndUpdate(
		ctx, filter, update,
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	).Decode(&after)
	if err != nil {
		return 0, err
	}
	return after.IssuedSeq, nil
}

// Current reads the last issued sequence without allocating. 0 if the user
// has no events yet.
func (d *DAO) Current(ctx context.Context, userID string) (int64, error) {
	s := clipmodel.SeqUser{}
	c := d.DB.Collection(s.GetTableName())

	var doc struct {
		IssuedSeq int64 `bson:"issued_seq"`
	}
	err := c.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.IssuedSeq, nil
}

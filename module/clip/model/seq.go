package model

import (
	"ClipSync/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// SeqUser holds the per-user event counter. IssuedSeq is the last sequence
// handed out; allocation goes through a single FindOneAndUpdate $inc under
// the user's write lock, so numbers are unique, strictly increasing and never
// reused even after deletes.
type SeqUser struct {
	UserID       string `bson:"_id"`
	IssuedSeq    int64  `bson:"issued_seq"`
	CreateTimeMS int64  `bson:"create_time_ms"`
	UpdateTimeMS int64  `bson:"update_time_ms"`
}

func (s *SeqUser) GetTableName() string {
	return "seq_user"
}

func (s *SeqUser) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(s.GetTableName())
}

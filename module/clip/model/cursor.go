package model

import (
	"ClipSync/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// SyncCursor is the per-device delivery watermark: the highest sequence known
// to have reached the device (push ack or pull response). It is the
// authoritative resume point across reconnects; the in-memory session keeps a
// cache of it. Monotonically non-decreasing.
type SyncCursor struct {
	DeviceID         string `bson:"_id" json:"device_id"`
	UserID           string `bson:"user_id" json:"user_id"`
	LastDeliveredSeq int64  `bson:"last_delivered_seq" json:"last_delivered_seq"`
	UpdateTimeMS     int64  `bson:"update_time_ms" json:"update_time_ms"`
}

func (c *SyncCursor) GetTableName() string {
	return "sync_cursor"
}

func (c *SyncCursor) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(c.GetTableName())
}

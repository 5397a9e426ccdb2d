package model

import (
	"ClipSync/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// ContentType enumerates what a clip item carries.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeFile  ContentType = "file"
)

func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeImage, ContentTypeFile:
		return true
	}
	return false
}

// ClipItem is one sequenced clipboard event for a user. Once written it is
// immutable except for tombstoning, which sets DeletedAtMS and moves the item
// to a fresh sequence so the delete replicates like any other event.
// For image/file types Content holds the reference handed out by the upload
// layer, never the bytes themselves.
type ClipItem struct {
	ID             string      `bson:"_id" json:"id"`          // snowflake, sorts by creation time
	UserID         string      `bson:"user_id" json:"user_id"` // owning account
	OriginDeviceID string      `bson:"origin_device_id" json:"origin_device_id"`
	ContentType    ContentType `bson:"content_type" json:"content_type"`
	Content        string      `bson:"content" json:"content"`

	// Seq is the per-user strictly increasing event counter, assigned at
	// persist time under the user's write lock. Never reused.
	Seq int64 `bson:"seq" json:"seq"`

	CreatedAtMS int64 `bson:"created_at_ms" json:"created_at_ms"`
	DeletedAtMS int64 `bson:"deleted_at_ms,omitempty" json:"deleted_at_ms,omitempty"` // 0 = live
}

func (it *ClipItem) Deleted() bool { return it.DeletedAtMS != 0 }

func (it *ClipItem) GetTableName() string {
	return "clip_item"
}

func (it *ClipItem) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(it.GetTableName())
}

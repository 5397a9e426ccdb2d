package model

import (
	"ClipSync/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// Capabilities is the fixed set of typed flags a device advertises. Keeping
// this closed (no free-form bag) makes push validation exhaustive.
type Capabilities struct {
	Text  bool `bson:"text" json:"text"`
	Image bool `bson:"image" json:"image"`
	File  bool `bson:"file" json:"file"`

	// MaxContentSize caps the payload/reference size this device accepts,
	// in bytes. 0 means the global limit applies unchanged.
	MaxContentSize int64 `bson:"max_content_size,omitempty" json:"max_content_size,omitempty"`
}

func (c Capabilities) Accepts(t ContentType) bool {
	switch t {
	case ContentTypeText:
		return c.Text
	case ContentTypeImage:
		return c.Image
	case ContentTypeFile:
		return c.File
	}
	return false
}

// Device is a registered endpoint of a user account. Removal never cascades
// to clip items; OriginDeviceID on items is informational only.
type Device struct {
	ID          string       `bson:"_id" json:"id"` // snowflake
	UserID      string       `bson:"user_id" json:"user_id"`
	Fingerprint string       `bson:"fingerprint" json:"fingerprint"` // caller-supplied, registration is idempotent on it
	DisplayName string       `bson:"display_name" json:"display_name"`
	Caps        Capabilities `bson:"caps" json:"caps"`

	RegisteredAtMS int64 `bson:"registered_at_ms" json:"registered_at_ms"`
	LastSeenAtMS   int64 `bson:"last_seen_at_ms" json:"last_seen_at_ms"`
}

func (d *Device) GetTableName() string {
	return "device"
}

func (d *Device) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(d.GetTableName())
}

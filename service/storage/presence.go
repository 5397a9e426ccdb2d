package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: clip:presence:<user>:<device>
// Value: gateway_id, TTL controls the online validity period.
func presenceKey(userID, deviceID string) string {
	return "clip:presence:" + userID + ":" + deviceID
}

// Presence mirrors which devices are online, and on which gateway node, into
// redis. The hub refreshes it on connect and heartbeat; the TTL makes stale
// entries age out when a node dies without cleaning up.
type Presence struct {
	rdb       *redis.Client
	gatewayID string
	ttl       time.Duration
}

func NewPresence(rdb *redis.Client, gatewayID string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Presence{rdb: rdb, gatewayID: gatewayID, ttl: ttl}
}

// Up marks the device online on this gateway and renews the TTL.
func (p *Presence) Up(ctx context.Context, userID, deviceID string) error {
	return p.rdb.Set(ctx, presenceKey(userID, deviceID), p.gatewayID, p.ttl).Err()
}

// Down removes the device's presence entry.
func (p *Presence) Down(ctx context.Context, userID, deviceID string) error {
	return p.rdb.Del(ctx, presenceKey(userID, deviceID)).Err()
}

// Lookup returns the gateway currently holding the device's session.
func (p *Presence) Lookup(ctx context.Context, userID, deviceID string) (gatewayID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(userID, deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// OnlineDevices scans the user's presence entries across all gateways.
func (p *Presence) OnlineDevices(ctx context.Context, userID string) ([]string, error) {
	prefix := "clip:presence:" + userID + ":"
	var out []string
	iter := p.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

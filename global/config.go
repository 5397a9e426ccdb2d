package global

import (
	"context"
	"strings"
	"time"

	"ClipSync/data/database/mgo/mongoutil"
	mgoSrv "ClipSync/service/mgo"
	"ClipSync/service/natsx"
	redis "ClipSync/service/storage/redis"
	"ClipSync/tools"
	ids "ClipSync/tools/ids"
	"ClipSync/tools/security"
)

// SyncConfig is the behavior snapshot for the sync core. Read once at
// startup; changing limits needs a restart.
type SyncConfig struct {
	MaxClipItems   int           // per-user live item quota, <=0 disables
	EvictOnInsert  bool          // evict oldest on quota instead of rejecting
	ClipItemTTL    time.Duration // live item lifetime, 0 disables expiry
	MaxContentSize int64         // global payload cap, bytes

	CleanupInterval        time.Duration
	TombstoneRetention     time.Duration // 0 keeps tombstones forever
	TombstonePurgeInterval time.Duration

	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	PullLimit         int
}

type AppConfig struct {
	GatewayNodeID  string
	Port           int
	EnableDevToken bool
	EnableNats     bool
	AllowedOrigins []string // browser origins allowed through; empty accepts all

	Sync  SyncConfig
	Mongo mongoutil.Config
	Redis redis.Config
	Nats  natsx.NatsxConfig
}

// Load reads the full configuration from the environment with dev-friendly
// defaults.
func Load() *AppConfig {
	return &AppConfig{
		GatewayNodeID:  tools.GetEnv("CLIP_NODE_ID", "gw-1"),
		Port:           tools.GetEnvInt("CLIP_PORT", 8080),
		EnableDevToken: tools.GetEnvBool("CLIP_DEV_TOKEN", true),
		EnableNats:     tools.GetEnvBool("CLIP_NATS_ENABLE", false),
		AllowedOrigins: splitList(tools.GetEnv("CLIP_ALLOWED_ORIGINS", "")),
		Sync: SyncConfig{
			MaxClipItems:           tools.GetEnvInt("CLIP_MAX_ITEMS", 200),
			EvictOnInsert:          tools.GetEnvBool("CLIP_EVICT_ON_INSERT", true),
			ClipItemTTL:            tools.GetEnvDuration("CLIP_ITEM_TTL", 72*time.Hour),
			MaxContentSize:         tools.GetEnvInt64("CLIP_MAX_CONTENT_SIZE", 1<<20),
			CleanupInterval:        tools.GetEnvDuration("CLIP_CLEANUP_INTERVAL", time.Minute),
			TombstoneRetention:     tools.GetEnvDuration("CLIP_TOMBSTONE_RETENTION", 30*24*time.Hour),
			TombstonePurgeInterval: tools.GetEnvDuration("CLIP_TOMBSTONE_PURGE_INTERVAL", time.Hour),
			HeartbeatInterval:      tools.GetEnvDuration("CLIP_HEARTBEAT_INTERVAL", 25*time.Second),
			ConnectionTimeout:      tools.GetEnvDuration("CLIP_CONNECTION_TIMEOUT", 90*time.Second),
			PullLimit:              tools.GetEnvInt("CLIP_PULL_LIMIT", 200),
		},
		Mongo: mongoutil.Config{
			Uri:         tools.GetEnv("CLIP_MONGO_URI", "mongodb://localhost:27017"),
			Database:    tools.GetEnv("CLIP_MONGO_DB", "clipsync"),
			Username:    tools.GetEnv("CLIP_MONGO_USER", ""),
			Password:    tools.GetEnv("CLIP_MONGO_PASS", ""),
			MaxPoolSize: tools.GetEnvInt("CLIP_MONGO_POOL", 20),
			MaxRetry:    3,
		},
		Redis: redis.Config{
			Addr:     tools.GetEnv("CLIP_REDIS_ADDR", "127.0.0.1:6379"),
			Password: tools.GetEnv("CLIP_REDIS_PASS", ""),
			DB:       tools.GetEnvInt("CLIP_REDIS_DB", 0),
			PoolSize: tools.GetEnvInt("CLIP_REDIS_POOL", 10),
		},
		Nats: natsx.NatsxConfig{
			Servers:  []string{tools.GetEnv("CLIP_NATS_URL", "nats://127.0.0.1:4222")},
			Name:     tools.GetEnv("CLIP_NODE_ID", "gw-1"),
			User:     tools.GetEnv("CLIP_NATS_USER", ""),
			Password: tools.GetEnv("CLIP_NATS_PASS", ""),
		},
	}
}

func ConfigIds() {
	ids.SetNodeID(int64(tools.GetEnvInt("CLIP_SNOWFLAKE_NODE", 100)))
}

// GetJwtSecret returns the HMAC signing secret. The fallback is for dev
// setups only.
func GetJwtSecret() []byte {
	return []byte(tools.GetEnv("CLIP_JWT_SECRET", "mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o="))
}

func JWTOptions() security.Options {
	opts := security.DefaultOptions(GetJwtSecret())
	opts.TTL = tools.GetEnvDuration("CLIP_TOKEN_TTL", 2*time.Hour)
	return opts
}

func ConfigRedis(cfg redis.Config) error {
	return redis.InitRedis(cfg)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConfigMgo starts the async mongo connect loop and blocks until ready or
// ctx ends.
func ConfigMgo(ctx context.Context, cfg *mongoutil.Config) error {
	mgoSrv.StartAsync(ctx, cfg)
	return mgoSrv.WaitReady(ctx, mgoSrv.Manager())
}

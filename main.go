package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"ClipSync/global"
	"ClipSync/middleware"
	midsec "ClipSync/middleware/security"
	"ClipSync/module/clip/store"
	"ClipSync/module/device"
	"ClipSync/service/cleanup"
	"ClipSync/service/gateway"
	"ClipSync/service/hub"
	mgoSrv "ClipSync/service/mgo"
	"ClipSync/service/relay"
	"ClipSync/service/storage"
	redisSrv "ClipSync/service/storage/redis"
	"ClipSync/service/syncer"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := global.Load()
	global.ConfigIds()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := global.ConfigMgo(ctx, &cfg.Mongo); err != nil {
		log.Fatalf("mongo not ready: %v", err)
	}
	db := mgoSrv.GetDB()

	clipDB := store.NewMongoDB(db, store.Quota{
		MaxItems:    cfg.Sync.MaxClipItems,
		EvictOldest: cfg.Sync.EvictOnInsert,
	})
	deviceDB := device.NewMongoDB(db)
	reg := device.NewRegistry(deviceDB)

	// Redis is optional: without it the node runs with no presence mirror and
	// cursor reads always hit mongo.
	var cursors hub.CursorStore = reg
	var cursorCache *storage.CursorCache
	if err := global.ConfigRedis(cfg.Redis); err != nil {
		log.Printf("redis unavailable, presence mirror and cursor cache disabled: %v", err)
	} else {
		cursorCache = storage.NewCursorCache(reg, redisSrv.GetRedis(), 24*time.Hour)
		cursors = cursorCache
	}

	h := hub.NewHub(hub.HubConf{
		SessionTTL: cfg.Sync.ConnectionTimeout,
	}, cursors, clipDB)
	reg.SetSessionCloser(func(deviceID, reason string) {
		h.DisconnectDevice(deviceID, reason)
		if cursorCache != nil {
			cursorCache.Invalidate(context.Background(), deviceID)
		}
	})
	var pres *storage.Presence
	if cursorCache != nil {
		pres = storage.NewPresence(redisSrv.GetRedis(), cfg.GatewayNodeID, 2*cfg.Sync.ConnectionTimeout)
		h.SetPresence(pres)
	}

	coord := syncer.NewCoordinator(syncer.Config{
		MaxContentSize: cfg.Sync.MaxContentSize,
	}, clipDB, reg, h)
	coord.SetCursorStore(cursors)

	if cfg.EnableNats {
		rl, err := relay.New(cfg.Nats, cfg.GatewayNodeID)
		if err != nil {
			log.Fatalf("relay connect failed: %v", err)
		}
		defer func() { _ = rl.Close() }()
		coord.SetRelay(rl)
		if err := rl.Start(coord.LocalPublish); err != nil {
			log.Fatalf("relay subscribe failed: %v", err)
		}
	}

	sweeper := cleanup.NewScheduler(cleanup.Config{
		Interval:           cfg.Sync.CleanupInterval,
		ItemTTL:            cfg.Sync.ClipItemTTL,
		MaxItems:           cfg.Sync.MaxClipItems,
		TombstoneRetention: cfg.Sync.TombstoneRetention,
		PurgeInterval:      cfg.Sync.TombstonePurgeInterval,
	}, clipDB, h)
	sweeper.Start()
	defer sweeper.Stop()

	jwtOpts := global.JWTOptions()
	midsec.Configure(midsec.Options{JWT: jwtOpts})

	srv := gateway.NewServer(gateway.Conf{
		GatewayID:         cfg.GatewayNodeID,
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		PullLimit:         cfg.Sync.PullLimit,
		JWT:               jwtOpts,
		EnableDevToken:    cfg.EnableDevToken,
	}, h, reg, coord)
	if pres != nil {
		srv.SetPresence(pres)
	}

	mids := middleware.Manager()
	mids.Add(middleware.Origin(cfg.AllowedOrigins...))

	r := gin.New()
	r.Use(gin.Recovery(), mids.Use())
	srv.MountRoutes(r)

	log.Printf("[HTTP] Listening on :%d", cfg.Port)
	if err := r.Run(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}

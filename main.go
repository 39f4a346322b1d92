package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"

	"GProject/global"
	"GProject/logger"
	mid "GProject/middleware"
	"GProject/module/track"
	"GProject/module/track/analyze"
	"GProject/module/track/archive"
	"GProject/module/track/buffer"
	"GProject/module/track/cache"
	"GProject/module/track/geofence"
	"GProject/module/track/query"
	trksrv "GProject/module/track/service"
	"GProject/module/track/store"
	"GProject/service/alerts"
	"GProject/service/ingest"
	"GProject/service/live"
	"GProject/service/maintenance"
)

// trackCache 缓存同时服务写路径（刷写镜像）、读路径（查询）与统计面。
type trackCache interface {
	buffer.CacheWriter
	query.CacheReader
	HitRate() (hits, misses int64, pct float64)
}

func main() {
	cfg := global.Load()
	defer logger.Sync()

	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// ===== 存储 =====
	pool, err := global.BuildPgPool(bootCtx, cfg.Postgres)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	db := store.NewPgStore(pool)
	if err := db.InitSchema(bootCtx); err != nil {
		log.Fatalf("init schema: %v", err)
	}
	if err := geofence.InitSchema(bootCtx, pool); err != nil {
		log.Fatalf("init geofence schema: %v", err)
	}

	// ===== 缓存 =====
	clients, err := global.BuildRedis(bootCtx, cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()
	fast := buildCache(clients, cfg.Cache)

	// ===== 可选外设：mongo 归档、nats 总线 =====
	var raw trksrv.RawSink
	if cfg.Mongo.Enabled {
		a, cli, err := archive.Connect(bootCtx, archive.Config{
			Uri:           cfg.Mongo.Uri,
			Database:      cfg.Mongo.Database,
			RetentionDays: cfg.Mongo.RetentionDays,
		})
		if err != nil {
			log.Fatalf("mongo: %v", err)
		}
		defer func() { _ = cli.Disconnect(context.Background()) }()
		raw = a
	}

	var nc *nats.Conn
	var sink alerts.Sink = alerts.NopSink{}
	if cfg.Nats.Enabled {
		nc, err = global.BuildNats(cfg.Nats)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		defer nc.Close()
		sink = alerts.NewNatsSink(nc)
	}

	// ===== 业务装配 =====
	buf := buffer.NewIngestionBuffer(db, fast, buffer.Config{
		BatchSize:     cfg.Buffer.BatchSize,
		FlushInterval: cfg.Buffer.FlushInterval,
	})
	analyzer := analyze.NewRouteAnalyzer(analyze.Config{})
	engine := query.NewEngine(fast, db, analyzer)
	fences := geofence.NewService(geofence.NewPgRepo(pool))
	hub := live.NewHub()

	svc := trksrv.NewTrackingService(buf, engine, analyzer, fences, sink, hub, raw)

	buf.Start()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		buf.Stop(stopCtx)
	}()

	worker := maintenance.NewWorker(db, maintenance.Config{
		DaysAhead:     cfg.Maintenance.DaysAhead,
		RetentionDays: cfg.Maintenance.RetentionDays,
		Interval:      cfg.Maintenance.Interval,
	})
	worker.Start()
	defer worker.Stop()

	if nc != nil {
		consumer := ingest.NewConsumer(nc, svc, ingest.Config{Queue: cfg.Nats.Queue})
		if err := consumer.Start(); err != nil {
			log.Fatalf("nats consumer: %v", err)
		}
		defer consumer.Stop()
	}

	// ===== HTTP =====
	r := gin.New()
	r.Use(gin.Recovery(), mid.Origin())
	track.NewHandler(svc, db, hub.HandleWS, fast, hub).RegisterRoutes(r)

	go func() {
		logger.Infof("[main] http listening on %s", cfg.HTTP.Addr)
		if err := r.Run(cfg.HTTP.Addr); err != nil {
			log.Fatalf("http: %v", err)
		}
	}()

	// ===== 优雅退出 =====
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("[main] shutting down")
}

func buildCache(clients []goredis.UniversalClient, conf global.CacheConf) trackCache {
	cc := cache.Config{
		CurrentTTL: conf.CurrentTTL,
		HistoryTTL: conf.HistoryTTL,
		HistoryCap: conf.HistoryCap,
	}
	if len(clients) == 1 {
		return cache.NewFastCache(clients[0], cc)
	}
	return cache.NewSharded(clients, cc)
}

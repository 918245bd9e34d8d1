package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shoppoller/internal/config"
	cronrunner "shoppoller/internal/cron"
	"shoppoller/internal/db"
	"shoppoller/internal/gateway"
	"shoppoller/internal/handler"
	"shoppoller/internal/kv"
	"shoppoller/internal/logger"
	"shoppoller/internal/rank"
	"shoppoller/internal/registry"
	gormrepository "shoppoller/internal/repository/gorm"
	"shoppoller/internal/service"
	"shoppoller/internal/tasks"
)

func main() {
	cfgPath := os.Getenv("SHOP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("SHOP_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		log.Fatal("auto-migrate failed", zap.Error(err))
	}

	store, closeKV := openKV(cfg.KV, log)
	defer closeKV()
	if err := store.Ping(context.Background()); err != nil {
		log.Fatal("kv ping failed", zap.String("backend", cfg.KV.Backend), zap.Error(err))
	}

	repo := gormrepository.New(dbConn.Gorm)
	gw := &gateway.Gateway{
		Store:     store,
		HTTP:      &http.Client{Timeout: cfg.Gateway.Timeout},
		Logger:    logger.Component(log, "gateway"),
		MinGap:    cfg.Gateway.MinGap,
		Retries:   cfg.Gateway.Retries,
		LockWait:  cfg.Gateway.LockWait,
		LockTTL:   cfg.Gateway.LockTTL,
		UserAgent: cfg.Gateway.UserAgent,
	}
	reg := &registry.Registry{Store: store, TTL: cfg.Orchestrator.RegistryTTL}
	runner := tasks.NewRunner(store, logger.Component(log, "tasks"), cfg.Tasks.Concurrency, cfg.Tasks.RecordTTL)
	if runner.RecordTTL >= reg.TTL && reg.TTL > 0 {
		log.Warn("tasks.record_ttl is not below orchestrator.registry_ttl; janitor cannot recover crashed workers early",
			zap.Duration("record_ttl", runner.RecordTTL),
			zap.Duration("registry_ttl", reg.TTL),
		)
	}

	priceSvc := &service.PriceUpdateService{
		Repo:     repo,
		Ranks:    &rank.Store{Repo: repo, Curve: rank.CurveFromConfig(cfg.Ranking), DefaultRank: cfg.Ranking.DefaultRank},
		Gateway:  gw,
		Registry: reg,
		Locks:    store,
		Tasks:    runner,
		Config:   cfg.Orchestrator,
		Logger:   logger.Component(log, "prices"),
	}
	janitor := &service.JanitorService{
		Registry: reg,
		Tasks:    runner,
		Logger:   logger.Component(log, "janitor"),
	}

	updatePrices := func(ctx context.Context, worldIDs []uint) error {
		_, err := priceSvc.UpdatePrices(ctx, worldIDs)
		return err
	}
	runner.Handle(tasks.NameUpdatePrices, updatePrices)
	runner.Handle(tasks.NameUpdatePricesSplit, updatePrices)
	runner.Handle(tasks.NameJanitor, func(ctx context.Context, _ []uint) error {
		_, err := janitor.Run(ctx)
		return err
	})

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, KV: store}
	healthHandler.Register(engine)
	handler.RegisterDocs(engine)
	opsHandler := &handler.OpsHandler{
		Tasks:    runner,
		Registry: reg,
		Janitor:  janitor,
		Runs:     repo,
		Logger:   logger.Component(log, "http"),
	}
	opsHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger.Component(log, "cron"), ctx)
	if cfg.Cron.Enabled {
		submit := func(name string) func(context.Context) error {
			return func(ctx context.Context) error {
				_, err := runner.Submit(ctx, name, nil)
				return err
			}
		}
		if _, err := cronRunner.Add(tasks.NameUpdatePrices, cfg.Cron.UpdatePrices, submit(tasks.NameUpdatePrices)); err != nil {
			log.Fatal("cron register update prices failed", zap.Error(err))
		}
		if _, err := cronRunner.Add(tasks.NameJanitor, cfg.Cron.Janitor, submit(tasks.NameJanitor)); err != nil {
			log.Fatal("cron register janitor failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Warn("tasks did not finish before shutdown", zap.Error(err))
	}
}

func openKV(cfg config.KVConfig, log *zap.Logger) (kv.Store, func()) {
	var base kv.Store
	closeFn := func() {}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "memory":
		log.Warn("kv backend is memory; locks only cover this process")
		base = kv.NewMemoryStore()
	default:
		rs := kv.NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		base = rs
		closeFn = func() { _ = rs.Close() }
	}
	if cfg.KeyPrefix != "" {
		base = kv.Prefixed{Store: base, Prefix: cfg.KeyPrefix}
	}
	return base, closeFn
}

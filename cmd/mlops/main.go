// Command mlops runs the model lifecycle service: the registry, signal
// monitor, experiment manager and retraining orchestrator behind the
// dashboard query surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/predixa/mlops/internal/config"
	"github.com/predixa/mlops/internal/dashboard"
	"github.com/predixa/mlops/internal/experiments"
	"github.com/predixa/mlops/internal/monitor"
	"github.com/predixa/mlops/internal/orchestrator"
	"github.com/predixa/mlops/internal/registry"
	"github.com/predixa/mlops/pkg/logger"
	"github.com/predixa/mlops/pkg/models"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatal("failed to migrate schema", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Warn("redis unavailable, production cache disabled", zap.Error(err))
			rdb = nil
		}
	}

	var cache *registry.ProductionCache
	if rdb != nil {
		cache = registry.NewProductionCache(log, rdb, cfg.ProductionCacheTTL)
	}

	reg, err := registry.NewService(log, db, cache)
	if err != nil {
		log.Fatal("failed to create registry", zap.Error(err))
	}
	mon, err := monitor.NewService(log, db)
	if err != nil {
		log.Fatal("failed to create monitor", zap.Error(err))
	}
	exp, err := experiments.NewService(log, db, reg)
	if err != nil {
		log.Fatal("failed to create experiment manager", zap.Error(err))
	}

	policy := orchestrator.DefaultPolicy()
	policy.WindowDays = cfg.RetrainWindowDays
	policy.VolumeThreshold = cfg.VolumeThreshold
	policy.Threshold = cfg.RetrainThreshold

	orch, err := orchestrator.NewService(log, reg, mon, policy)
	if err != nil {
		log.Fatal("failed to create orchestrator", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler := dashboard.NewHandler(log, reg, orch, exp, mon, cfg.ModelName)
	dashboard.Routes(router.Group("/"), handler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("mlops service listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}

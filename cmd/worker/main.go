package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/abduss/gomedia/internal/app"
	"github.com/abduss/gomedia/internal/config"
	"github.com/abduss/gomedia/internal/logger"
	"github.com/abduss/gomedia/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.Init()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("start services", zap.Error(err))
	}
	defer a.Close()

	pool := a.StartWorker(ctx)

	gin.SetMode(gin.ReleaseMode)
	metricsRouter := gin.New()
	metrics.Register(metricsRouter, cfg.Metrics.PrometheusPath)
	go func() {
		if err := metricsRouter.Run(cfg.Worker.MetricsAddr); err != nil {
			log.Warn("metrics endpoint stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Info("draining worker")
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Error("worker shutdown", zap.Error(err))
	}
}

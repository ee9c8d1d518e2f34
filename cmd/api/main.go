package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/abduss/gomedia/internal/app"
	"github.com/abduss/gomedia/internal/config"
	"github.com/abduss/gomedia/internal/logger"
	"github.com/abduss/gomedia/internal/metrics"
	"github.com/abduss/gomedia/internal/server"
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

	router := server.NewRouter(server.Dependencies{
		Config:            cfg,
		DB:                a.DB,
		ObjectStore:       a.MinIO,
		AuthService:       a.Auth,
		AttachmentService: a.Attachments,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var stopWorker func(context.Context) error
	if cfg.Worker.Embedded {
		stopWorker = a.StartWorker(ctx).Shutdown
	}

	go func() {
		log.Info("gomedia API listening", zap.String("addr", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	if stopWorker != nil {
		if err := stopWorker(shutdownCtx); err != nil {
			log.Error("worker shutdown", zap.Error(err))
		}
	}
}

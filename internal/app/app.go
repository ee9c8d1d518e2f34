// Package app wires configuration into the services shared by the gomedia
// binaries.
package app

import (
	"context"
	"fmt"

	"github.com/abduss/gomedia/internal/attachment"
	"github.com/abduss/gomedia/internal/auth"
	"github.com/abduss/gomedia/internal/config"
	"github.com/abduss/gomedia/internal/events"
	"github.com/abduss/gomedia/internal/filestore"
	"github.com/abduss/gomedia/internal/jobs"
	"github.com/abduss/gomedia/internal/lock"
	"github.com/abduss/gomedia/internal/media"
	"github.com/abduss/gomedia/internal/sanitize"
	"github.com/abduss/gomedia/internal/spawn"
	"github.com/abduss/gomedia/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// App holds the long-lived clients and services of one process.
type App struct {
	Config      config.Config
	Log         *zap.Logger
	DB          *pgxpool.Pool
	LockDB      *pgxpool.Pool
	MinIO       *minio.Client
	Store       filestore.Backend
	Queue       *jobs.Queue
	Auth        *auth.Service
	Attachments *attachment.Service

	locks *lock.PG
}

// New connects to Postgres (and MinIO for s3 storage) and builds the services.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	db, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	lockDB, err := storage.NewLockPool(ctx, cfg.Postgres)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres lock pool: %w", err)
	}

	a, err := build(ctx, cfg, log, db, lockDB)
	if err != nil {
		lockDB.Close()
		db.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg config.Config, log *zap.Logger, db, lockDB *pgxpool.Pool) (*App, error) {
	var client *minio.Client
	if cfg.Storage.Kind == config.StorageS3 {
		var err error
		client, err = storage.NewMinIOClient(cfg.Storage.MinIO)
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		if err := storage.EnsureBucket(ctx, client, cfg.Storage.MinIO.Bucket, cfg.Storage.MinIO.Region); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
	}

	store, err := filestore.New(cfg.Storage, cfg.Media.TempDir, client)
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}

	presets := media.DefaultPresets()
	if cfg.Media.PresetFile != "" {
		if presets, err = media.LoadPresetFile(cfg.Media.PresetFile); err != nil {
			return nil, err
		}
	}

	generator := media.New(cfg.Media, spawn.Exec{Timeout: cfg.Media.ToolTimeout}, presets, log.Named("media"))
	sanitizer := sanitize.New(sanitize.Config{
		ExiftoolPath: cfg.Sanitize.ExiftoolPath,
		Remove:       cfg.Sanitize.Remove,
		Ignore:       cfg.Sanitize.Ignore,
	}, spawn.Exec{Timeout: cfg.Sanitize.Timeout}, log.Named("sanitize"))
	queue := jobs.NewQueue(db, cfg.Worker.MaxAttempts, log.Named("jobs"))
	locks := lock.NewPG(lockDB)

	service := attachment.NewService(attachment.Config{
		PathPrefix:    cfg.Storage.PathPrefix,
		InlineTypes:   cfg.Storage.InlineTypes,
		MaxInProgress: cfg.Quota.MaxInProgress,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		TempDir:       cfg.Media.TempDir,
		SharedDir:     cfg.Media.SharedDir,
	}, attachment.Dependencies{
		Repo:      attachment.NewRepository(db),
		Store:     store,
		Generator: generator,
		Sanitizer: sanitizer,
		Prefs:     auth.NewPreferenceRepository(db),
		Events:    events.NewNotifier(db, log.Named("events")),
		Jobs:      queue,
		Locker:    locks,
		Log:       log.Named("attachment"),
	})

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		LockDB:      lockDB,
		MinIO:       client,
		Store:       store,
		Queue:       queue,
		Auth:        auth.NewService(cfg.Auth),
		Attachments: service,
		locks:       locks,
	}, nil
}

// Close releases the database pools.
func (a *App) Close() {
	a.LockDB.Close()
	a.DB.Close()
}

// StartWorker starts a job pool that finalizes deferred uploads, recovers
// jobs abandoned by dead workers and sweeps stale temp files. The queue
// listener stops with ctx; call Shutdown on the returned pool.
func (a *App) StartWorker(ctx context.Context) *jobs.Pool {
	cfg := a.Config.Worker
	log := a.Log.Named("worker")

	pool := jobs.NewPool(ctx, a.Queue, jobs.PoolConfig{
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
	}, log)
	pool.Handle(attachment.JobFinalize, a.Attachments.HandleFinalizeJob)

	if cfg.SweepEvery > 0 {
		pool.Every(cfg.SweepEvery, "sweep-temp", exclusive(a.locks, "sweep-temp", log, func(ctx context.Context) error {
			_, err := a.Attachments.SweepTemp(ctx, cfg.TempMaxAge)
			return err
		}))
	}
	if cfg.StuckAfter > 0 {
		pool.Every(cfg.StuckAfter/2, "recover-stuck-jobs", exclusive(a.locks, "recover-stuck-jobs", log, func(ctx context.Context) error {
			n, err := a.Queue.RecoverStuck(ctx, cfg.StuckAfter)
			if n > 0 {
				log.Warn("released stuck jobs", zap.Int64("count", n))
			}
			return err
		}))
	}

	pool.Start()
	go a.Queue.Listen(ctx, pool.Wake())
	log.Info("worker started", zap.Int("concurrency", cfg.Concurrency))
	return pool
}

type tryLocker interface {
	TryLock(ctx context.Context, scope, id string) (func(), bool, error)
}

// exclusive wraps a periodic task so that only one process sharing the
// database runs it at a time; the others skip the tick.
func exclusive(l tryLocker, name string, log *zap.Logger, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		unlock, ok, err := l.TryLock(ctx, "worker-task", name)
		if err != nil {
			return err
		}
		if !ok {
			log.Debug("task already running elsewhere", zap.String("task", name))
			return nil
		}
		defer unlock()
		return fn(ctx)
	}
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/abduss/gomedia/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultDBTimeout = 5 * time.Second
	applicationName  = "gomedia"
)

// NewPostgresPool connects to PostgreSQL using pgx. The pool is shared by
// the record store and the job queue, so its size comes from cfg.MaxConns
// rather than the pgx default.
func NewPostgresPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	return newPool(ctx, cfg, cfg.MaxConns, applicationName)
}

// NewLockPool connects the small pool that only holds advisory locks, so a
// held lock never takes a connection its holder needs for queries.
func NewLockPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	return newPool(ctx, cfg, cfg.LockConns, applicationName+"-locks")
}

func newPool(ctx context.Context, cfg config.PostgresConfig, maxConns int32, appName string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultDBTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return pool, nil
}

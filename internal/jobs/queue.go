// Package jobs is a Postgres-backed background job queue and the worker pool
// that drains it.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Channel is the NOTIFY channel that wakes idle workers.
const Channel = "media_jobs"

const (
	queryTimeout = 5 * time.Second
	backoffBase  = 5 * time.Second
	backoffMax   = 10 * time.Minute
)

// ErrNoJob is returned by Dequeue when nothing is runnable.
var ErrNoJob = errors.New("no job available")

// Job is one unit of background work.
type Job struct {
	ID          uuid.UUID
	Type        string
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// Queue stores jobs in the media_jobs table.
type Queue struct {
	pool        *pgxpool.Pool
	maxAttempts int
	log         *zap.Logger
}

// NewQueue constructs a Queue.
func NewQueue(pool *pgxpool.Pool, maxAttempts int, log *zap.Logger) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{pool: pool, maxAttempts: maxAttempts, log: log}
}

// Enqueue stores a job and wakes listening workers.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode %s payload: %w", jobType, err)
	}

	query := `
WITH ins AS (
	INSERT INTO media_jobs (id, type, payload, max_attempts)
	VALUES ($1, $2, $3, $4)
	RETURNING id
)
SELECT id, pg_notify($5, id::text) FROM ins;`

	id := uuid.New()
	var stored uuid.UUID
	var notified string
	if err := q.pool.QueryRow(ctx, query, id, jobType, body, q.maxAttempts, Channel).Scan(&stored, &notified); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return stored, nil
}

// Dequeue locks the oldest runnable job.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
UPDATE media_jobs
SET locked_at = NOW(), attempts = attempts + 1
WHERE id = (
	SELECT id FROM media_jobs
	WHERE locked_at IS NULL AND failed_at IS NULL AND run_at <= NOW()
	ORDER BY run_at
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, type, payload, attempts, max_attempts;`

	var job Job
	err := q.pool.QueryRow(ctx, query).Scan(&job.ID, &job.Type, &job.Payload, &job.Attempts, &job.MaxAttempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNoJob
		}
		return Job{}, fmt.Errorf("dequeue job: %w", err)
	}
	return job, nil
}

// Complete removes a finished job.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := q.pool.Exec(ctx, `DELETE FROM media_jobs WHERE id = $1;`, id); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail schedules a retry with exponential backoff, or parks the job for
// inspection once its attempts are used up.
func (q *Queue) Fail(ctx context.Context, job Job, cause error) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	var err error
	if job.Attempts >= job.MaxAttempts {
		_, err = q.pool.Exec(ctx, `
UPDATE media_jobs SET locked_at = NULL, failed_at = NOW(), last_error = $2
WHERE id = $1;`, job.ID, msg)
	} else {
		_, err = q.pool.Exec(ctx, `
UPDATE media_jobs SET locked_at = NULL, run_at = NOW() + $2::interval, last_error = $3
WHERE id = $1;`, job.ID, Backoff(job.Attempts).String(), msg)
	}
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// RecoverStuck releases jobs locked longer than olderThan, left behind by
// workers that died mid-job.
func (q *Queue) RecoverStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := q.pool.Exec(ctx, `
UPDATE media_jobs SET locked_at = NULL
WHERE locked_at IS NOT NULL AND failed_at IS NULL AND locked_at < NOW() - $1::interval;`, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("recover stuck jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Listen forwards queue notifications to wake until ctx ends, reconnecting
// after connection failures.
func (q *Queue) Listen(ctx context.Context, wake chan<- struct{}) {
	for ctx.Err() == nil {
		if err := q.listenOnce(ctx, wake); err != nil && ctx.Err() == nil {
			q.log.Warn("job listener interrupted", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (q *Queue) listenOnce(ctx context.Context, wake chan<- struct{}) error {
	conn, err := q.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		_, _ = conn.Exec(cleanup, "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// Backoff returns the retry delay after the given attempt.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}

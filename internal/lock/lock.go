// Package lock serializes work on a single key across goroutines (Local) or
// across processes sharing a Postgres database (PG).
package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Key derives the 64-bit advisory lock id of scope and id.
func Key(scope, id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(scope))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64())
}

const (
	unlockTimeout = 5 * time.Second
	minBackoff    = 10 * time.Millisecond
	maxBackoff    = 250 * time.Millisecond
)

// session is one pooled connection able to hold advisory locks.
type session interface {
	TryLock(ctx context.Context, key int64) (bool, error)
	Unlock(ctx context.Context, key int64) error
	// Release returns the connection to its pool; Discard closes it, which
	// makes Postgres drop every lock it still holds.
	Release()
	Discard()
}

type sessionSource interface {
	Acquire(ctx context.Context) (session, error)
}

// PG holds Postgres session advisory locks. It should be given a pool of its
// own: a held lock pins one connection, and callers inside the critical
// section need connections for their own queries. Waiters hold no
// connection; they retry pg_try_advisory_lock with backoff until ctx ends.
type PG struct {
	src sessionSource
}

// NewPG constructs a PG locker on a dedicated lock pool.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{src: poolSource{pool: pool}}
}

// Lock blocks until the lock for scope/id is held or ctx ends. The returned
// func releases it.
func (l *PG) Lock(ctx context.Context, scope, id string) (func(), error) {
	backoff := minBackoff
	for {
		unlock, ok, err := l.TryLock(ctx, scope, id)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("advisory lock %s/%s: %w", scope, id, ctx.Err())
		case <-t.C:
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// TryLock takes the lock only if it is free.
func (l *PG) TryLock(ctx context.Context, scope, id string) (func(), bool, error) {
	conn, err := l.src.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}
	key := Key(scope, id)
	acquired, err := conn.TryLock(ctx, key)
	if err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock %s/%s: %w", scope, id, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			if err := conn.Unlock(ctx, key); err != nil {
				conn.Discard()
				return
			}
			conn.Release()
		})
	}, true, nil
}

type poolSource struct {
	pool *pgxpool.Pool
}

func (p poolSource) Acquire(ctx context.Context) (session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pgSession{conn: conn}, nil
}

type pgSession struct {
	conn *pgxpool.Conn
}

func (s pgSession) TryLock(ctx context.Context, key int64) (bool, error) {
	var acquired bool
	err := s.conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired)
	return acquired, err
}

func (s pgSession) Unlock(ctx context.Context, key int64) error {
	var released bool
	if err := s.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&released); err != nil {
		return err
	}
	if !released {
		return fmt.Errorf("advisory lock %d was not held", key)
	}
	return nil
}

func (s pgSession) Release() { s.conn.Release() }

func (s pgSession) Discard() {
	conn := s.conn.Hijack()
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	_ = conn.Close(ctx)
}

// Local is an in-process keyed mutex.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocal constructs a Local locker.
func NewLocal() *Local {
	return &Local{held: map[string]chan struct{}{}}
}

func (l *Local) Lock(ctx context.Context, scope, id string) (func(), error) {
	k := scope + ":" + id
	for {
		l.mu.Lock()
		busy, ok := l.held[k]
		if !ok {
			l.held[k] = make(chan struct{})
			l.mu.Unlock()
			return l.releaser(k), nil
		}
		l.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Local) TryLock(ctx context.Context, scope, id string) (func(), bool, error) {
	k := scope + ":" + id
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[k]; ok {
		return nil, false, nil
	}
	l.held[k] = make(chan struct{})
	return l.releaser(k), true, nil
}

func (l *Local) releaser(k string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			close(l.held[k])
			delete(l.held, k)
			l.mu.Unlock()
		})
	}
}

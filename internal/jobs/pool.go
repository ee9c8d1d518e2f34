package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abduss/gomedia/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const bookkeepingTimeout = 5 * time.Second

// Handler processes one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job Job) error

type source interface {
	Dequeue(ctx context.Context) (Job, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, job Job, cause error) error
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// Pool runs Concurrency workers that drain the queue whenever they are woken
// or the poll interval passes, plus any periodic tasks registered with Every.
type Pool struct {
	src      source
	cfg      PoolConfig
	log      *zap.Logger
	handlers map[string]Handler
	wake     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool constructs a Pool bound to parent.
func NewPool(parent context.Context, src source, cfg PoolConfig, log *zap.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Pool{
		src:      src,
		cfg:      cfg,
		log:      log,
		handlers: map[string]Handler{},
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle registers the handler for a job type. Call before Start.
func (p *Pool) Handle(jobType string, h Handler) {
	p.handlers[jobType] = h
}

// Wake returns the channel that nudges an idle worker.
func (p *Pool) Wake() chan<- struct{} {
	return p.wake
}

// Notify nudges an idle worker without blocking.
func (p *Pool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func(n int) {
			defer p.wg.Done()
			p.work(n)
		}(i)
	}
}

// Every runs fn every interval until the pool shuts down.
func (p *Pool) Every(interval time.Duration, name string, fn func(ctx context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				if err := fn(p.ctx); err != nil && p.ctx.Err() == nil {
					p.log.Warn("periodic task failed", zap.String("task", name), zap.Error(err))
				}
			}
		}
	}()
}

// Shutdown stops the workers and waits for running jobs to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) work(n int) {
	log := p.log.With(zap.Int("worker", n))
	for {
		p.drain(log)
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

func (p *Pool) drain(log *zap.Logger) {
	for p.ctx.Err() == nil {
		job, err := p.src.Dequeue(p.ctx)
		if err != nil {
			if !errors.Is(err, ErrNoJob) && p.ctx.Err() == nil {
				log.Error("dequeue job", zap.Error(err))
			}
			return
		}
		p.run(log.With(zap.String("job_id", job.ID.String()), zap.String("job_type", job.Type)), job)
	}
}

func (p *Pool) run(log *zap.Logger, job Job) {
	start := time.Now()
	err := p.call(job)

	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	if err == nil {
		metrics.JobProcessed(job.Type, "ok")
		if cerr := p.src.Complete(ctx, job.ID); cerr != nil {
			log.Error("complete job", zap.Error(cerr))
		}
		log.Info("job done", zap.Duration("took", time.Since(start)))
		return
	}

	outcome := "retry"
	if job.Attempts >= job.MaxAttempts {
		outcome = "failed"
	}
	metrics.JobProcessed(job.Type, outcome)
	log.Warn("job failed", zap.Int("attempt", job.Attempts), zap.String("outcome", outcome), zap.Error(err))
	if ferr := p.src.Fail(ctx, job, err); ferr != nil {
		log.Error("record job failure", zap.Error(ferr))
	}
}

func (p *Pool) call(job Job) (err error) {
	h, ok := p.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(p.ctx, job)
}

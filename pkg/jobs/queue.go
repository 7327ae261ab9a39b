package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of background work. Payload is owned by the handler.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job; a returned error schedules a retry.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	// RetryDelay is the base delay; attempt n waits n*RetryDelay.
	RetryDelay time.Duration
	Logger     *zap.Logger
	// OnGiveUp is invoked once a job has exhausted its retries.
	OnGiveUp func(Job, error)
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Processed int64
	Retried   int64
	Abandoned int64
}

// Queue dispatches jobs to a fixed pool of goroutines with linear backoff retries.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig
	logger  *zap.Logger

	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	retries sync.WaitGroup
	mu      sync.Mutex
	started bool

	processed atomic.Int64
	retried   atomic.Int64
	abandoned atomic.Int64
}

// NewQueue builds a queue; call Start before Enqueue.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 16
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("queue", name)),
		jobs:    make(chan Job, cfg.BufferSize),
	}
}

// Start launches the workers. Subsequent calls are ignored.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.workers.Add(1)
		go q.run()
	}
	q.started = true
	q.logger.Info("queue started", zap.Int("workers", q.cfg.Workers))
}

// Stop cancels workers and pending retries and waits for them to exit.
// Jobs still buffered are dropped and logged.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()

	q.workers.Wait()
	q.retries.Wait()
	if dropped := len(q.jobs); dropped > 0 {
		q.logger.Warn("queue stopped with pending jobs", zap.Int("dropped", dropped))
		return
	}
	q.logger.Info("queue stopped")
}

// Enqueue adds a job without blocking; a full buffer is an error.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	ctx, started := q.ctx, q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("queue %s stopped: %w", q.name, err)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("queue %s full", q.name)
	}
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Processed: q.processed.Load(),
		Retried:   q.retried.Load(),
		Abandoned: q.abandoned.Load(),
	}
}

func (q *Queue) run() {
	defer q.workers.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			err := q.handler(q.ctx, job)
			if err == nil {
				q.processed.Add(1)
				continue
			}
			q.retry(job, err)
		}
	}
}

func (q *Queue) retry(job Job, err error) {
	job.Attempt++
	fields := []zap.Field{zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempt", job.Attempt), zap.Error(err)}
	if job.Attempt > q.cfg.MaxRetries {
		q.abandoned.Add(1)
		q.logger.Error("job abandoned after retries", fields...)
		if q.cfg.OnGiveUp != nil {
			q.cfg.OnGiveUp(job, err)
		}
		return
	}
	q.retried.Add(1)
	q.logger.Warn("job failed, retrying", fields...)

	q.retries.Add(1)
	go func(j Job) {
		defer q.retries.Done()
		timer := time.NewTimer(time.Duration(j.Attempt) * q.cfg.RetryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
		case <-timer.C:
			if err := q.Enqueue(j); err != nil {
				q.logger.Error("requeue failed", zap.String("job_id", j.ID), zap.Error(err))
			}
		}
	}(job)
}

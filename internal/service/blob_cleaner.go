package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fileshare-api/pkg/jobs"
)

const blobReleaseJob = "blob-release"

type blobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// BlobCleanerConfig tunes blob release retries.
type BlobCleanerConfig struct {
	Timeout    time.Duration
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// BlobCleaner releases blobs whose records are already gone or replaced.
// Release is attempted inline and, on failure, retried in the background.
type BlobCleaner struct {
	blobs   blobDeleter
	queue   *jobs.Queue
	timeout time.Duration
	logger  *zap.Logger
	metrics *MetricsService
}

// NewBlobCleaner builds a cleaner with its retry queue. Call Start before use.
func NewBlobCleaner(blobs blobDeleter, cfg BlobCleanerConfig, logger *zap.Logger, metrics *MetricsService) *BlobCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &BlobCleaner{blobs: blobs, timeout: cfg.Timeout, logger: logger, metrics: metrics}
	c.queue = jobs.NewQueue(blobReleaseJob, c.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnGiveUp: func(job jobs.Job, err error) {
			c.metrics.RecordBlobRelease("abandoned")
			c.logger.Error("blob left orphaned", zap.String("key", job.ID), zap.Error(err))
		},
	})
	return c
}

// Start launches the retry workers.
func (c *BlobCleaner) Start(ctx context.Context) {
	c.queue.Start(ctx)
}

// Stop waits for the retry workers to exit.
func (c *BlobCleaner) Stop() {
	c.queue.Stop()
}

// Release deletes key without letting the caller's cancellation abort it.
// Failures are queued for retry; Release itself never fails.
func (c *BlobCleaner) Release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	err := c.blobs.Delete(ctx, key)
	if err == nil {
		c.metrics.RecordBlobRelease("ok")
		return
	}
	c.metrics.RecordBlobRelease("deferred")
	c.logger.Warn("blob release failed, queued for retry", zap.String("key", key), zap.Error(err))
	if qErr := c.queue.Enqueue(jobs.Job{ID: key, Type: blobReleaseJob, Payload: key}); qErr != nil {
		c.metrics.RecordBlobRelease("abandoned")
		c.logger.Error("blob release could not be queued", zap.String("key", key), zap.Error(qErr))
	}
}

func (c *BlobCleaner) handle(ctx context.Context, job jobs.Job) error {
	key, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("blob release payload %T", job.Payload)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.blobs.Delete(ctx, key); err != nil {
		return err
	}
	c.metrics.RecordBlobRelease("ok")
	return nil
}

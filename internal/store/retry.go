package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RetryQueue re-attempts persistence work that failed at the end of a turn.
// Failed writes never block a reply; they are queued here and retried in the
// background with a fixed interval until they succeed or the attempt budget
// runs out.
type RetryQueue struct {
	logger   *slog.Logger
	interval time.Duration
	attempts int

	jobs chan retryJob
	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

type retryJob struct {
	name string
	fn   func(ctx context.Context) error
	left int
}

// NewRetryQueue starts a background worker retrying failed writes.
func NewRetryQueue(logger *slog.Logger, interval time.Duration, attempts int) *RetryQueue {
	q := &RetryQueue{
		logger:   logger,
		interval: interval,
		attempts: attempts,
		jobs:     make(chan retryJob, 64),
		stop:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue schedules fn to be retried. Drops the job with a log entry when the
// queue is full so that persistence trouble cannot back-pressure turns.
func (q *RetryQueue) Enqueue(name string, fn func(ctx context.Context) error) {
	select {
	case q.jobs <- retryJob{name: name, fn: fn, left: q.attempts}:
	default:
		q.logger.Error("retry queue full, dropping persistence job", "job", name)
	}
}

// Close drains the worker. Pending jobs are abandoned.
func (q *RetryQueue) Close() {
	q.once.Do(func() { close(q.stop) })
	q.wg.Wait()
}

func (q *RetryQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case job := <-q.jobs:
			select {
			case <-time.After(q.interval):
			case <-q.stop:
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := job.fn(ctx)
			cancel()
			if err == nil {
				q.logger.Info("retried persistence job succeeded", "job", job.name)
				continue
			}

			// Lock contention resolves on its own; keep the budget for
			// persistent failures.
			if !IsSQLiteConflictError(err) {
				job.left--
			}
			if job.left <= 0 {
				q.logger.Error("persistence job exhausted retries", "job", job.name, "error", err)
				continue
			}
			q.logger.Warn("persistence job failed, re-queueing", "job", job.name, "error", err, "attempts_left", job.left)
			select {
			case q.jobs <- job:
			default:
				q.logger.Error("retry queue full, dropping persistence job", "job", job.name)
			}
		}
	}
}

package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taxpilot.io/internal/auth"
	"taxpilot.io/internal/obs"
)

// ErrQueueFull is returned by Record when the buffer is at capacity.
var ErrQueueFull = errors.New("audit: queue full")

// ErrQueueClosed is returned by Record after Close.
var ErrQueueClosed = errors.New("audit: queue closed")

type job struct {
	ctx   context.Context
	entry auth.AuditEntry
}

// Queue hands entries to a sink on a background worker, retrying failures
// with linear backoff. Record never blocks.
type Queue struct {
	sink    auth.AuditLogger
	jobs    chan job
	retries int
	backoff time.Duration
	log     logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// QueueOption configures Queue.
type QueueOption func(*Queue)

func WithRetries(n int, backoff time.Duration) QueueOption {
	return func(q *Queue) {
		if n >= 0 {
			q.retries = n
		}
		if backoff > 0 {
			q.backoff = backoff
		}
	}
}

func WithQueueLogger(l logrus.FieldLogger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

// NewQueue starts the worker. size bounds the number of pending entries.
func NewQueue(sink auth.AuditLogger, size int, opts ...QueueOption) *Queue {
	if size <= 0 {
		size = 1024
	}
	q := &Queue{
		sink:    sink,
		jobs:    make(chan job, size),
		retries: 3,
		backoff: 50 * time.Millisecond,
		log:     logrus.StandardLogger(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

var _ auth.AuditLogger = (*Queue)(nil)

// Record enqueues the entry. Request cancellation does not drop it.
func (q *Queue) Record(ctx context.Context, e auth.AuditEntry) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job{ctx: context.WithoutCancel(ctx), entry: e}:
		return nil
	default:
		obs.RecordAuditDropped()
		return ErrQueueFull
	}
}

// Close stops accepting entries and waits for pending ones to drain or ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for j := range q.jobs {
		q.deliver(j)
	}
}

func (q *Queue) deliver(j job) {
	var err error
	for attempt := 0; attempt <= q.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * q.backoff)
		}
		if err = q.sink.Record(j.ctx, j.entry); err == nil {
			return
		}
	}
	obs.RecordAuditDropped()
	q.log.WithError(err).WithField("action", j.entry.Action).Error("audit entry dropped")
}

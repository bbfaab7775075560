package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const DefaultRetention = 24 * time.Hour

var ErrQueueClosed = fmt.Errorf("gojob: queue closed")

type MemoryQueueOption func(*MemoryQueue)

// WithRetention keeps the idempotency key of a finished job for d, so a
// later enqueue with the same key is still collapsed.
func WithRetention(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) {
		q.retention = d
	}
}

// WithLogger reports dead letters and dropped messages.
func WithLogger(logger job.Logger) MemoryQueueOption {
	return func(q *MemoryQueue) {
		q.logger = logger
	}
}

func WithClock(now func() time.Time) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// MemoryQueue is an in-process go-job queue. Messages that carry an
// idempotency key are collapsed while queued, in flight and for the
// retention window after they finish.
type MemoryQueue struct {
	mu        sync.Mutex
	name      string
	ready     []*memoryDelivery
	keys      map[string]time.Time
	attempts  map[string]int
	dead      []*job.ExecutionMessage
	signal    chan struct{}
	closed    bool
	retention time.Duration
	now       func() time.Time
	timers    map[*time.Timer]struct{}
	logger    job.Logger
}

func NewMemoryQueue(name string, opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		name:      strings.TrimSpace(name),
		keys:      map[string]time.Time{},
		attempts:  map[string]int{},
		signal:    make(chan struct{}, 1),
		retention: DefaultRetention,
		now:       time.Now,
		timers:    map[*time.Timer]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" {
		if expiresAt, ok := q.keys[key]; ok && (expiresAt.IsZero() || q.now().Before(expiresAt)) {
			return nil
		}
		q.keys[key] = time.Time{}
	}
	q.pushLocked(&memoryDelivery{queue: q, msg: msg, key: key})
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			delivery := q.ready[0]
			q.ready[0] = nil
			q.ready = q.ready[1:]
			delivery.attempt = q.attemptLocked(delivery)
			if len(q.ready) > 0 {
				q.notifyLocked()
			}
			q.mu.Unlock()
			return delivery, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len reports queued messages, not counting delayed retries.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// DeadLetters returns the messages that were dead lettered.
func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.dead...)
}

// Close wakes blocked consumers and drops pending delayed retries.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	close(q.signal)
}

func (q *MemoryQueue) pushLocked(delivery *memoryDelivery) {
	q.ready = append(q.ready, delivery)
	q.notifyLocked()
}

func (q *MemoryQueue) notifyLocked() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) attemptLocked(delivery *memoryDelivery) int {
	if delivery.key == "" {
		return delivery.attempt + 1
	}
	q.attempts[delivery.key]++
	return q.attempts[delivery.key]
}

func (q *MemoryQueue) finishLocked(delivery *memoryDelivery) {
	if delivery.key == "" {
		return
	}
	delete(q.attempts, delivery.key)
	if q.retention > 0 {
		q.keys[delivery.key] = q.now().Add(q.retention)
		return
	}
	delete(q.keys, delivery.key)
}

func (q *MemoryQueue) ack(delivery *memoryDelivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if delivery.done {
		return fmt.Errorf("gojob: delivery already settled")
	}
	delivery.done = true
	q.finishLocked(delivery)
	return nil
}

func (q *MemoryQueue) nack(delivery *memoryDelivery, opts queue.NackOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if delivery.done {
		return fmt.Errorf("gojob: delivery already settled")
	}
	delivery.done = true

	switch {
	case opts.DeadLetter:
		q.dead = append(q.dead, delivery.msg)
		q.finishLocked(delivery)
		if q.logger != nil {
			q.logger.Warn("job dead-lettered",
				"queue", q.name,
				"job_id", delivery.msg.JobID,
				"idempotency_key", delivery.key,
				"attempt", delivery.attempt,
				"reason", opts.Reason,
			)
		}
	case opts.Requeue:
		if q.closed {
			return ErrQueueClosed
		}
		retry := &memoryDelivery{queue: q, msg: delivery.msg, key: delivery.key, attempt: delivery.attempt}
		if opts.Delay <= 0 {
			q.pushLocked(retry)
			return nil
		}
		var timer *time.Timer
		timer = time.AfterFunc(opts.Delay, func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.timers, timer)
			if !q.closed {
				q.pushLocked(retry)
			}
		})
		q.timers[timer] = struct{}{}
	default:
		q.finishLocked(delivery)
	}
	return nil
}

type memoryDelivery struct {
	queue   *MemoryQueue
	msg     *job.ExecutionMessage
	key     string
	attempt int
	done    bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

// Attempt is 1 for the first delivery of a message.
func (d *memoryDelivery) Attempt() int {
	return d.attempt
}

func (d *memoryDelivery) Ack(context.Context) error {
	return d.queue.ack(d)
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	return d.queue.nack(d, opts)
}

// Router sends each message to the queue registered for its job id.
type Router struct {
	routes map[string]queue.Enqueuer
}

func NewRouter(routes map[string]queue.Enqueuer) *Router {
	copied := make(map[string]queue.Enqueuer, len(routes))
	for jobID, enqueuer := range routes {
		copied[strings.TrimSpace(jobID)] = enqueuer
	}
	return &Router{routes: copied}
}

func (r *Router) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	if r == nil {
		return fmt.Errorf("gojob: router is not configured")
	}
	target, ok := r.routes[strings.TrimSpace(msg.JobID)]
	if !ok || target == nil {
		return fmt.Errorf("gojob: no queue for job %q", msg.JobID)
	}
	return target.Enqueue(ctx, msg)
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
	_ queue.Enqueuer = (*Router)(nil)
)

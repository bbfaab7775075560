package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// ErrMalformedJob marks a payload that can never be handled. Pools dead
// letter it without retrying.
var ErrMalformedJob = errors.New("core: malformed job payload")

type JobHandler func(ctx context.Context, msg *JobExecutionMessage) error

// RetryPolicy bounds queue level retries for a pool.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NextDelay returns the exponential backoff before attempt+1.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	next := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if p.MaxDelay > 0 && (next < 0 || next > p.MaxDelay) {
		return p.MaxDelay
	}
	return next
}

// NackOptions builds the nack for a failed attempt. Attempts are 1 based.
func (p RetryPolicy) NackOptions(attempt int, cause error) JobNackOptions {
	reason := ""
	if cause != nil {
		reason = strings.TrimSpace(cause.Error())
	}
	if errors.Is(cause, ErrMalformedJob) {
		return JobNackOptions{DeadLetter: true, Reason: reason}
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		if p.DeadLetterOnMax {
			return JobNackOptions{DeadLetter: true, Reason: reason}
		}
		return JobNackOptions{Reason: reason}
	}
	return JobNackOptions{Requeue: true, Delay: p.NextDelay(attempt), Reason: reason}
}

type PoolConfig struct {
	Name        string
	Concurrency int
	JobTimeout  time.Duration
	// RateLimit is shared by every worker of the pool.
	RateLimit RateLimiter
	Retry     RetryPolicy
}

// AttemptedDelivery is implemented by deliveries whose transport counts
// redeliveries.
type AttemptedDelivery interface {
	Attempt() int
}

// WorkerPool pulls jobs from a dequeuer and runs them through a handler with
// bounded concurrency.
type WorkerPool struct {
	config   PoolConfig
	dequeuer JobDequeuer
	handler  JobHandler
	observer Observer
	hook     JobWorkerHook

	mu       sync.Mutex
	attempts map[string]int
}

func NewWorkerPool(config PoolConfig, dequeuer JobDequeuer, handler JobHandler, observer Observer) (*WorkerPool, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("core: worker pool %q requires a dequeuer", config.Name)
	}
	if handler == nil {
		return nil, fmt.Errorf("core: worker pool %q requires a handler", config.Name)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if strings.TrimSpace(config.Name) == "" {
		config.Name = "default"
	}
	return &WorkerPool{
		config:   config,
		dequeuer: dequeuer,
		handler:  handler,
		observer: observer,
		attempts: map[string]int{},
	}, nil
}

func (p *WorkerPool) WithHook(hook JobWorkerHook) *WorkerPool {
	p.hook = hook
	return p
}

func (p *WorkerPool) Name() string {
	return p.config.Name
}

// Run blocks until ctx is cancelled.
func (p *WorkerPool) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	for i := 0; i < p.config.Concurrency; i++ {
		wg.Go(func() {
			p.loop(ctx)
		})
	}
	wg.Wait()
	return ctx.Err()
}

func (p *WorkerPool) loop(ctx context.Context) {
	for ctx.Err() == nil {
		delivery, err := p.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.observer.Warn(ctx, "worker dequeue failed", map[string]any{
				"pool":  p.config.Name,
				"error": err.Error(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}
		if delivery == nil {
			continue
		}
		_ = p.Process(ctx, delivery)
	}
}

// Process handles a single delivery: ack on success, nack with backoff on
// failure and dead letter once the retry policy is exhausted.
func (p *WorkerPool) Process(ctx context.Context, delivery JobDelivery) error {
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, JobNackOptions{DeadLetter: true, Reason: "missing message"})
	}
	attempt := p.attempt(delivery, msg)
	event := JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: time.Now()}
	p.onStart(ctx, event)

	if p.config.RateLimit != nil {
		if err := p.config.RateLimit.Wait(ctx); err != nil {
			// Cancelled while waiting; hand the job back untouched.
			return delivery.Nack(ctx, JobNackOptions{Requeue: true, Reason: err.Error()})
		}
	}

	jobCtx := ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}
	err := p.handler(jobCtx, msg)
	event.Duration = time.Since(event.StartedAt)
	if err == nil {
		p.forget(msg)
		p.onSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	event.Err = err
	nack := p.config.Retry.NackOptions(attempt, err)
	if nack.Requeue {
		event.Delay = nack.Delay
		p.onRetry(ctx, event)
	} else {
		p.forget(msg)
		p.onFailure(ctx, event)
		p.observer.Error(ctx, "job dead lettered", map[string]any{
			"pool":    p.config.Name,
			"job_id":  msg.JobID,
			"key":     msg.IdempotencyKey,
			"attempt": attempt,
			"error":   err.Error(),
		})
	}
	if nackErr := delivery.Nack(ctx, nack); nackErr != nil {
		return errors.Join(err, nackErr)
	}
	return err
}

func (p *WorkerPool) attempt(delivery JobDelivery, msg *JobExecutionMessage) int {
	if counted, ok := delivery.(AttemptedDelivery); ok {
		if attempt := counted.Attempt(); attempt > 0 {
			return attempt
		}
	}
	key := attemptKey(msg)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[key]++
	return p.attempts[key]
}

func (p *WorkerPool) forget(msg *JobExecutionMessage) {
	p.mu.Lock()
	delete(p.attempts, attemptKey(msg))
	p.mu.Unlock()
}

func attemptKey(msg *JobExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return fmt.Sprintf("%s:%v", msg.JobID, msg.Parameters)
}

func (p *WorkerPool) onStart(ctx context.Context, event JobWorkerEvent) {
	if p.hook != nil {
		p.hook.OnStart(ctx, event)
	}
}

func (p *WorkerPool) onSuccess(ctx context.Context, event JobWorkerEvent) {
	if p.hook != nil {
		p.hook.OnSuccess(ctx, event)
	}
}

func (p *WorkerPool) onFailure(ctx context.Context, event JobWorkerEvent) {
	if p.hook != nil {
		p.hook.OnFailure(ctx, event)
	}
}

func (p *WorkerPool) onRetry(ctx context.Context, event JobWorkerEvent) {
	if p.hook != nil {
		p.hook.OnRetry(ctx, event)
	}
}

package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDelivery struct {
	msg   *JobExecutionMessage
	acked bool
	nacks []JobNackOptions
}

func (d *fakeDelivery) Message() *JobExecutionMessage { return d.msg }

func (d *fakeDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(_ context.Context, opts JobNackOptions) error {
	d.nacks = append(d.nacks, opts)
	return nil
}

type sliceDequeuer struct {
	mu    sync.Mutex
	items []*fakeDelivery
}

func (q *sliceDequeuer) Dequeue(ctx context.Context) (JobDelivery, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRetryPolicy_NextDelayIsExponentialAndCapped(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, expected := range want {
		if got := policy.NextDelay(i + 1); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, got)
		}
	}
}

func TestRetryPolicy_NackOptions(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Minute, DeadLetterOnMax: true}
	retry := policy.NackOptions(1, errors.New("timeout"))
	if !retry.Requeue || retry.DeadLetter || retry.Delay != time.Second {
		t.Fatalf("unexpected retry nack %#v", retry)
	}
	exhausted := policy.NackOptions(3, errors.New("timeout"))
	if exhausted.Requeue || !exhausted.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %#v", exhausted)
	}
	malformed := policy.NackOptions(1, fmt.Errorf("%w: missing id", ErrMalformedJob))
	if malformed.Requeue || !malformed.DeadLetter {
		t.Fatalf("expected malformed payload to be dead lettered, got %#v", malformed)
	}
}

func TestWorkerPool_AcksSuccessAndRetriesFailures(t *testing.T) {
	calls := 0
	pool, err := NewWorkerPool(PoolConfig{
		Name:  "compose",
		Retry: RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, DeadLetterOnMax: true},
	}, &sliceDequeuer{}, func(context.Context, *JobExecutionMessage) error {
		calls++
		if calls < 3 {
			return errors.New("db timeout")
		}
		return nil
	}, Observer{})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	ctx := context.Background()
	msg := ComposeJob{RunID: "r", NotificationID: "n1", PeriodKey: "2024-01"}.Message()

	first := &fakeDelivery{msg: msg}
	if err := pool.Process(ctx, first); err == nil {
		t.Fatalf("expected first attempt to fail")
	}
	if len(first.nacks) != 1 || !first.nacks[0].Requeue {
		t.Fatalf("expected requeue nack, got %#v", first.nacks)
	}

	second := &fakeDelivery{msg: msg}
	_ = pool.Process(ctx, second)
	if len(second.nacks) != 1 || !second.nacks[0].DeadLetter {
		t.Fatalf("expected dead letter on second attempt, got %#v", second.nacks)
	}

	third := &fakeDelivery{msg: msg}
	if err := pool.Process(ctx, third); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !third.acked {
		t.Fatalf("expected ack on success")
	}
}

type countingLimiter struct {
	waits atomic.Int32
}

func (l *countingLimiter) Wait(context.Context) error {
	l.waits.Add(1)
	return nil
}

func TestWorkerPool_RunHonoursConcurrencyAndRateLimit(t *testing.T) {
	dequeuer := &sliceDequeuer{}
	for i := 0; i < 6; i++ {
		dequeuer.items = append(dequeuer.items, &fakeDelivery{msg: SendJob{DeliveryID: fmt.Sprintf("d%d", i)}.Message()})
	}
	limiter := &countingLimiter{}
	var inFlight, maxInFlight, handled atomic.Int32
	pool, err := NewWorkerPool(PoolConfig{Name: "send", Concurrency: 2, RateLimit: limiter}, dequeuer,
		func(context.Context, *JobExecutionMessage) error {
			current := inFlight.Add(1)
			for {
				seen := maxInFlight.Load()
				if current <= seen || maxInFlight.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			handled.Add(1)
			return nil
		}, Observer{})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for handled.Load() < 6 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if handled.Load() != 6 {
		t.Fatalf("expected six jobs handled, got %d", handled.Load())
	}
	if maxInFlight.Load() > 2 {
		t.Fatalf("expected at most two concurrent jobs, got %d", maxInFlight.Load())
	}
	if limiter.waits.Load() != 6 {
		t.Fatalf("expected the limiter to gate every job, got %d waits", limiter.waits.Load())
	}
}

func TestWorkerPool_JobTimeoutBoundsHandler(t *testing.T) {
	pool, _ := NewWorkerPool(PoolConfig{Name: "send", JobTimeout: 10 * time.Millisecond, Retry: RetryPolicy{MaxAttempts: 5}}, &sliceDequeuer{},
		func(ctx context.Context, _ *JobExecutionMessage) error {
			<-ctx.Done()
			return ctx.Err()
		}, Observer{})
	delivery := &fakeDelivery{msg: SendJob{DeliveryID: "d1"}.Message()}
	if err := pool.Process(context.Background(), delivery); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(delivery.nacks) != 1 || !delivery.nacks[0].Requeue {
		t.Fatalf("expected timed out job to be requeued, got %#v", delivery.nacks)
	}
}

type recordingHook struct {
	events []string
}

func (h *recordingHook) OnStart(_ context.Context, e JobWorkerEvent) {
	h.events = append(h.events, fmt.Sprintf("start:%d", e.Attempt))
}

func (h *recordingHook) OnSuccess(context.Context, JobWorkerEvent) {
	h.events = append(h.events, "success")
}

func (h *recordingHook) OnFailure(context.Context, JobWorkerEvent) {
	h.events = append(h.events, "failure")
}

func (h *recordingHook) OnRetry(_ context.Context, e JobWorkerEvent) {
	h.events = append(h.events, fmt.Sprintf("retry:%s", e.Delay))
}

func TestWorkerPool_HookSeesLifecycle(t *testing.T) {
	hook := &recordingHook{}
	fail := true
	pool, err := NewWorkerPool(PoolConfig{
		Name:  "send",
		Retry: RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, DeadLetterOnMax: true},
	}, &sliceDequeuer{}, func(context.Context, *JobExecutionMessage) error {
		if fail {
			return errors.New("provider 503")
		}
		return nil
	}, Observer{})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.WithHook(hook)
	ctx := context.Background()
	msg := SendJob{DeliveryID: "dlv_1"}.Message()

	_ = pool.Process(ctx, &fakeDelivery{msg: msg})
	fail = false
	_ = pool.Process(ctx, &fakeDelivery{msg: msg})

	want := []string{"start:1", "retry:1s", "start:2", "success"}
	if fmt.Sprint(hook.events) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, hook.events)
	}
}

package core

import (
	"context"
	"testing"
	"time"
)

func TestSendRecovery_RequeuesStalePending(t *testing.T) {
	ledger := newMemoryLedger()
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	ledger.put(Delivery{ID: "old", DeliveryKey: "k1", Status: DeliveryStatusPending, CreatedAt: now.Add(-time.Hour)})
	ledger.put(Delivery{ID: "fresh", DeliveryKey: "k2", Status: DeliveryStatusPending, CreatedAt: now.Add(-time.Minute)})
	ledger.put(Delivery{ID: "sent", DeliveryKey: "k3", Status: DeliveryStatusSent, CreatedAt: now.Add(-time.Hour)})
	queue := newRecordingQueue()
	recovery := &SendRecovery{Ledger: ledger, Enqueuer: queue, Now: func() time.Time { return now }}

	count, err := recovery.Sweep(context.Background(), 15*time.Minute, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one requeued delivery, got %d", count)
	}
	jobs := queue.byJob(JobIDSend)
	if len(jobs) != 1 || jobs[0].Parameters["delivery_id"] != "old" {
		t.Fatalf("unexpected requeued jobs %#v", jobs)
	}
	if jobs[0].IdempotencyKey != RecoverySendJobKey("old", now) || jobs[0].IdempotencyKey == SendJobKey("old") {
		t.Fatalf("expected a sweep scoped key, got %q", jobs[0].IdempotencyKey)
	}
}

func TestSendRecovery_RequiresCollaborators(t *testing.T) {
	if _, err := (&SendRecovery{}).Sweep(context.Background(), time.Minute, 1); err == nil {
		t.Fatalf("expected unconfigured recovery to fail")
	}
}

package core

import (
	"context"
	"time"
)

// SendRecovery re-enqueues send jobs for deliveries left in pending, for
// example when compose crashed between the insert and the enqueue. Each
// sweep uses its own job key and the claim makes extra jobs harmless.
type SendRecovery struct {
	Ledger   DeliveryLedger
	Enqueuer JobEnqueuer
	Observer Observer
	Now      func() time.Time
}

func (r *SendRecovery) Sweep(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if r == nil || r.Ledger == nil || r.Enqueuer == nil {
		return 0, dependencyError("core: send recovery is not configured")
	}
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}
	pending, err := r.Ledger.ListPendingBefore(ctx, now.Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, delivery := range pending {
		if err := r.Enqueuer.Enqueue(ctx, SendJob{DeliveryID: delivery.ID}.RecoveryMessage(now)); err != nil {
			return requeued, err
		}
		requeued++
	}
	if requeued > 0 {
		r.Observer.Info(ctx, "pending deliveries requeued", map[string]any{"count": requeued})
	}
	return requeued, nil
}

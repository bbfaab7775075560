package core

import (
	"context"
	"strings"
	"time"
)

const (
	lastErrorMaxRetries     = "max retry attempts exceeded"
	lastErrorMissingContent = "missing rendered content"

	// settleTimeout bounds the ledger writes that follow a claim. They run
	// detached from the job deadline so a timed out provider call still
	// leaves the row retryable.
	settleTimeout = 5 * time.Second
)

// SendStage claims a delivery, hands it to the email provider and records
// the result. Every status write after the claim is conditional on the row
// still being in sending, except permanent failures.
type SendStage struct {
	Ledger             DeliveryLedger
	Emails             EmailLookup
	Provider           EmailProvider
	MaxRetryAttempts   int
	UnsubscribeBaseURL string
	Observer           Observer
	Now                func() time.Time
}

func (s *SendStage) Handle(ctx context.Context, job SendJob) (outcome SendOutcome, err error) {
	startedAt := time.Now()
	fields := map[string]any{"delivery_id": job.DeliveryID}
	if err := s.validate(); err != nil {
		return "", err
	}
	defer func() {
		s.Observer.Observe(ctx, startedAt, "send", string(outcome), err, fields)
	}()

	delivery, claimed, err := s.Ledger.Claim(ctx, job.DeliveryID, s.now())
	if err != nil {
		return "", err
	}
	if !claimed {
		s.Observer.DuplicateSuppressed(ctx, "send")
		return SendOutcomeSkippedAlreadyClaimed, nil
	}
	fields["attempt_count"] = delivery.AttemptCount
	fields["notification_id"] = delivery.NotificationID
	fields["notification_type"] = string(delivery.Metadata.NotificationType)

	if delivery.AttemptCount > s.maxRetryAttempts() {
		if err := s.failPermanent(ctx, delivery.ID, lastErrorMaxRetries); err != nil {
			return "", err
		}
		return SendOutcomeFailedPermanent, nil
	}

	if !delivery.HasRenderedContent() {
		if err := s.failPermanent(ctx, delivery.ID, lastErrorMissingContent); err != nil {
			return "", err
		}
		return SendOutcomeFailedPermanent, nil
	}

	to, err := s.Emails.GetEmail(ctx, delivery.UserID)
	if err != nil {
		s.releaseClaim(ctx, delivery.ID, err)
		return "", err
	}
	to = strings.TrimSpace(to)
	if to == "" {
		if _, err := s.settle(ctx, delivery.ID, DeliveryUpdate{
			Status: DeliveryStatusSkippedNoEmail,
		}, DeliveryStatusSending); err != nil {
			return "", err
		}
		return SendOutcomeSkippedNoEmail, nil
	}

	receipt, sendErr := s.Provider.Send(ctx, EmailMessage{
		To:             to,
		Subject:        delivery.RenderedSubject,
		HTML:           delivery.RenderedHTML,
		Text:           delivery.RenderedText,
		IdempotencyKey: delivery.ID,
		UnsubscribeURL: UnsubscribeURL(s.UnsubscribeBaseURL, delivery.UnsubscribeToken),
		Tags: map[string]string{
			"delivery_id":       delivery.ID,
			"notification_id":   delivery.NotificationID,
			"notification_type": string(delivery.Metadata.NotificationType),
		},
	})
	if sendErr != nil {
		fields["failure_class"] = string(ClassifyFailure(sendErr))
		if IsTransient(sendErr) {
			s.releaseClaim(ctx, delivery.ID, sendErr)
			return SendOutcomeFailedTransient, sendErr
		}
		if err := s.failPermanent(ctx, delivery.ID, sendErr.Error()); err != nil {
			return "", err
		}
		return SendOutcomeFailedPermanent, nil
	}

	sentAt := s.now()
	fields["provider_message_id"] = receipt.MessageID
	if _, err := s.settle(ctx, delivery.ID, DeliveryUpdate{
		Status:            DeliveryStatusSent,
		ToEmail:           to,
		ProviderMessageID: receipt.MessageID,
		SentAt:            &sentAt,
	}, DeliveryStatusSending); err != nil {
		return "", err
	}
	return SendOutcomeSent, nil
}

// releaseClaim records a retryable failure. It only fires while the row is
// still sending so a webhook that already advanced it wins.
func (s *SendStage) releaseClaim(ctx context.Context, deliveryID string, cause error) {
	if _, err := s.settle(ctx, deliveryID, DeliveryUpdate{
		Status:    DeliveryStatusFailedTransient,
		LastError: cause.Error(),
	}, DeliveryStatusSending); err != nil {
		s.Observer.Error(ctx, "send release claim failed", map[string]any{
			"delivery_id": deliveryID,
			"error":       err.Error(),
		})
	}
}

func (s *SendStage) failPermanent(ctx context.Context, deliveryID string, reason string) error {
	_, err := s.settle(ctx, deliveryID, DeliveryUpdate{
		Status:    DeliveryStatusFailedPermanent,
		LastError: reason,
	})
	return err
}

// settle writes a post-claim transition on a context that survives the job
// deadline and cancellation of ctx.
func (s *SendStage) settle(ctx context.Context, deliveryID string, update DeliveryUpdate, from ...DeliveryStatus) (bool, error) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	return s.Ledger.Transition(settleCtx, deliveryID, update, from...)
}

func (s *SendStage) maxRetryAttempts() int {
	if s.MaxRetryAttempts > 0 {
		return s.MaxRetryAttempts
	}
	return DefaultMaxRetryAttempts
}

func (s *SendStage) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SendStage) validate() error {
	switch {
	case s == nil:
		return dependencyError("core: send stage is nil")
	case s.Ledger == nil:
		return dependencyError("core: send stage requires a delivery ledger")
	case s.Emails == nil:
		return dependencyError("core: send stage requires an email lookup")
	case s.Provider == nil:
		return dependencyError("core: send stage requires an email provider")
	}
	return nil
}

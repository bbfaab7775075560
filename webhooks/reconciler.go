package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
)

const (
	StatusProcessed        = "processed"
	StatusAlreadyProcessed = "already_processed"
)

type Verifier interface {
	Verify(headers map[string]string, body []byte) (SignedHeaders, error)
}

type Request struct {
	Provider string
	Headers  map[string]string
	Body     []byte
}

type Result struct {
	StatusCode int
	Status     string
	EventType  string
	DeliveryID string
}

// Reconciler applies provider delivery events to the ledger. It is
// idempotent on the signed message id and never lets a downstream failure
// turn an accepted event into a retry.
type Reconciler struct {
	Verifier      Verifier
	Events        core.WebhookEventLog
	Ledger        core.DeliveryLedger
	Notifications core.NotificationStore
	Observer      core.Observer
	Now           func() time.Time
}

func NewReconciler(
	verifier Verifier,
	events core.WebhookEventLog,
	ledger core.DeliveryLedger,
	notifications core.NotificationStore,
	observer core.Observer,
) (*Reconciler, error) {
	if verifier == nil {
		return nil, fmt.Errorf("webhooks: verifier is required")
	}
	if events == nil || ledger == nil {
		return nil, fmt.Errorf("webhooks: event log and delivery ledger are required")
	}
	return &Reconciler{
		Verifier:      verifier,
		Events:        events,
		Ledger:        ledger,
		Notifications: notifications,
		Observer:      observer,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (r *Reconciler) Handle(ctx context.Context, req Request) (result Result, err error) {
	startedAt := time.Now()
	fields := map[string]any{"provider": req.Provider}
	defer func() {
		fields["status_code"] = result.StatusCode
		if result.EventType != "" {
			fields["webhook_event"] = result.EventType
		}
		if result.DeliveryID != "" {
			fields["delivery_id"] = result.DeliveryID
		}
		r.observer().Observe(ctx, startedAt, "webhook", result.Status, err, fields)
	}()

	if r == nil || r.Verifier == nil || r.Events == nil || r.Ledger == nil {
		return Result{StatusCode: http.StatusInternalServerError}, fmt.Errorf("webhooks: reconciler is not configured")
	}

	signed, err := r.Verifier.Verify(req.Headers, req.Body)
	if err != nil {
		return rejectVerification(err)
	}
	fields["svix_id"] = signed.ID

	event, payload, err := ParseEvent(req.Body)
	if err != nil {
		return Result{StatusCode: http.StatusBadRequest}, core.BadInputError(err.Error())
	}
	result.EventType = event.Type
	deliveryID := strings.TrimSpace(event.Data.Tags["delivery_id"])
	result.DeliveryID = deliveryID

	_, duplicate, err := r.Events.Record(ctx, core.WebhookEvent{
		SvixID:            signed.ID,
		Provider:          strings.TrimSpace(req.Provider),
		EventType:         event.Type,
		ProviderMessageID: event.Data.EmailID,
		Payload:           payload,
		DeliveryID:        deliveryID,
	})
	if err != nil {
		result.StatusCode = http.StatusInternalServerError
		return result, err
	}
	if duplicate {
		r.observer().DuplicateSuppressed(ctx, "webhook")
		result.StatusCode = http.StatusOK
		result.Status = StatusAlreadyProcessed
		return result, nil
	}

	if deliveryID == "" {
		r.observer().Warn(ctx, "webhook event without delivery_id tag", map[string]any{
			"svix_id":    signed.ID,
			"event_type": event.Type,
		})
	} else if applyErr := r.apply(ctx, event, deliveryID); applyErr != nil {
		r.observer().Error(ctx, "webhook event could not be applied", map[string]any{
			"svix_id":     signed.ID,
			"event_type":  event.Type,
			"delivery_id": deliveryID,
			"error":       applyErr.Error(),
		})
	}

	if markErr := r.Events.MarkProcessed(ctx, signed.ID, deliveryID, r.now()); markErr != nil {
		r.observer().Error(ctx, "webhook event could not be marked processed", map[string]any{
			"svix_id": signed.ID,
			"error":   markErr.Error(),
		})
	}

	result.StatusCode = http.StatusOK
	result.Status = StatusProcessed
	return result, nil
}

func (r *Reconciler) apply(ctx context.Context, event Event, deliveryID string) error {
	switch event.Type {
	case EventEmailSent:
		current, err := r.Ledger.Get(ctx, deliveryID)
		if err != nil {
			return err
		}
		update := core.DeliveryUpdate{Status: core.DeliveryStatusSent}
		if current.ProviderMessageID == "" {
			update.ProviderMessageID = event.Data.EmailID
		}
		if current.SentAt == nil {
			sentAt := r.eventTime(event)
			update.SentAt = &sentAt
		}
		_, err = r.Ledger.Transition(ctx, deliveryID, update)
		return err
	case EventEmailDelivered:
		_, err := r.Ledger.Transition(ctx, deliveryID, core.DeliveryUpdate{Status: core.DeliveryStatusDelivered})
		return err
	case EventEmailBounced:
		if !event.Data.Bounce.Permanent() {
			r.observer().Info(ctx, "transient bounce recorded", map[string]any{"delivery_id": deliveryID})
			return nil
		}
		if _, err := r.Ledger.Transition(ctx, deliveryID, core.DeliveryUpdate{
			Status:    core.DeliveryStatusSuppressed,
			LastError: bounceReason(event.Data.Bounce),
		}, core.DeliveryStatusSent, core.DeliveryStatusSending); err != nil {
			return err
		}
		return r.deactivate(ctx, deliveryID)
	case EventEmailComplained, EventEmailSuppressed:
		if _, err := r.Ledger.Transition(ctx, deliveryID, core.DeliveryUpdate{
			Status:    core.DeliveryStatusSuppressed,
			LastError: event.Type,
		}, core.NonTerminalStatuses...); err != nil {
			return err
		}
		return r.deactivate(ctx, deliveryID)
	default:
		r.observer().Info(ctx, "webhook event logged", map[string]any{
			"delivery_id": deliveryID,
			"event_type":  event.Type,
		})
		return nil
	}
}

func (r *Reconciler) deactivate(ctx context.Context, deliveryID string) error {
	if r.Notifications == nil {
		return nil
	}
	delivery, err := r.Ledger.Get(ctx, deliveryID)
	if err != nil {
		return err
	}
	if err := r.Notifications.SetActive(ctx, delivery.NotificationID, false); err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	return nil
}

func (r *Reconciler) eventTime(event Event) time.Time {
	if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(event.CreatedAt)); err == nil {
		return parsed.UTC()
	}
	return r.now()
}

func (r *Reconciler) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Reconciler) observer() core.Observer {
	if r == nil {
		return core.Observer{}
	}
	return r.Observer
}

func rejectVerification(err error) (Result, error) {
	switch {
	case errors.Is(err, ErrMissingHeaders):
		return Result{StatusCode: http.StatusBadRequest}, core.BadInputError(err.Error())
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrTimestampTolerance):
		return Result{StatusCode: http.StatusUnauthorized}, core.SignatureInvalidError(err.Error())
	default:
		return Result{StatusCode: http.StatusInternalServerError}, err
	}
}

func bounceReason(bounce *Bounce) string {
	if bounce == nil {
		return "bounced"
	}
	parts := []string{"bounced", strings.TrimSpace(bounce.Type)}
	if sub := strings.TrimSpace(bounce.SubType); sub != "" {
		parts = append(parts, sub)
	}
	return strings.Join(parts, ": ")
}

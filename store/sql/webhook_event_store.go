package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WebhookEventStore logs provider webhook events. The unique svix id column
// is what makes webhook handling idempotent.
type WebhookEventStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookEventRecord]
}

func NewWebhookEventStore(db *bun.DB) (*WebhookEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookEventRecord](db, webhookEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook event repository wiring: %w", err)
		}
	}
	return &WebhookEventStore{db: db, repo: repo}, nil
}

func (s *WebhookEventStore) Record(ctx context.Context, event core.WebhookEvent) (core.WebhookEvent, bool, error) {
	if s == nil || s.repo == nil {
		return core.WebhookEvent{}, false, errNotConfigured
	}
	svixID := strings.TrimSpace(event.SvixID)
	if svixID == "" {
		return core.WebhookEvent{}, false, fmt.Errorf("sqlstore: webhook svix id is required")
	}
	if strings.TrimSpace(event.EventType) == "" {
		return core.WebhookEvent{}, false, fmt.Errorf("sqlstore: webhook event type is required")
	}

	record := &webhookEventRecord{
		ID:                uuid.NewString(),
		SvixID:            svixID,
		Provider:          strings.TrimSpace(event.Provider),
		EventType:         strings.TrimSpace(event.EventType),
		ProviderMessageID: strings.TrimSpace(event.ProviderMessageID),
		Payload:           copyAnyMap(event.Payload),
		DeliveryID:        trimmedPtr(event.DeliveryID),
		CreatedAt:         time.Now().UTC(),
	}
	created, err := s.repo.Create(ctx, record)
	if err == nil {
		return created.toDomain(), false, nil
	}
	if !isUniqueConstraintError(err) {
		return core.WebhookEvent{}, false, err
	}

	records, _, listErr := s.repo.List(ctx,
		repository.SelectBy("svix_id", "=", svixID),
		repository.SelectPaginate(1, 0),
	)
	if listErr != nil {
		return core.WebhookEvent{}, true, listErr
	}
	if len(records) == 0 {
		return core.WebhookEvent{SvixID: svixID}, true, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *WebhookEventStore) MarkProcessed(ctx context.Context, svixID string, deliveryID string, at time.Time) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	if at.IsZero() {
		at = time.Now()
	}
	query := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("processed_at = ?", at.UTC()).
		Where("svix_id = ?", strings.TrimSpace(svixID))
	if linked := trimmedPtr(deliveryID); linked != nil {
		query = query.Set("delivery_id = ?", *linked)
	}
	result, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

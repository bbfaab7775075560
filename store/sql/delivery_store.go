package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const deliveryColumns = `
	id,
	user_id,
	notification_id,
	period_key,
	delivery_key,
	status,
	unsubscribe_token,
	rendered_subject,
	rendered_html,
	rendered_text,
	content_hash,
	template_name,
	template_version,
	to_email,
	provider_message_id,
	last_error,
	attempt_count,
	last_attempt_at,
	sent_at,
	metadata,
	created_at,
	updated_at`

// DeliveryStore is the delivery ledger. Every status change is a single
// conditional UPDATE so concurrent workers and webhooks coordinate through
// the database only.
type DeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryRecord]
}

func NewDeliveryStore(db *bun.DB) (*DeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryRecord](db, deliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery repository wiring: %w", err)
		}
	}
	return &DeliveryStore{db: db, repo: repo}, nil
}

func (s *DeliveryStore) Create(ctx context.Context, in core.CreateDeliveryInput) (core.Delivery, error) {
	if s == nil || s.repo == nil {
		return core.Delivery{}, errNotConfigured
	}
	key := strings.TrimSpace(in.DeliveryKey)
	if key == "" {
		return core.Delivery{}, fmt.Errorf("sqlstore: delivery key is required")
	}
	if strings.TrimSpace(in.NotificationID) == "" || strings.TrimSpace(in.UserID) == "" {
		return core.Delivery{}, fmt.Errorf("sqlstore: delivery user id and notification id are required")
	}

	now := time.Now().UTC()
	record := &deliveryRecord{
		ID:               uuid.NewString(),
		UserID:           strings.TrimSpace(in.UserID),
		NotificationID:   strings.TrimSpace(in.NotificationID),
		PeriodKey:        strings.TrimSpace(in.PeriodKey),
		DeliveryKey:      key,
		Status:           string(core.DeliveryStatusPending),
		UnsubscribeToken: in.UnsubscribeToken,
		RenderedSubject:  in.RenderedSubject,
		RenderedHTML:     in.RenderedHTML,
		RenderedText:     in.RenderedText,
		ContentHash:      in.ContentHash,
		TemplateName:     in.TemplateName,
		TemplateVersion:  in.TemplateVersion,
		AttemptCount:     0,
		Metadata:         metadataToMap(in.Metadata),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.Delivery{}, core.ErrDuplicate
		}
		return core.Delivery{}, err
	}
	return created.toDomain(), nil
}

func (s *DeliveryStore) Get(ctx context.Context, id string) (core.Delivery, error) {
	record, err := s.findOne(ctx, repository.SelectBy("id", "=", strings.TrimSpace(id)))
	if err != nil {
		return core.Delivery{}, err
	}
	return record.toDomain(), nil
}

func (s *DeliveryStore) ExistsByKey(ctx context.Context, deliveryKey string) (bool, error) {
	_, err := s.findOne(ctx, repository.SelectBy("delivery_key", "=", strings.TrimSpace(deliveryKey)))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, core.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *DeliveryStore) Claim(ctx context.Context, id string, now time.Time) (core.Delivery, bool, error) {
	if s == nil || s.db == nil {
		return core.Delivery{}, false, errNotConfigured
	}
	now = now.UTC()
	var records []deliveryRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
UPDATE notify_deliveries
SET status = ?,
	attempt_count = attempt_count + 1,
	last_attempt_at = ?,
	updated_at = ?
WHERE id = ?
  AND status IN (?)
RETURNING` + deliveryColumns
		return tx.NewRaw(
			query,
			string(core.DeliveryStatusSending),
			now,
			now,
			strings.TrimSpace(id),
			bun.In(statusStrings(core.ClaimableStatuses)),
		).Scan(ctx, &records)
	})
	if err != nil {
		return core.Delivery{}, false, err
	}
	if len(records) == 0 {
		return core.Delivery{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *DeliveryStore) Transition(
	ctx context.Context,
	id string,
	update core.DeliveryUpdate,
	from ...core.DeliveryStatus,
) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotConfigured
	}
	query := s.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id))
	if update.Status != "" {
		query = query.Set("status = ?", string(update.Status))
	}
	if update.ToEmail != "" {
		query = query.Set("to_email = ?", update.ToEmail)
	}
	if update.ProviderMessageID != "" {
		query = query.Set("provider_message_id = ?", update.ProviderMessageID)
	}
	if update.LastError != "" {
		query = query.Set("last_error = ?", update.LastError)
	}
	if update.SentAt != nil {
		query = query.Set("sent_at = ?", update.SentAt.UTC())
	}
	if len(from) > 0 {
		query = query.Where("status IN (?)", bun.In(statusStrings(from)))
	}
	result, err := query.Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *DeliveryStore) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]core.Delivery, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured
	}
	if limit <= 0 {
		limit = 100
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.DeliveryStatusPending)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.created_at < ?", before.UTC())
		}),
		repository.OrderBy("created_at ASC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Delivery, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *DeliveryStore) findOne(ctx context.Context, criteria ...repository.SelectCriteria) (*deliveryRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured
	}
	criteria = append(criteria, repository.SelectPaginate(1, 0))
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, notFound(err)
	}
	if len(records) == 0 {
		return nil, core.ErrNotFound
	}
	return records[0], nil
}

func statusStrings(statuses []core.DeliveryStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}

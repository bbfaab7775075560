package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-notify/core"
	"github.com/uptrace/bun"
)

// EligibilityQuery is the default eligibility rule: active notifications of
// the type with no delivery for the period yet, oldest first.
type EligibilityQuery struct {
	db *bun.DB
}

func NewEligibilityQuery(db *bun.DB) (*EligibilityQuery, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &EligibilityQuery{db: db}, nil
}

func (q *EligibilityQuery) FindEligible(
	ctx context.Context,
	notificationType core.NotificationType,
	periodKey string,
	limit int,
) ([]string, error) {
	if q == nil || q.db == nil {
		return nil, errNotConfigured
	}
	periodKey = strings.TrimSpace(periodKey)
	if periodKey == "" {
		return nil, fmt.Errorf("sqlstore: period key is required")
	}

	pending := q.db.NewSelect().
		Model((*deliveryRecord)(nil)).
		ColumnExpr("1").
		Where("nd.notification_id = nn.id").
		Where("nd.period_key = ?", periodKey)

	var ids []string
	query := q.db.NewSelect().
		Model((*notificationRecord)(nil)).
		ColumnExpr("nn.id").
		Where("nn.notification_type = ?", string(notificationType)).
		Where("nn.is_active = ?", true).
		Where("NOT EXISTS (?)", pending).
		OrderExpr("nn.created_at ASC, nn.id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

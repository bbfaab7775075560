package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type notificationRecord struct {
	bun.BaseModel `bun:"table:notify_notifications,alias:nn"`

	ID               string         `bun:"id,pk"`
	UserID           string         `bun:"user_id,notnull"`
	NotificationType string         `bun:"notification_type,notnull"`
	EntityCUI        *string        `bun:"entity_cui"`
	Config           map[string]any `bun:"config,type:jsonb,nullzero"`
	IsActive         bool           `bun:"is_active,notnull"`
	Hash             string         `bun:"hash,notnull"`
	CreatedAt        time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryRecord struct {
	bun.BaseModel `bun:"table:notify_deliveries,alias:nd"`

	ID                string         `bun:"id,pk"`
	UserID            string         `bun:"user_id,notnull"`
	NotificationID    string         `bun:"notification_id,notnull"`
	PeriodKey         string         `bun:"period_key,notnull"`
	DeliveryKey       string         `bun:"delivery_key,notnull,unique"`
	Status            string         `bun:"status,notnull"`
	UnsubscribeToken  string         `bun:"unsubscribe_token"`
	RenderedSubject   string         `bun:"rendered_subject"`
	RenderedHTML      string         `bun:"rendered_html"`
	RenderedText      string         `bun:"rendered_text"`
	ContentHash       string         `bun:"content_hash"`
	TemplateName      string         `bun:"template_name"`
	TemplateVersion   string         `bun:"template_version"`
	ToEmail           string         `bun:"to_email"`
	ProviderMessageID string         `bun:"provider_message_id"`
	LastError         string         `bun:"last_error"`
	AttemptCount      int            `bun:"attempt_count,notnull"`
	LastAttemptAt     *time.Time     `bun:"last_attempt_at,nullzero"`
	SentAt            *time.Time     `bun:"sent_at,nullzero"`
	Metadata          map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt         time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:notify_webhook_events,alias:nwe"`

	ID                string         `bun:"id,pk"`
	SvixID            string         `bun:"svix_id,notnull,unique"`
	Provider          string         `bun:"provider,notnull"`
	EventType         string         `bun:"event_type,notnull"`
	ProviderMessageID string         `bun:"provider_message_id"`
	Payload           map[string]any `bun:"payload,type:jsonb,notnull"`
	DeliveryID        *string        `bun:"delivery_id"`
	ProcessedAt       *time.Time     `bun:"processed_at,nullzero"`
	CreatedAt         time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type unsubscribeTokenRecord struct {
	bun.BaseModel `bun:"table:notify_unsubscribe_tokens,alias:nut"`

	Token          string     `bun:"token,pk"`
	UserID         string     `bun:"user_id,notnull"`
	NotificationID string     `bun:"notification_id,notnull"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt      time.Time  `bun:"expires_at,notnull"`
	UsedAt         *time.Time `bun:"used_at,nullzero"`
}

package sqlstore

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-notify/core"
)

func notificationRecordFromDomain(notification core.Notification) (*notificationRecord, error) {
	config, err := core.ConfigToMap(notification.Config)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode notification config: %w", err)
	}
	return &notificationRecord{
		ID:               strings.TrimSpace(notification.ID),
		UserID:           strings.TrimSpace(notification.UserID),
		NotificationType: string(notification.NotificationType),
		EntityCUI:        trimmedPtr(notification.EntityCUI),
		Config:           config,
		IsActive:         notification.IsActive,
		Hash:             notification.Hash,
		CreatedAt:        notification.CreatedAt.UTC(),
		UpdatedAt:        notification.UpdatedAt.UTC(),
	}, nil
}

func (r *notificationRecord) toDomain() (core.Notification, error) {
	if r == nil {
		return core.Notification{}, core.ErrNotFound
	}
	config, err := core.ConfigFromMap(r.Config)
	if err != nil {
		return core.Notification{}, fmt.Errorf("sqlstore: decode config for notification %s: %w", r.ID, err)
	}
	return core.Notification{
		ID:               r.ID,
		UserID:           r.UserID,
		NotificationType: core.NotificationType(r.NotificationType),
		EntityCUI:        derefString(r.EntityCUI),
		Config:           config,
		IsActive:         r.IsActive,
		Hash:             r.Hash,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func (r *deliveryRecord) toDomain() core.Delivery {
	if r == nil {
		return core.Delivery{}
	}
	return core.Delivery{
		ID:                r.ID,
		UserID:            r.UserID,
		NotificationID:    r.NotificationID,
		PeriodKey:         r.PeriodKey,
		DeliveryKey:       r.DeliveryKey,
		Status:            core.DeliveryStatus(r.Status),
		UnsubscribeToken:  r.UnsubscribeToken,
		RenderedSubject:   r.RenderedSubject,
		RenderedHTML:      r.RenderedHTML,
		RenderedText:      r.RenderedText,
		ContentHash:       r.ContentHash,
		TemplateName:      r.TemplateName,
		TemplateVersion:   r.TemplateVersion,
		ToEmail:           r.ToEmail,
		ProviderMessageID: r.ProviderMessageID,
		LastError:         r.LastError,
		AttemptCount:      r.AttemptCount,
		LastAttemptAt:     r.LastAttemptAt,
		SentAt:            r.SentAt,
		Metadata:          metadataFromMap(r.Metadata),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func metadataToMap(metadata core.DeliveryMetadata) map[string]any {
	out := map[string]any{}
	if metadata.RunID != "" {
		out["runId"] = metadata.RunID
	}
	if metadata.NotificationType != "" {
		out["notificationType"] = string(metadata.NotificationType)
	}
	if metadata.EntityCUI != "" {
		out["entityCui"] = metadata.EntityCUI
	}
	return out
}

func metadataFromMap(values map[string]any) core.DeliveryMetadata {
	text := func(key string) string {
		value, _ := values[key].(string)
		return value
	}
	return core.DeliveryMetadata{
		RunID:            text("runId"),
		NotificationType: core.NotificationType(text("notificationType")),
		EntityCUI:        text("entityCui"),
	}
}

func (r *webhookEventRecord) toDomain() core.WebhookEvent {
	if r == nil {
		return core.WebhookEvent{}
	}
	return core.WebhookEvent{
		ID:                r.ID,
		SvixID:            r.SvixID,
		Provider:          r.Provider,
		EventType:         r.EventType,
		ProviderMessageID: r.ProviderMessageID,
		Payload:           copyAnyMap(r.Payload),
		DeliveryID:        derefString(r.DeliveryID),
		ProcessedAt:       r.ProcessedAt,
		CreatedAt:         r.CreatedAt,
	}
}

func (r *unsubscribeTokenRecord) toDomain() core.UnsubscribeToken {
	if r == nil {
		return core.UnsubscribeToken{}
	}
	return core.UnsubscribeToken{
		Token:          r.Token,
		UserID:         r.UserID,
		NotificationID: r.NotificationID,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		UsedAt:         r.UsedAt,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

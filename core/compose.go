package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ComposeStage turns one compose job into a pending delivery plus a send
// job, or into a skip outcome. Only infrastructure failures are returned as
// errors so the queue can retry them.
type ComposeStage struct {
	Notifications      NotificationStore
	Ledger             DeliveryLedger
	Tokens             UnsubscribeTokenStore
	Fetcher            DataFetcher
	Renderer           Renderer
	Enqueuer           JobEnqueuer
	UnsubscribeBaseURL string
	TokenTTL           time.Duration
	Observer           Observer
}

func (s *ComposeStage) Handle(ctx context.Context, job ComposeJob) (outcome ComposeOutcome, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"run_id":          job.RunID,
		"notification_id": job.NotificationID,
		"period_key":      job.PeriodKey,
	}
	if err := s.validate(); err != nil {
		return "", err
	}
	defer func() {
		s.Observer.Observe(ctx, startedAt, "compose", string(outcome), err, fields)
	}()

	notification, err := s.Notifications.Get(ctx, job.NotificationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ComposeOutcomeSkippedNotFound, nil
		}
		return "", err
	}
	fields["user_id"] = notification.UserID
	fields["notification_type"] = string(notification.NotificationType)
	if !notification.IsActive {
		return ComposeOutcomeSkippedInactive, nil
	}

	deliveryKey := DeliveryKey(notification.UserID, notification.ID, job.PeriodKey)
	exists, err := s.Ledger.ExistsByKey(ctx, deliveryKey)
	if err != nil {
		return "", err
	}
	if exists {
		s.Observer.DuplicateSuppressed(ctx, "compose")
		return ComposeOutcomeSkippedDuplicate, nil
	}

	token, err := s.Tokens.GetOrCreateActive(ctx, notification.UserID, notification.ID, s.tokenTTL())
	if err != nil {
		return "", err
	}

	props, ok, err := s.buildProps(ctx, notification, job.PeriodKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return ComposeOutcomeSkippedNoData, nil
	}
	props.UnsubscribeURL = UnsubscribeURL(s.UnsubscribeBaseURL, token.Token)

	rendered, err := s.Renderer.Render(ctx, props)
	if err != nil {
		return "", err
	}

	delivery, err := s.Ledger.Create(ctx, CreateDeliveryInput{
		UserID:           notification.UserID,
		NotificationID:   notification.ID,
		PeriodKey:        job.PeriodKey,
		DeliveryKey:      deliveryKey,
		UnsubscribeToken: token.Token,
		RenderedSubject:  rendered.Subject,
		RenderedHTML:     rendered.HTML,
		RenderedText:     rendered.Text,
		ContentHash:      ContentHash(rendered.HTML, rendered.Text),
		TemplateName:     rendered.TemplateName,
		TemplateVersion:  rendered.TemplateVersion,
		Metadata: DeliveryMetadata{
			RunID:            job.RunID,
			NotificationType: notification.NotificationType,
			EntityCUI:        notification.EntityCUI,
		},
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			s.Observer.DuplicateSuppressed(ctx, "compose")
			return ComposeOutcomeSkippedDuplicate, nil
		}
		return "", err
	}
	fields["delivery_id"] = delivery.ID

	if err := s.Enqueuer.Enqueue(ctx, SendJob{DeliveryID: delivery.ID}.Message()); err != nil {
		return "", err
	}
	return ComposeOutcomeComposed, nil
}

// buildProps runs the type specific fetcher. ok is false when there is
// nothing to send this period.
func (s *ComposeStage) buildProps(ctx context.Context, notification Notification, periodKey string) (RenderProps, bool, error) {
	props := RenderProps{
		TemplateName:     string(notification.NotificationType),
		NotificationType: notification.NotificationType,
		EntityCUI:        notification.EntityCUI,
		PeriodKey:        periodKey,
	}

	if notification.NotificationType.IsNewsletter() {
		data, err := s.Fetcher.FetchNewsletterData(ctx, notification.EntityCUI, periodKey, notification.NotificationType.PeriodType())
		if err != nil {
			if errors.Is(err, ErrDataUnavailable) {
				return RenderProps{}, false, nil
			}
			return RenderProps{}, false, err
		}
		props.Newsletter = &data
		return props, true, nil
	}

	if notification.Config == nil {
		return RenderProps{}, false, nil
	}
	data, err := s.Fetcher.FetchAlertData(ctx, notification.Config, periodKey)
	if err != nil {
		if errors.Is(err, ErrDataUnavailable) {
			return RenderProps{}, false, nil
		}
		return RenderProps{}, false, err
	}
	if data == nil {
		return RenderProps{}, false, nil
	}
	props.Alert = data
	return props, true, nil
}

func (s *ComposeStage) tokenTTL() time.Duration {
	if s.TokenTTL > 0 {
		return s.TokenTTL
	}
	return DefaultConfig().Pipeline.TokenTTL
}

func (s *ComposeStage) validate() error {
	switch {
	case s == nil:
		return dependencyError("core: compose stage is nil")
	case s.Notifications == nil:
		return dependencyError("core: compose stage requires a notification store")
	case s.Ledger == nil:
		return dependencyError("core: compose stage requires a delivery ledger")
	case s.Tokens == nil:
		return dependencyError("core: compose stage requires an unsubscribe token store")
	case s.Fetcher == nil:
		return dependencyError("core: compose stage requires a data fetcher")
	case s.Renderer == nil:
		return dependencyError("core: compose stage requires a renderer")
	case s.Enqueuer == nil:
		return dependencyError("core: compose stage requires a job enqueuer")
	}
	return nil
}

func UnsubscribeURL(baseURL string, token string) string {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		return ""
	}
	if !strings.HasSuffix(base, "/") && !strings.HasSuffix(base, "=") {
		base += "/"
	}
	return base + token
}

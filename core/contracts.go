package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// NotificationStore persists subscriptions. Lookups return ErrNotFound when
// no row matches.
type NotificationStore interface {
	Get(ctx context.Context, id string) (Notification, error)
	Create(ctx context.Context, notification Notification) (Notification, error)
	FindNewsletter(ctx context.Context, userID string, notificationType NotificationType, entityCUI string) (Notification, error)
	FindByHash(ctx context.Context, userID string, hash string) (Notification, error)
	Update(ctx context.Context, notification Notification) (Notification, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// DeliveryLedger is the source of truth for dedup and delivery status.
type DeliveryLedger interface {
	// Create inserts a pending delivery and returns ErrDuplicate when the
	// delivery key already exists.
	Create(ctx context.Context, in CreateDeliveryInput) (Delivery, error)
	Get(ctx context.Context, id string) (Delivery, error)
	ExistsByKey(ctx context.Context, deliveryKey string) (bool, error)
	// Claim moves a pending or failed_transient delivery to sending in a
	// single conditional update. The bool is false when nothing matched.
	Claim(ctx context.Context, id string, now time.Time) (Delivery, bool, error)
	// Transition applies update when the current status is one of from. An
	// empty from list applies it unconditionally.
	Transition(ctx context.Context, id string, update DeliveryUpdate, from ...DeliveryStatus) (bool, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Delivery, error)
}

type WebhookEventLog interface {
	// Record inserts the event. The bool is true when the svix id was
	// already logged.
	Record(ctx context.Context, event WebhookEvent) (WebhookEvent, bool, error)
	MarkProcessed(ctx context.Context, svixID string, deliveryID string, at time.Time) error
}

type UnsubscribeTokenStore interface {
	GetOrCreateActive(ctx context.Context, userID string, notificationID string, ttl time.Duration) (UnsubscribeToken, error)
	Get(ctx context.Context, token string) (UnsubscribeToken, error)
	MarkUsed(ctx context.Context, token string, at time.Time) (bool, error)
}

// StoreProvider bundles the persistence side of the pipeline.
type StoreProvider interface {
	NotificationStore() NotificationStore
	DeliveryLedger() DeliveryLedger
	WebhookEventLog() WebhookEventLog
	UnsubscribeTokenStore() UnsubscribeTokenStore
	EligibilityFinder() EligibilityFinder
}

type EligibilityFinder interface {
	FindEligible(ctx context.Context, notificationType NotificationType, periodKey string, limit int) ([]string, error)
}

type EligibilityFinderFunc func(ctx context.Context, notificationType NotificationType, periodKey string, limit int) ([]string, error)

func (f EligibilityFinderFunc) FindEligible(
	ctx context.Context,
	notificationType NotificationType,
	periodKey string,
	limit int,
) ([]string, error) {
	return f(ctx, notificationType, periodKey, limit)
}

type NewsletterData struct {
	EntityCUI  string
	EntityName string
	PeriodKey  string
	PeriodType PeriodType
	Values     map[string]any
}

type AlertData struct {
	Title     string
	Value     float64
	Triggered []Condition
	Values    map[string]any
}

// DataFetcher loads the domain data a notification is rendered from.
// FetchNewsletterData returns ErrDataUnavailable when the period has no data;
// FetchAlertData returns nil when no condition fired.
type DataFetcher interface {
	FetchNewsletterData(ctx context.Context, entityCUI string, periodKey string, periodType PeriodType) (NewsletterData, error)
	FetchAlertData(ctx context.Context, cfg NotificationConfig, periodKey string) (*AlertData, error)
}

type RenderProps struct {
	TemplateName     string
	NotificationType NotificationType
	EntityCUI        string
	PeriodKey        string
	UnsubscribeURL   string
	Newsletter       *NewsletterData
	Alert            *AlertData
}

type RenderedEmail struct {
	Subject         string
	HTML            string
	Text            string
	TemplateName    string
	TemplateVersion string
}

type Renderer interface {
	Render(ctx context.Context, props RenderProps) (RenderedEmail, error)
}

type EmailMessage struct {
	To             string
	Subject        string
	HTML           string
	Text           string
	IdempotencyKey string
	UnsubscribeURL string
	Tags           map[string]string
}

type SendReceipt struct {
	MessageID string
}

type EmailProvider interface {
	Send(ctx context.Context, msg EmailMessage) (SendReceipt, error)
}

// EmailLookup resolves a user's address. An empty string means the user has
// no deliverable address.
type EmailLookup interface {
	GetEmail(ctx context.Context, userID string) (string, error)
}

type RateLimiter interface {
	Wait(ctx context.Context) error
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

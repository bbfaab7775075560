package core

import (
	"strings"
	"time"
)

type NotificationType string

const (
	NotificationNewsletterMonthly   NotificationType = "newsletter_entity_monthly"
	NotificationNewsletterQuarterly NotificationType = "newsletter_entity_quarterly"
	NotificationNewsletterYearly    NotificationType = "newsletter_entity_yearly"
	NotificationAlertAnalytics      NotificationType = "alert_series_analytics"
	NotificationAlertStatic         NotificationType = "alert_series_static"
)

var notificationTypes = []NotificationType{
	NotificationNewsletterMonthly,
	NotificationNewsletterQuarterly,
	NotificationNewsletterYearly,
	NotificationAlertAnalytics,
	NotificationAlertStatic,
}

func NotificationTypes() []NotificationType {
	return append([]NotificationType(nil), notificationTypes...)
}

func ParseNotificationType(value string) (NotificationType, error) {
	normalized := NotificationType(strings.TrimSpace(strings.ToLower(value)))
	for _, known := range notificationTypes {
		if known == normalized {
			return known, nil
		}
	}
	return "", validationError("notification_type", "unknown notification type "+strings.TrimSpace(value))
}

func (t NotificationType) IsNewsletter() bool {
	switch t {
	case NotificationNewsletterMonthly, NotificationNewsletterQuarterly, NotificationNewsletterYearly:
		return true
	default:
		return false
	}
}

func (t NotificationType) IsAlert() bool {
	return t == NotificationAlertAnalytics || t == NotificationAlertStatic
}

// PeriodType reports the cadence a notification type is sent at. Alerts are
// evaluated monthly.
func (t NotificationType) PeriodType() PeriodType {
	switch t {
	case NotificationNewsletterQuarterly:
		return PeriodQuarter
	case NotificationNewsletterYearly:
		return PeriodYear
	default:
		return PeriodMonth
	}
}

type PeriodType string

const (
	PeriodMonth   PeriodType = "month"
	PeriodQuarter PeriodType = "quarter"
	PeriodYear    PeriodType = "year"
)

type Notification struct {
	ID               string
	UserID           string
	NotificationType NotificationType
	EntityCUI        string
	Config           NotificationConfig
	IsActive         bool
	Hash             string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type DeliveryStatus string

const (
	DeliveryStatusPending         DeliveryStatus = "pending"
	DeliveryStatusSending         DeliveryStatus = "sending"
	DeliveryStatusSent            DeliveryStatus = "sent"
	DeliveryStatusDelivered       DeliveryStatus = "delivered"
	DeliveryStatusFailedTransient DeliveryStatus = "failed_transient"
	DeliveryStatusFailedPermanent DeliveryStatus = "failed_permanent"
	DeliveryStatusSuppressed      DeliveryStatus = "suppressed"
	DeliveryStatusSkippedNoEmail  DeliveryStatus = "skipped_no_email"
)

// ClaimableStatuses are the statuses a send worker may move to sending.
var ClaimableStatuses = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusFailedTransient,
}

// NonTerminalStatuses are the statuses a complaint or suppression event may
// still override.
var NonTerminalStatuses = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusSending,
	DeliveryStatusSent,
	DeliveryStatusFailedTransient,
}

func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliveryStatusDelivered,
		DeliveryStatusFailedPermanent,
		DeliveryStatusSuppressed,
		DeliveryStatusSkippedNoEmail:
		return true
	default:
		return false
	}
}

type DeliveryMetadata struct {
	RunID            string           `json:"runId,omitempty"`
	NotificationType NotificationType `json:"notificationType,omitempty"`
	EntityCUI        string           `json:"entityCui,omitempty"`
}

type Delivery struct {
	ID                string
	UserID            string
	NotificationID    string
	PeriodKey         string
	DeliveryKey       string
	Status            DeliveryStatus
	UnsubscribeToken  string
	RenderedSubject   string
	RenderedHTML      string
	RenderedText      string
	ContentHash       string
	TemplateName      string
	TemplateVersion   string
	ToEmail           string
	ProviderMessageID string
	LastError         string
	AttemptCount      int
	LastAttemptAt     *time.Time
	SentAt            *time.Time
	Metadata          DeliveryMetadata
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasRenderedContent reports whether the delivery carries everything the
// provider call needs.
func (d Delivery) HasRenderedContent() bool {
	return strings.TrimSpace(d.RenderedSubject) != "" &&
		strings.TrimSpace(d.RenderedHTML) != "" &&
		strings.TrimSpace(d.RenderedText) != ""
}

type CreateDeliveryInput struct {
	UserID           string
	NotificationID   string
	PeriodKey        string
	DeliveryKey      string
	UnsubscribeToken string
	RenderedSubject  string
	RenderedHTML     string
	RenderedText     string
	ContentHash      string
	TemplateName     string
	TemplateVersion  string
	Metadata         DeliveryMetadata
}

// DeliveryUpdate carries the columns a status transition may set. Zero values
// are left untouched.
type DeliveryUpdate struct {
	Status            DeliveryStatus
	ToEmail           string
	ProviderMessageID string
	LastError         string
	SentAt            *time.Time
}

type WebhookEvent struct {
	ID                string
	SvixID            string
	Provider          string
	EventType         string
	ProviderMessageID string
	Payload           map[string]any
	DeliveryID        string
	ProcessedAt       *time.Time
	CreatedAt         time.Time
}

type UnsubscribeToken struct {
	Token          string
	UserID         string
	NotificationID string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	UsedAt         *time.Time
}

func (t UnsubscribeToken) ActiveAt(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

type ComposeOutcome string

const (
	ComposeOutcomeComposed         ComposeOutcome = "composed"
	ComposeOutcomeSkippedNotFound  ComposeOutcome = "skipped_not_found"
	ComposeOutcomeSkippedInactive  ComposeOutcome = "skipped_inactive"
	ComposeOutcomeSkippedDuplicate ComposeOutcome = "skipped_duplicate"
	ComposeOutcomeSkippedNoData    ComposeOutcome = "skipped_no_data"
)

type SendOutcome string

const (
	SendOutcomeSent                  SendOutcome = "sent"
	SendOutcomeSkippedAlreadyClaimed SendOutcome = "skipped_already_claimed"
	SendOutcomeSkippedNoEmail        SendOutcome = "skipped_no_email"
	SendOutcomeFailedTransient       SendOutcome = "failed_transient"
	SendOutcomeFailedPermanent       SendOutcome = "failed_permanent"
)

type CollectResult struct {
	RunID       string
	ComposeJobs int
	Duplicates  int
}

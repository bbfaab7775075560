package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now.UTC()}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequenceIDs(prefix string) func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s_%d", prefix, next)
	}
}

type memoryNotificationStore struct {
	mu   sync.Mutex
	byID map[string]Notification
}

func newMemoryNotificationStore(items ...Notification) *memoryNotificationStore {
	store := &memoryNotificationStore{byID: map[string]Notification{}}
	for _, item := range items {
		store.byID[item.ID] = item
	}
	return store
}

func (s *memoryNotificationStore) Get(_ context.Context, id string) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.byID[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	return item, nil
}

func (s *memoryNotificationStore) Create(_ context.Context, notification Notification) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[notification.ID]; ok {
		return Notification{}, ErrDuplicate
	}
	s.byID[notification.ID] = notification
	return notification, nil
}

func (s *memoryNotificationStore) FindNewsletter(
	_ context.Context,
	userID string,
	notificationType NotificationType,
	entityCUI string,
) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.byID {
		if item.UserID == userID && item.NotificationType == notificationType && item.EntityCUI == entityCUI {
			return item, nil
		}
	}
	return Notification{}, ErrNotFound
}

func (s *memoryNotificationStore) FindByHash(_ context.Context, userID string, hash string) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.byID {
		if item.UserID == userID && item.Hash == hash {
			return item, nil
		}
	}
	return Notification{}, ErrNotFound
}

func (s *memoryNotificationStore) Update(_ context.Context, notification Notification) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[notification.ID]; !ok {
		return Notification{}, ErrNotFound
	}
	s.byID[notification.ID] = notification
	return notification, nil
}

func (s *memoryNotificationStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	item.IsActive = active
	s.byID[id] = item
	return nil
}

func (s *memoryNotificationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

type memoryLedger struct {
	mu     sync.Mutex
	next   int
	byID   map[string]Delivery
	byKey  map[string]string
	claims int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{byID: map[string]Delivery{}, byKey: map[string]string{}}
}

func (l *memoryLedger) Create(_ context.Context, in CreateDeliveryInput) (Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byKey[in.DeliveryKey]; ok {
		return Delivery{}, ErrDuplicate
	}
	l.next++
	delivery := Delivery{
		ID:               fmt.Sprintf("dlv_%d", l.next),
		UserID:           in.UserID,
		NotificationID:   in.NotificationID,
		PeriodKey:        in.PeriodKey,
		DeliveryKey:      in.DeliveryKey,
		Status:           DeliveryStatusPending,
		UnsubscribeToken: in.UnsubscribeToken,
		RenderedSubject:  in.RenderedSubject,
		RenderedHTML:     in.RenderedHTML,
		RenderedText:     in.RenderedText,
		ContentHash:      in.ContentHash,
		TemplateName:     in.TemplateName,
		TemplateVersion:  in.TemplateVersion,
		Metadata:         in.Metadata,
		CreatedAt:        time.Now().UTC(),
	}
	l.byID[delivery.ID] = delivery
	l.byKey[delivery.DeliveryKey] = delivery.ID
	return delivery, nil
}

func (l *memoryLedger) put(delivery Delivery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[delivery.ID] = delivery
	l.byKey[delivery.DeliveryKey] = delivery.ID
}

func (l *memoryLedger) Get(_ context.Context, id string) (Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delivery, ok := l.byID[id]
	if !ok {
		return Delivery{}, ErrNotFound
	}
	return delivery, nil
}

func (l *memoryLedger) ExistsByKey(_ context.Context, deliveryKey string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byKey[deliveryKey]
	return ok, nil
}

func (l *memoryLedger) Claim(_ context.Context, id string, now time.Time) (Delivery, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delivery, ok := l.byID[id]
	if !ok {
		return Delivery{}, false, nil
	}
	if delivery.Status != DeliveryStatusPending && delivery.Status != DeliveryStatusFailedTransient {
		return Delivery{}, false, nil
	}
	delivery.Status = DeliveryStatusSending
	delivery.AttemptCount++
	delivery.LastAttemptAt = &now
	l.byID[id] = delivery
	l.claims++
	return delivery, true, nil
}

func (l *memoryLedger) Transition(_ context.Context, id string, update DeliveryUpdate, from ...DeliveryStatus) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delivery, ok := l.byID[id]
	if !ok {
		return false, nil
	}
	if len(from) > 0 {
		allowed := false
		for _, status := range from {
			if delivery.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, nil
		}
	}
	if update.Status != "" {
		delivery.Status = update.Status
	}
	if update.ToEmail != "" {
		delivery.ToEmail = update.ToEmail
	}
	if update.ProviderMessageID != "" {
		delivery.ProviderMessageID = update.ProviderMessageID
	}
	if update.LastError != "" {
		delivery.LastError = update.LastError
	}
	if update.SentAt != nil {
		delivery.SentAt = update.SentAt
	}
	l.byID[id] = delivery
	return true, nil
}

func (l *memoryLedger) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []Delivery{}
	for _, delivery := range l.byID {
		if delivery.Status == DeliveryStatusPending && delivery.CreatedAt.Before(before) {
			out = append(out, delivery)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (l *memoryLedger) all() []Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Delivery, 0, len(l.byID))
	for _, delivery := range l.byID {
		out = append(out, delivery)
	}
	return out
}

type memoryTokenStore struct {
	mu      sync.Mutex
	next    int
	byToken map[string]UnsubscribeToken
	now     func() time.Time
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{byToken: map[string]UnsubscribeToken{}, now: func() time.Time { return time.Now().UTC() }}
}

func (s *memoryTokenStore) GetOrCreateActive(_ context.Context, userID string, notificationID string, ttl time.Duration) (UnsubscribeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, token := range s.byToken {
		if token.UserID == userID && token.NotificationID == notificationID && token.ActiveAt(now) {
			return token, nil
		}
	}
	s.next++
	token := UnsubscribeToken{
		Token:          fmt.Sprintf("tok_%d", s.next),
		UserID:         userID,
		NotificationID: notificationID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	s.byToken[token.Token] = token
	return token, nil
}

func (s *memoryTokenStore) Get(_ context.Context, token string) (UnsubscribeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byToken[token]
	if !ok {
		return UnsubscribeToken{}, ErrNotFound
	}
	return record, nil
}

func (s *memoryTokenStore) MarkUsed(_ context.Context, token string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byToken[token]
	if !ok {
		return false, ErrNotFound
	}
	if record.UsedAt != nil {
		return false, nil
	}
	record.UsedAt = &at
	s.byToken[token] = record
	return true, nil
}

// recordingQueue collapses messages sharing an idempotency key the way the
// queue transport does.
type recordingQueue struct {
	mu       sync.Mutex
	messages []*JobExecutionMessage
	keys     map[string]struct{}
	err      error
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{keys: map[string]struct{}{}}
}

func (q *recordingQueue) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		if _, ok := q.keys[key]; ok {
			return nil
		}
		q.keys[key] = struct{}{}
	}
	q.messages = append(q.messages, msg)
	return nil
}

func (q *recordingQueue) byJob(jobID string) []*JobExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []*JobExecutionMessage{}
	for _, msg := range q.messages {
		if msg.JobID == jobID {
			out = append(out, msg)
		}
	}
	return out
}

// drain pops every queued message in FIFO order.
func (q *recordingQueue) drain() []*JobExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.messages
	q.messages = nil
	return out
}

type stubFetcher struct {
	newsletter    NewsletterData
	newsletterErr error
	alert         *AlertData
	alertErr      error
	calls         int
}

func (f *stubFetcher) FetchNewsletterData(_ context.Context, entityCUI string, periodKey string, periodType PeriodType) (NewsletterData, error) {
	f.calls++
	if f.newsletterErr != nil {
		return NewsletterData{}, f.newsletterErr
	}
	data := f.newsletter
	data.EntityCUI = entityCUI
	data.PeriodKey = periodKey
	data.PeriodType = periodType
	return data, nil
}

func (f *stubFetcher) FetchAlertData(context.Context, NotificationConfig, string) (*AlertData, error) {
	f.calls++
	return f.alert, f.alertErr
}

type stubRenderer struct {
	err   error
	props []RenderProps
}

func (r *stubRenderer) Render(_ context.Context, props RenderProps) (RenderedEmail, error) {
	r.props = append(r.props, props)
	if r.err != nil {
		return RenderedEmail{}, r.err
	}
	return RenderedEmail{
		Subject:         "Report " + props.PeriodKey,
		HTML:            "<p>" + props.EntityCUI + "</p><a href=\"" + props.UnsubscribeURL + "\">unsubscribe</a>",
		Text:            props.EntityCUI + " " + props.UnsubscribeURL,
		TemplateName:    props.TemplateName,
		TemplateVersion: "v1",
	}, nil
}

type stubEmailProvider struct {
	mu       sync.Mutex
	errs     []error
	messages []EmailMessage
}

func (p *stubEmailProvider) Send(_ context.Context, msg EmailMessage) (SendReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return SendReceipt{}, err
		}
	}
	return SendReceipt{MessageID: fmt.Sprintf("msg_%d", len(p.messages))}, nil
}

func (p *stubEmailProvider) sent() []EmailMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]EmailMessage(nil), p.messages...)
}

type stubEmailLookup map[string]string

func (l stubEmailLookup) GetEmail(_ context.Context, userID string) (string, error) {
	return l[userID], nil
}

type errEmailLookup struct {
	err error
}

func (l errEmailLookup) GetEmail(context.Context, string) (string, error) {
	return "", l.err
}

func newsletter(id string, userID string) Notification {
	return Notification{
		ID:               id,
		UserID:           userID,
		NotificationType: NotificationNewsletterMonthly,
		EntityCUI:        "RO123",
		IsActive:         true,
	}
}

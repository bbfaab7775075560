package notify_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	notify "github.com/goliatone/go-notify"
	"github.com/goliatone/go-notify/adapters/gocommand"
	notifycommand "github.com/goliatone/go-notify/command"
	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/inbound"
	notifymigrations "github.com/goliatone/go-notify/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type sqliteConfig struct {
	dsn string
}

func (sqliteConfig) GetDebug() bool { return false }
func (sqliteConfig) GetDriver() string { return "sqlite3" }
func (c sqliteConfig) GetServer() string { return c.dsn }
func (sqliteConfig) GetPingTimeout() time.Duration { return time.Second }
func (sqliteConfig) GetOtelIdentifier() string { return "" }

func newMigratedClient(t *testing.T) *persistence.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:notify-runtime-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	client, err := persistence.New(sqliteConfig{dsn: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if _, err := notifymigrations.Register(ctx,
		notifymigrations.ForDialect(notifymigrations.DialectSQLite, func(fsys fs.FS) {
			client.RegisterSQLMigrations(fsys)
		}),
		notifymigrations.WithValidationTargets(notifymigrations.DialectSQLite),
	); err != nil {
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}

type stubFetcher struct{}

func (stubFetcher) FetchNewsletterData(_ context.Context, entityCUI string, periodKey string, periodType core.PeriodType) (core.NewsletterData, error) {
	return core.NewsletterData{EntityCUI: entityCUI, EntityName: "Entity " + entityCUI, PeriodKey: periodKey, PeriodType: periodType}, nil
}

func (stubFetcher) FetchAlertData(context.Context, core.NotificationConfig, string) (*core.AlertData, error) {
	return nil, nil
}

type stubRenderer struct{}

func (stubRenderer) Render(_ context.Context, props core.RenderProps) (core.RenderedEmail, error) {
	return core.RenderedEmail{
		Subject:         "Report " + props.PeriodKey,
		HTML:            "<p>" + props.EntityCUI + "</p>",
		Text:            props.EntityCUI,
		TemplateName:    props.TemplateName,
		TemplateVersion: "v1",
	}, nil
}

type recordingProvider struct {
	mu    sync.Mutex
	calls []core.EmailMessage
}

func (p *recordingProvider) Send(_ context.Context, msg core.EmailMessage) (core.SendReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, msg)
	return core.SendReceipt{MessageID: "em_" + msg.IdempotencyKey}, nil
}

func (p *recordingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type staticEmails map[string]string

func (m staticEmails) GetEmail(_ context.Context, userID string) (string, error) {
	return m[userID], nil
}

type jobCounter struct {
	succeeded atomic.Int64
}

func (*jobCounter) OnStart(context.Context, core.JobWorkerEvent) {}

func (c *jobCounter) OnSuccess(context.Context, core.JobWorkerEvent) {
	c.succeeded.Add(1)
}

func (*jobCounter) OnFailure(context.Context, core.JobWorkerEvent) {}

func (*jobCounter) OnRetry(context.Context, core.JobWorkerEvent) {}

func newRuntime(t *testing.T, provider core.EmailProvider, hook core.JobWorkerHook) *notify.Runtime {
	t.Helper()
	client := newMigratedClient(t)
	cfg := notify.DefaultConfig()
	cfg.Trigger.APIKey = "secret"
	cfg.Webhook.SigningSecret = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"
	cfg.Pipeline.UnsubscribeBaseURL = "https://example.com/unsubscribe"
	cfg.Pipeline.FromAddress = "reports@example.com"

	rt, err := notify.New(cfg, notify.Dependencies{
		DB:         client.DB(),
		Fetcher:    stubFetcher{},
		Renderer:   stubRenderer{},
		Emails:     staticEmails{"u1": "u1@example.com"},
		Provider:   provider,
		Registerer: prometheus.NewRegistry(),
		Hook:       hook,
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestNew_RequiresDatabase(t *testing.T) {
	if _, err := notify.New(notify.DefaultConfig(), notify.Dependencies{}); err == nil {
		t.Fatalf("expected an error without a database handle")
	}
}

func TestRuntime_MountsWebhookRouteOnlyWithSecret(t *testing.T) {
	rt := newRuntime(t, &recordingProvider{}, nil)
	if rt.Reconciler == nil || rt.Server.Webhooks == nil {
		t.Fatalf("expected the reconciler to be wired when a signing secret is set")
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/resend", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unsigned webhook to be rejected with 400, got %d", rec.Code)
	}
}

func TestRuntime_TriggerDeliversThroughWorkerPools(t *testing.T) {
	provider := &recordingProvider{}
	hook := &jobCounter{}
	rt := newRuntime(t, provider, hook)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := rt.Pipeline.Notifications.Subscribe(ctx, core.SubscribeInput{
		UserID:           "u1",
		NotificationType: core.NotificationNewsletterMonthly,
		EntityCUI:        "RO1",
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	body, _ := json.Marshal(core.TriggerRequest{
		NotificationType: string(core.NotificationNewsletterMonthly),
		PeriodKey:        "2025-01",
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/notifications/trigger", bytes.NewReader(body))
	req.Header.Set(inbound.APIKeyHeader, "secret")
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for (provider.count() == 0 || hook.succeeded.Load() < 3) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if provider.count() != 1 {
		t.Fatalf("expected exactly one email, got %d", provider.count())
	}

	if got := hook.succeeded.Load(); got != 3 {
		t.Fatalf("expected collect, compose and send to succeed once each, got %d", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("runtime did not stop after cancel")
	}

	rec = httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !bytes.Contains(rec.Body.Bytes(), []byte("notify_")) {
		t.Fatalf("expected notify metrics to be exposed")
	}
}

func TestRuntime_RegisterCommandsDispatchesTrigger(t *testing.T) {
	rt := newRuntime(t, &recordingProvider{}, nil)
	adapter, err := rt.RegisterCommands(nil)
	if err != nil {
		t.Fatalf("register commands: %v", err)
	}
	again, err := rt.RegisterCommands(nil)
	if err != nil || again != adapter {
		t.Fatalf("expected registration to be idempotent, got %v", err)
	}

	result, ok, err := gocommand.DispatchResult[notifycommand.TriggerMessage, core.TriggerResult](
		context.Background(),
		notifycommand.TriggerMessage{Request: core.TriggerRequest{
			NotificationType: string(core.NotificationNewsletterQuarterly),
			PeriodKey:        "2025-Q1",
			DryRun:           true,
		}},
	)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !ok || !result.DryRun || result.CollectJobEnqueued {
		t.Fatalf("unexpected dry run result %#v (ok=%v)", result, ok)
	}
	if rt.Queues.Collect.Len() != 0 {
		t.Fatalf("dry run must not enqueue")
	}
}

package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/webhooks"
)

type stubWebhooks struct {
	result webhooks.Result
	err    error
	got    webhooks.Request
}

func (s *stubWebhooks) Handle(_ context.Context, req webhooks.Request) (webhooks.Result, error) {
	s.got = req
	return s.result, s.err
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	messages []*core.JobExecutionMessage
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
	return nil
}

type stubUnsubscriber struct {
	notifications map[string]core.Notification
	expired       map[string]bool
}

func (s stubUnsubscriber) Unsubscribe(_ context.Context, token string) (core.Notification, error) {
	if s.expired[token] {
		return core.Notification{}, core.ErrTokenExpired
	}
	notification, ok := s.notifications[token]
	if !ok {
		return core.Notification{}, fmt.Errorf("sqlstore: token %q: %w", token, core.ErrNotFound)
	}
	return notification, nil
}

type triggerFixture struct {
	server   *httptest.Server
	enqueuer *recordingEnqueuer
}

func newTriggerFixture(t *testing.T, eligible []string) triggerFixture {
	t.Helper()
	enqueuer := &recordingEnqueuer{}
	runs := 0
	service := &core.TriggerService{
		Eligibility: core.EligibilityFinderFunc(func(context.Context, core.NotificationType, string, int) ([]string, error) {
			return eligible, nil
		}),
		Enqueuer: enqueuer,
		NewID: func() string {
			runs++
			return fmt.Sprintf("run_%d", runs)
		},
	}
	server := &Server{Trigger: service, APIKey: "secret-key"}
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return triggerFixture{server: ts, enqueuer: enqueuer}
}

func postJSON(t *testing.T, url string, apiKey string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func errorTextCode(t *testing.T, body map[string]any) string {
	t.Helper()
	envelope, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got %#v", body)
	}
	code, _ := envelope["text_code"].(string)
	return code
}

func TestTrigger_RejectsMissingOrWrongKey(t *testing.T) {
	fixture := newTriggerFixture(t, []string{"n1"})
	url := fixture.server.URL + "/admin/notifications/trigger"
	body := `{"notificationType":"newsletter_entity_monthly","periodKey":"2025-01"}`

	for name, key := range map[string]string{"missing": "", "wrong": "secret-kez"} {
		resp := postJSON(t, url, key, body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, resp.StatusCode)
		}
		if code := errorTextCode(t, decodeBody(t, resp)); code != core.ErrorUnauthorized {
			t.Fatalf("%s: expected %s, got %q", name, core.ErrorUnauthorized, code)
		}
	}
	if len(fixture.enqueuer.messages) != 0 {
		t.Fatalf("expected no jobs for unauthorized requests")
	}
}

func TestTrigger_RejectsBadBody(t *testing.T) {
	fixture := newTriggerFixture(t, nil)
	url := fixture.server.URL + "/admin/notifications/trigger"

	for name, body := range map[string]string{
		"empty":        "",
		"malformed":    "{not json",
		"unknown type": `{"notificationType":"weekly_digest"}`,
		"wrong period": `{"notificationType":"newsletter_entity_monthly","periodKey":"2025"}`,
	} {
		resp := postJSON(t, url, "secret-key", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestTrigger_EnqueuesOneCollectJob(t *testing.T) {
	fixture := newTriggerFixture(t, []string{"n1", "n2"})
	resp := postJSON(t, fixture.server.URL+"/admin/notifications/trigger", "secret-key",
		`{"notificationType":"newsletter_entity_monthly","periodKey":"2025-01"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["runId"] != "run_1" || body["eligibleCount"] != float64(2) || body["collectJobEnqueued"] != true || body["dryRun"] != false {
		t.Fatalf("unexpected trigger response %#v", body)
	}
	if len(fixture.enqueuer.messages) != 1 {
		t.Fatalf("expected one collect job, got %d", len(fixture.enqueuer.messages))
	}
	msg := fixture.enqueuer.messages[0]
	if msg.JobID != core.JobIDCollect || msg.IdempotencyKey != "newsletter_entity_monthly:2025-01" {
		t.Fatalf("unexpected collect job %#v", msg)
	}
}

func TestTrigger_DryRunCountsWithoutEnqueueing(t *testing.T) {
	fixture := newTriggerFixture(t, []string{"n1", "n2", "n3"})
	resp := postJSON(t, fixture.server.URL+"/admin/notifications/trigger", "secret-key",
		`{"notificationType":"newsletter_entity_monthly","periodKey":"2025-01","dryRun":true}`)
	body := decodeBody(t, resp)
	if body["eligibleCount"] != float64(3) || body["collectJobEnqueued"] != false || body["dryRun"] != true {
		t.Fatalf("unexpected dry run response %#v", body)
	}
	if len(fixture.enqueuer.messages) != 0 {
		t.Fatalf("expected no jobs on dry run")
	}
}

func TestTrigger_ForceUsesRunScopedKey(t *testing.T) {
	fixture := newTriggerFixture(t, []string{"n1"})
	url := fixture.server.URL + "/admin/notifications/trigger"
	body := `{"notificationType":"newsletter_entity_monthly","periodKey":"2025-01","force":true}`
	postJSON(t, url, "secret-key", body)
	postJSON(t, url, "secret-key", body)

	if len(fixture.enqueuer.messages) != 2 {
		t.Fatalf("expected two collect jobs, got %d", len(fixture.enqueuer.messages))
	}
	first, second := fixture.enqueuer.messages[0].IdempotencyKey, fixture.enqueuer.messages[1].IdempotencyKey
	if first == second {
		t.Fatalf("expected forced runs to use distinct keys, got %q twice", first)
	}
	if first != "newsletter_entity_monthly:2025-01:run_1" {
		t.Fatalf("unexpected forced key %q", first)
	}
}

func TestWebhook_PassesRequestAndRendersStatus(t *testing.T) {
	stub := &stubWebhooks{result: webhooks.Result{StatusCode: http.StatusOK, Status: webhooks.StatusAlreadyProcessed}}
	ts := httptest.NewServer((&Server{Webhooks: stub}).Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/webhooks/resend", strings.NewReader(`{"type":"email.sent"}`))
	req.Header.Set("Svix-Id", "msg_1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != webhooks.StatusAlreadyProcessed {
		t.Fatalf("unexpected body %#v", body)
	}
	if stub.got.Provider != "resend" || stub.got.Headers["svix-id"] != "msg_1" || string(stub.got.Body) != `{"type":"email.sent"}` {
		t.Fatalf("unexpected request passed to reconciler %#v", stub.got)
	}
}

func TestWebhook_ErrorKeepsReconcilerStatus(t *testing.T) {
	cases := map[string]struct {
		result webhooks.Result
		err    error
		status int
		code   string
	}{
		"signature": {
			result: webhooks.Result{StatusCode: http.StatusUnauthorized},
			err:    core.SignatureInvalidError("webhooks: signature verification failed"),
			status: http.StatusUnauthorized,
			code:   core.ErrorSignatureInvalid,
		},
		"storage": {
			result: webhooks.Result{StatusCode: http.StatusInternalServerError},
			err:    errors.New("sqlstore: record webhook event: connection refused"),
			status: http.StatusInternalServerError,
		},
	}
	for name, tc := range cases {
		ts := httptest.NewServer((&Server{Webhooks: &stubWebhooks{result: tc.result, err: tc.err}}).Router())
		resp := postJSON(t, ts.URL+"/webhooks/resend", "", `{}`)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", name, tc.status, resp.StatusCode)
		}
		code := errorTextCode(t, decodeBody(t, resp))
		if tc.code != "" && code != tc.code {
			t.Fatalf("%s: expected %s, got %q", name, tc.code, code)
		}
		ts.Close()
	}
}

func TestUnsubscribe_KnownUnknownAndExpired(t *testing.T) {
	server := &Server{Unsubscribe: stubUnsubscriber{
		notifications: map[string]core.Notification{"tok_ok": {ID: "n1"}},
		expired:       map[string]bool{"tok_old": true},
	}}
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/unsubscribe/tok_ok")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["notificationId"] != "n1" || body["status"] != "unsubscribed" {
		t.Fatalf("unexpected body %#v", body)
	}

	for _, token := range []string{"tok_missing", "tok_old"} {
		resp, err := http.Get(ts.URL + "/unsubscribe/" + token)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", token, resp.StatusCode)
		}
		if code := errorTextCode(t, decodeBody(t, resp)); code != core.ErrorNotFound {
			t.Fatalf("%s: expected %s, got %q", token, core.ErrorNotFound, code)
		}
		_ = resp.Body.Close()
	}
}

func TestRouter_HealthMetricsAndPanics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("notify_send_total 1\n"))
	})
	server := &Server{
		Metrics:  metrics,
		Webhooks: panicWebhooks{},
	}
	handler := server.Router()

	for path, want := range map[string]int{"/healthz": http.StatusOK, "/metrics": http.StatusOK} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/resend", strings.NewReader(`{}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected recovered panic to return 500, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/notifications/trigger", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected unmounted trigger route to 404, got %d", rec.Code)
	}
}

type panicWebhooks struct{}

func (panicWebhooks) Handle(context.Context, webhooks.Request) (webhooks.Result, error) {
	panic("boom")
}

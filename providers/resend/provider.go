package resend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-notify/core"
	resendapi "github.com/resend/resend-go/v2"
)

const (
	ProviderID     = "resend"
	DefaultTimeout = 30 * time.Second
)

type Config struct {
	APIKey      string
	FromAddress string
	ReplyTo     string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL    string
	HTTPClient *http.Client
}

// Provider sends rendered emails through Resend. The delivery id is passed
// as the idempotency key so a retried send cannot produce a second email.
type Provider struct {
	client *resendapi.Client
	from   string
	reply  string
}

func New(cfg Config) (*Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("resend: api key is required")
	}
	from := strings.TrimSpace(cfg.FromAddress)
	if from == "" {
		return nil, fmt.Errorf("resend: from address is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	recorded := *httpClient
	transport := recorded.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	recorded.Transport = statusRecorder{next: transport}

	client := resendapi.NewCustomClient(&recorded, apiKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("resend: parse base url: %w", err)
		}
		client.BaseURL = parsed
	}
	return &Provider{client: client, from: from, reply: strings.TrimSpace(cfg.ReplyTo)}, nil
}

func (p *Provider) Send(ctx context.Context, msg core.EmailMessage) (core.SendReceipt, error) {
	if p == nil || p.client == nil {
		return core.SendReceipt{}, fmt.Errorf("resend: provider is not configured")
	}
	if strings.TrimSpace(msg.To) == "" {
		return core.SendReceipt{}, &core.ProviderError{Provider: ProviderID, StatusCode: http.StatusUnprocessableEntity, Message: "recipient is required"}
	}

	request := &resendapi.SendEmailRequest{
		From:    p.from,
		To:      []string{strings.TrimSpace(msg.To)},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
		Tags:    buildTags(msg.Tags),
	}
	if p.reply != "" {
		request.ReplyTo = p.reply
	}
	if unsubscribe := strings.TrimSpace(msg.UnsubscribeURL); unsubscribe != "" {
		request.Headers = map[string]string{
			"List-Unsubscribe":      "<" + unsubscribe + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		}
	}

	status := &responseStatus{}
	response, err := p.client.Emails.SendWithOptions(withStatus(ctx, status), request, &resendapi.SendEmailOptions{
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	})
	if err != nil {
		return core.SendReceipt{}, &core.ProviderError{
			Provider:   ProviderID,
			StatusCode: status.get(),
			Message:    err.Error(),
			Err:        err,
		}
	}
	if response == nil || strings.TrimSpace(response.Id) == "" {
		return core.SendReceipt{}, &core.ProviderError{
			Provider:   ProviderID,
			StatusCode: status.get(),
			Message:    "response carried no message id",
		}
	}
	return core.SendReceipt{MessageID: response.Id}, nil
}

// Resend tag names and values only allow ASCII letters, digits, underscore
// and dash.
func buildTags(tags map[string]string) []resendapi.Tag {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]resendapi.Tag, 0, len(names))
	for _, name := range names {
		cleanName := sanitizeTag(name)
		cleanValue := sanitizeTag(tags[name])
		if cleanName == "" || cleanValue == "" {
			continue
		}
		out = append(out, resendapi.Tag{Name: cleanName, Value: cleanValue})
	}
	return out
}

func sanitizeTag(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

type statusKey struct{}

type responseStatus struct {
	mu   sync.Mutex
	code int
}

func (s *responseStatus) set(code int) {
	s.mu.Lock()
	s.code = code
	s.mu.Unlock()
}

func (s *responseStatus) get() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func withStatus(ctx context.Context, status *responseStatus) context.Context {
	return context.WithValue(ctx, statusKey{}, status)
}

// statusRecorder keeps the HTTP status of the last response for the request
// context, since the client library folds it into an error string.
type statusRecorder struct {
	next http.RoundTripper
}

func (r statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := r.next.RoundTrip(req)
	if res != nil {
		if status, ok := req.Context().Value(statusKey{}).(*responseStatus); ok {
			status.set(res.StatusCode)
		}
	}
	return res, err
}

var _ core.EmailProvider = (*Provider)(nil)

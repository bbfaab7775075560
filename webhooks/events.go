package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	EventEmailSent            = "email.sent"
	EventEmailDelivered       = "email.delivered"
	EventEmailBounced         = "email.bounced"
	EventEmailComplained      = "email.complained"
	EventEmailSuppressed      = "email.suppressed"
	EventEmailDeliveryDelayed = "email.delivery_delayed"
	EventEmailOpened          = "email.opened"
	EventEmailClicked         = "email.clicked"
)

// Event is the subset of a provider email event the reconciler acts on.
type Event struct {
	Type      string    `json:"type"`
	CreatedAt string    `json:"created_at"`
	Data      EventData `json:"data"`
}

type EventData struct {
	EmailID string   `json:"email_id"`
	To      []string `json:"to,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Tags    Tags     `json:"tags,omitempty"`
	Bounce  *Bounce  `json:"bounce,omitempty"`
}

type Bounce struct {
	Type    string `json:"type"`
	SubType string `json:"subType,omitempty"`
	Message string `json:"message,omitempty"`
}

// Permanent reports a hard bounce.
func (b *Bounce) Permanent() bool {
	if b == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(b.Type)) {
	case "permanent", "hard":
		return true
	default:
		return false
	}
}

// Tags accepts both {"k":"v"} and [{"name":"k","value":"v"}].
type Tags map[string]string

func (t *Tags) UnmarshalJSON(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*t = nil
		return nil
	}
	out := Tags{}
	switch trimmed[0] {
	case '{':
		var values map[string]any
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return err
		}
		for key, value := range values {
			out[key] = stringValue(value)
		}
	case '[':
		var pairs []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		}
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return err
		}
		for _, pair := range pairs {
			if strings.TrimSpace(pair.Name) == "" {
				continue
			}
			out[pair.Name] = stringValue(pair.Value)
		}
	default:
		return fmt.Errorf("webhooks: tags must be an object or a list")
	}
	*t = out
	return nil
}

// ParseEvent decodes the event and also returns the raw payload for the
// event log.
func ParseEvent(body []byte) (Event, map[string]any, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, nil, fmt.Errorf("webhooks: malformed event: %w", err)
	}
	if strings.TrimSpace(event.Type) == "" {
		return Event{}, nil, fmt.Errorf("webhooks: event type is required")
	}
	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, nil, fmt.Errorf("webhooks: malformed event: %w", err)
	}
	return event, payload, nil
}

func stringValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

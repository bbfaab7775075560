package inbound

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/webhooks"
	"github.com/gorilla/mux"
)

const (
	APIKeyHeader        = "X-API-Key"
	DefaultMaxBodyBytes = int64(1 << 20)
)

type WebhookHandler interface {
	Handle(ctx context.Context, req webhooks.Request) (webhooks.Result, error)
}

type Triggerer interface {
	Trigger(ctx context.Context, req core.TriggerRequest) (core.TriggerResult, error)
}

type Unsubscriber interface {
	Unsubscribe(ctx context.Context, token string) (core.Notification, error)
}

// Server holds the collaborators behind each route. Routes whose
// collaborator is nil are not mounted.
type Server struct {
	Webhooks     WebhookHandler
	Trigger      Triggerer
	Unsubscribe  Unsubscriber
	Metrics      http.Handler
	APIKey       string
	MaxBodyBytes int64
	Observer     core.Observer
}

type unsubscribeResponse struct {
	Status         string `json:"status"`
	NotificationID string `json:"notificationId"`
}

// Router builds the mux for the server.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.recoverPanics)

	router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if s.Metrics != nil {
		router.Handle("/metrics", s.Metrics).Methods(http.MethodGet)
	}
	if s.Webhooks != nil {
		router.HandleFunc("/webhooks/{provider}", s.webhook).Methods(http.MethodPost)
	}
	if s.Trigger != nil {
		router.HandleFunc("/admin/notifications/trigger", s.trigger).Methods(http.MethodPost)
	}
	if s.Unsubscribe != nil {
		router.HandleFunc("/unsubscribe/{token}", s.unsubscribe).Methods(http.MethodGet, http.MethodPost)
	}
	return router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, err, 0)
		return
	}
	result, err := s.Webhooks.Handle(r.Context(), webhooks.Request{
		Provider: mux.Vars(r)["provider"],
		Headers:  flattenHeaders(r.Header),
		Body:     body,
	})
	if err != nil {
		writeError(w, err, result.StatusCode)
		return
	}
	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]string{"status": result.Status})
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, core.UnauthorizedError("inbound: missing or invalid api key"), 0)
		return
	}
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, err, 0)
		return
	}
	var req core.TriggerRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, core.BadInputError("inbound: request body is required"), 0)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, core.BadInputError(fmt.Sprintf("inbound: malformed request body: %v", err)), 0)
		return
	}
	result, err := s.Trigger.Trigger(r.Context(), req)
	if err != nil {
		writeError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(mux.Vars(r)["token"])
	if token == "" {
		writeError(w, core.ErrNotFound, 0)
		return
	}
	notification, err := s.Unsubscribe.Unsubscribe(r.Context(), token)
	if err != nil {
		writeError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, unsubscribeResponse{
		Status:         "unsubscribed",
		NotificationID: notification.ID,
	})
}

// authorized compares the api key in constant time. An empty configured key
// rejects every request.
func (s *Server) authorized(r *http.Request) bool {
	expected := strings.TrimSpace(s.APIKey)
	provided := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := s.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, core.BadInputError("inbound: request body too large")
		}
		return nil, core.BadInputError(fmt.Sprintf("inbound: read request body: %v", err))
	}
	return body, nil
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				s.Observer.Error(r.Context(), "http handler panic recovered", map[string]any{
					"panic":  fmt.Sprint(recovered),
					"stack":  string(debug.Stack()),
					"method": r.Method,
					"path":   r.URL.Path,
				})
				writeError(w, fmt.Errorf("inbound: internal error"), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(key)] = values[0]
	}
	return out
}

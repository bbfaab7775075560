package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

type FailureClass string

const (
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

// ProviderError is returned by EmailProvider implementations when the remote
// side rejected a request. StatusCode is zero when no HTTP response was seen.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	if message == "" && e.Err != nil {
		message = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, message)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var transientMarkers = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"connection reset",
	"econnreset",
	"etimedout",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
}

// ClassifyFailure splits provider failures into retryable and terminal.
// Rate limiting, 502/503/504 and network level symptoms are transient;
// everything else is permanent.
func ClassifyFailure(err error) FailureClass {
	if err == nil {
		return FailurePermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		switch providerErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return FailureTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTransient
	}

	message := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(message, marker) {
			return FailureTransient
		}
	}
	for _, code := range []string{"429", "502", "503", "504"} {
		if strings.Contains(message, "status "+code) || strings.Contains(message, "status code "+code) {
			return FailureTransient
		}
	}
	return FailurePermanent
}

func IsTransient(err error) bool {
	return err != nil && ClassifyFailure(err) == FailureTransient
}

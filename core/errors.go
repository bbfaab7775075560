package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput         = "NOTIFY_BAD_INPUT"
	ErrorNotFound         = "NOTIFY_NOT_FOUND"
	ErrorUnauthorized     = "NOTIFY_UNAUTHORIZED"
	ErrorSignatureInvalid = "NOTIFY_SIGNATURE_INVALID"
	ErrorConflict         = "NOTIFY_CONFLICT"
	ErrorRateLimited      = "NOTIFY_RATE_LIMITED"
	ErrorProviderFailed   = "NOTIFY_PROVIDER_FAILED"
	ErrorInternal         = "NOTIFY_INTERNAL_ERROR"
)

var (
	ErrNotFound        = errors.New("notify: not found")
	ErrDuplicate       = errors.New("notify: duplicate")
	ErrDataUnavailable = errors.New("notify: data unavailable")
	ErrTokenExpired    = errors.New("notify: unsubscribe token expired")
)

// MapError converts any error into the go-errors envelope used by the HTTP
// surface.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTokenExpired):
		return newError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case errors.Is(err, ErrDuplicate):
		return newError(err.Error(), goerrors.CategoryConflict, ErrorConflict)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return newError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	return ensureEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

func newError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureEnvelope(goerrors.New(message, category).WithTextCode(textCode))
}

func ensureEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUnauthorized
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryOperation:
		return ErrorProviderFailed
	default:
		return ErrorInternal
	}
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func validationError(field string, message string) error {
	return goerrors.NewValidation("notify: validation failed: "+message, goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

func dependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorInternal)
}

// UnauthorizedError is returned for missing or wrong credentials.
func UnauthorizedError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorUnauthorized)
}

// BadInputError is returned for malformed requests.
func BadInputError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

// SignatureInvalidError is returned when a webhook signature or timestamp
// does not verify.
func SignatureInvalidError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorSignatureInvalid)
}

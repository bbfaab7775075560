package inbound

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-notify/core"
)

type errorBody struct {
	Error errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Category string         `json:"category"`
	Code     int            `json:"code"`
	TextCode string         `json:"text_code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Fields   []fieldError   `json:"validation_errors,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// envelope maps err and, when status is set, forces its HTTP code.
func envelope(err error, status int) *goerrors.Error {
	rich := core.MapError(err)
	if rich == nil {
		rich = core.MapError(goerrors.New("unknown error", goerrors.CategoryInternal))
	}
	if status >= http.StatusBadRequest {
		rich.Code = status
	}
	return rich
}

func writeError(w http.ResponseWriter, err error, status int) {
	rich := envelope(err, status)
	body := errorBody{Error: errorEnvelope{
		Category: string(rich.Category),
		Code:     rich.Code,
		TextCode: rich.TextCode,
		Message:  rich.Message,
		Metadata: rich.Metadata,
	}}
	for _, field := range rich.AllValidationErrors() {
		body.Error.Fields = append(body.Error.Fields, fieldError{Field: field.Field, Message: field.Message})
	}
	writeJSON(w, rich.Code, body)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const MetricDuplicateSuppressed = "notify.duplicate_suppressed.total"

// Observer logs and counts stage outcomes. The zero value is usable and
// discards everything.
type Observer struct {
	Logger  Logger
	Metrics MetricsRecorder
}

func NewObserver(logger Logger, metrics MetricsRecorder) Observer {
	return Observer{Logger: logger, Metrics: metrics}
}

// Observe records one unit of work. outcome is the business label (composed,
// skipped_duplicate, sent, ...); err marks infrastructure failures.
func (o Observer) Observe(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	outcome string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	elapsed := time.Since(startedAt)

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = elapsed.Milliseconds()
	if outcome != "" {
		contextFields["outcome"] = outcome
	}
	if err != nil {
		contextFields["error"] = err.Error()
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			contextFields["error_category"] = fmt.Sprint(richErr.Category)
			contextFields["error_text_code"] = richErr.TextCode
		}
	}

	// Every sample carries the same tag keys so label sets stay stable.
	tags := map[string]string{
		"operation": operation,
		"status":    status,
		"outcome":   outcome,
	}
	for _, key := range []string{"notification_type", "webhook_event"} {
		tags[key] = ""
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "<nil>" {
			tags[key] = value
		}
	}

	o.Count(ctx, "notify."+operation+".total", tags)
	o.histogram(ctx, "notify."+operation+".duration_ms", float64(elapsed.Milliseconds()), tags)

	if err != nil {
		o.log(ctx, "error", operation+" failed", contextFields)
		return
	}
	o.log(ctx, "info", operation+" completed", contextFields)
}

// DuplicateSuppressed counts an idempotency guard that turned a request into
// a no-op.
func (o Observer) DuplicateSuppressed(ctx context.Context, stage string) {
	o.Count(ctx, MetricDuplicateSuppressed, map[string]string{"stage": stage})
}

func (o Observer) Count(ctx context.Context, name string, tags map[string]string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.IncCounter(ctx, strings.TrimSpace(name), 1, cloneTags(tags))
}

func (o Observer) histogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (o Observer) Info(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, "info", message, fields)
}

func (o Observer) Warn(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, "warn", message, fields)
}

func (o Observer) Error(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, "error", message, fields)
}

func (o Observer) log(ctx context.Context, level string, message string, fields map[string]any) {
	if o.Logger == nil {
		return
	}
	logger := o.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}

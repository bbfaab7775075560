package core

import "context"

const (
	MetricComposeTotal = "notify.compose.total"
	MetricSendTotal    = "notify.send.total"
	MetricWebhookTotal = "notify.webhook.total"
)

// NopMetricsRecorder drops every sample.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}

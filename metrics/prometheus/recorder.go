package prometheus

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-notify/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets are in milliseconds, matching the duration histograms the
// pipeline records.
var DefaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

type Option func(*Recorder)

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = sanitizeName(namespace)
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// Recorder implements core.MetricsRecorder on client_golang. Collectors are
// registered on first use. The label names of a metric are fixed by its
// first sample: later samples drop unknown tags and leave missing ones empty.
type Recorder struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	namespace  string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*counterVec
	histograms map[string]*histogramVec
	errs       []error
}

type counterVec struct {
	vec    *prometheus.CounterVec
	labels []string
}

type histogramVec struct {
	vec    *prometheus.HistogramVec
	labels []string
}

func NewRecorder(registerer prometheus.Registerer, opts ...Option) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		registerer: registerer,
		buckets:    DefaultBuckets,
		counters:   map[string]*counterVec{},
		histograms: map[string]*histogramVec{},
	}
	if gatherer, ok := registerer.(prometheus.Gatherer); ok {
		r.gatherer = gatherer
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// NewRegistryRecorder records into a fresh registry that also backs Handler.
func NewRegistryRecorder(opts ...Option) (*Recorder, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	return NewRecorder(registry, opts...), registry
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	counter := r.counter(name, tags)
	if counter == nil {
		return
	}
	counter.vec.WithLabelValues(labelValues(counter.labels, tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	histogram := r.histogram(name, tags)
	if histogram == nil {
		return
	}
	histogram.vec.WithLabelValues(labelValues(histogram.labels, tags)...).Observe(value)
}

// Handler serves the exposition format for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Errors returns registration failures. Samples for those metrics are
// dropped.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *Recorder) counter(name string, tags map[string]string) *counterVec {
	metricName := r.metricName(name)
	if metricName == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[metricName]; ok {
		return existing
	}
	labels := labelNames(tags)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricName,
		Help: "go-notify counter " + strings.TrimSpace(name),
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			r.errs = append(r.errs, err)
			return nil
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			r.errs = append(r.errs, err)
			return nil
		}
		vec = existing
	}
	entry := &counterVec{vec: vec, labels: labels}
	r.counters[metricName] = entry
	return entry
}

func (r *Recorder) histogram(name string, tags map[string]string) *histogramVec {
	metricName := r.metricName(name)
	if metricName == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[metricName]; ok {
		return existing
	}
	labels := labelNames(tags)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricName,
		Help:    "go-notify histogram " + strings.TrimSpace(name),
		Buckets: r.buckets,
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			r.errs = append(r.errs, err)
			return nil
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			r.errs = append(r.errs, err)
			return nil
		}
		vec = existing
	}
	entry := &histogramVec{vec: vec, labels: labels}
	r.histograms[metricName] = entry
	return entry
}

func (r *Recorder) metricName(name string) string {
	sanitized := sanitizeName(name)
	if sanitized == "" {
		return ""
	}
	if r.namespace != "" {
		return r.namespace + "_" + sanitized
	}
	return sanitized
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for key := range tags {
		if clean := sanitizeName(key); clean != "" {
			names = append(names, clean)
		}
	}
	sort.Strings(names)
	return dedupe(names)
}

func labelValues(labels []string, tags map[string]string) []string {
	byLabel := make(map[string]string, len(tags))
	for key, value := range tags {
		byLabel[sanitizeName(key)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = byLabel[label]
	}
	return values
}

// sanitizeName maps notify.send.total to notify_send_total.
func sanitizeName(name string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func dedupe(sorted []string) []string {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, value := range sorted[1:] {
		if value != out[len(out)-1] {
			out = append(out, value)
		}
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)

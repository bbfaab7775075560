package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"github.com/google/uuid"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type pipelineBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	storeProvider   StoreProvider
	notifications   NotificationStore
	ledger          DeliveryLedger
	tokens          UnsubscribeTokenStore
	events          WebhookEventLog
	eligibility     EligibilityFinder
	fetcher         DataFetcher
	renderer        Renderer
	provider        EmailProvider
	emails          EmailLookup
	enqueuer        JobEnqueuer
	sendLimiter     RateLimiter
	now             func() time.Time
	newID           func() string
}

type Option func(*pipelineBuilder)

func WithLogger(logger Logger) Option {
	return func(b *pipelineBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *pipelineBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *pipelineBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *pipelineBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *pipelineBuilder) {
		b.optionsResolver = resolver
	}
}

// WithStoreProvider fills every store that was not set explicitly.
func WithStoreProvider(provider StoreProvider) Option {
	return func(b *pipelineBuilder) {
		b.storeProvider = provider
	}
}

func WithNotificationStore(store NotificationStore) Option {
	return func(b *pipelineBuilder) {
		b.notifications = store
	}
}

func WithDeliveryLedger(ledger DeliveryLedger) Option {
	return func(b *pipelineBuilder) {
		b.ledger = ledger
	}
}

func WithUnsubscribeTokenStore(store UnsubscribeTokenStore) Option {
	return func(b *pipelineBuilder) {
		b.tokens = store
	}
}

func WithWebhookEventLog(log WebhookEventLog) Option {
	return func(b *pipelineBuilder) {
		b.events = log
	}
}

func WithEligibilityFinder(finder EligibilityFinder) Option {
	return func(b *pipelineBuilder) {
		b.eligibility = finder
	}
}

func WithDataFetcher(fetcher DataFetcher) Option {
	return func(b *pipelineBuilder) {
		b.fetcher = fetcher
	}
}

func WithRenderer(renderer Renderer) Option {
	return func(b *pipelineBuilder) {
		b.renderer = renderer
	}
}

func WithEmailProvider(provider EmailProvider) Option {
	return func(b *pipelineBuilder) {
		b.provider = provider
	}
}

func WithEmailLookup(lookup EmailLookup) Option {
	return func(b *pipelineBuilder) {
		b.emails = lookup
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *pipelineBuilder) {
		b.enqueuer = enqueuer
	}
}

// WithSendRateLimiter overrides the limiter shared by every send worker.
func WithSendRateLimiter(limiter RateLimiter) Option {
	return func(b *pipelineBuilder) {
		b.sendLimiter = limiter
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *pipelineBuilder) {
		b.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(b *pipelineBuilder) {
		b.newID = newID
	}
}

func defaultPipelineBuilder(runtime Config) pipelineBuilder {
	loggerProvider, logger := glog.Resolve("notify", nil, nil)
	return pipelineBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader serves a fixed raw config map.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults < loaded config < runtime overrides.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

type layer map[string]any

func (l layer) section(name string) layer {
	if existing, ok := l[name].(map[string]any); ok {
		return existing
	}
	created := map[string]any{}
	l[name] = created
	return created
}

func (l layer) put(key string, value any, include bool) {
	if include {
		l[key] = value
	}
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	root := layer{}
	root.put("service_name", cfg.ServiceName, includeZero || strings.TrimSpace(cfg.ServiceName) != "")

	pipeline := root.section("pipeline")
	pipeline.put("max_retry_attempts", cfg.Pipeline.MaxRetryAttempts, includeZero || cfg.Pipeline.MaxRetryAttempts != 0)
	pipeline.put("unsubscribe_base_url", cfg.Pipeline.UnsubscribeBaseURL, includeZero || cfg.Pipeline.UnsubscribeBaseURL != "")
	pipeline.put("token_ttl", cfg.Pipeline.TokenTTL, includeZero || cfg.Pipeline.TokenTTL != 0)
	pipeline.put("from_address", cfg.Pipeline.FromAddress, includeZero || cfg.Pipeline.FromAddress != "")
	pipeline.put("pending_sweep_age", cfg.Pipeline.PendingSweepAge, includeZero || cfg.Pipeline.PendingSweepAge != 0)

	workers := root.section("workers")
	for name, worker := range map[string]WorkerConfig{
		"collect": cfg.Workers.Collect,
		"compose": cfg.Workers.Compose,
		"send":    cfg.Workers.Send,
	} {
		section := workers.section(name)
		section.put("concurrency", worker.Concurrency, includeZero || worker.Concurrency != 0)
		section.put("job_timeout", worker.JobTimeout, includeZero || worker.JobTimeout != 0)
		section.put("max_attempts", worker.MaxAttempts, includeZero || worker.MaxAttempts != 0)
		section.put("max_delay", worker.MaxDelay, includeZero || worker.MaxDelay != 0)
		section.put("rate_limit_per_second", worker.RateLimitPerSecond, includeZero || worker.RateLimitPerSecond != 0)
		section.put("rate_limit_burst", worker.RateLimitBurst, includeZero || worker.RateLimitBurst != 0)
	}

	webhook := root.section("webhook")
	webhook.put("signing_secret", cfg.Webhook.SigningSecret, includeZero || cfg.Webhook.SigningSecret != "")
	webhook.put("tolerance", cfg.Webhook.Tolerance, includeZero || cfg.Webhook.Tolerance != 0)

	trigger := root.section("trigger")
	trigger.put("api_key", cfg.Trigger.APIKey, includeZero || cfg.Trigger.APIKey != "")
	trigger.put("default_limit", cfg.Trigger.DefaultLimit, includeZero || cfg.Trigger.DefaultLimit != 0)

	database := root.section("database")
	database.put("driver", cfg.Database.Driver, includeZero || cfg.Database.Driver != "")
	database.put("dsn", cfg.Database.DSN, includeZero || cfg.Database.DSN != "")
	database.put("debug", cfg.Database.Debug, includeZero || cfg.Database.Debug)

	redis := root.section("redis")
	redis.put("addr", cfg.Redis.Addr, includeZero || cfg.Redis.Addr != "")
	redis.put("password", cfg.Redis.Password, includeZero || cfg.Redis.Password != "")
	redis.put("db", cfg.Redis.DB, includeZero || cfg.Redis.DB != 0)

	root.section("resend").put("api_key", cfg.Resend.APIKey, includeZero || cfg.Resend.APIKey != "")
	root.section("http").put("addr", cfg.HTTP.Addr, includeZero || cfg.HTTP.Addr != "")

	return pruneEmpty(root)
}

// ConfigSchema maps every dotted config key, e.g. workers.send.concurrency,
// to the zero value of its type.
func ConfigSchema() map[string]any {
	schema := map[string]any{}
	var walk func(prefix string, values map[string]any)
	walk = func(prefix string, values map[string]any) {
		for key, value := range values {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			if nested, ok := value.(map[string]any); ok {
				walk(path, nested)
				continue
			}
			schema[path] = value
		}
	}
	walk("", configToLayerMap(Config{}, true))
	return schema
}

// ConfigKeys lists the keys of ConfigSchema in order.
func ConfigKeys() []string {
	schema := ConfigSchema()
	keys := make([]string, 0, len(schema))
	for key := range schema {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func pruneEmpty(values map[string]any) map[string]any {
	for key, value := range values {
		nested, ok := value.(map[string]any)
		if !ok {
			continue
		}
		pruned := pruneEmpty(nested)
		if len(pruned) == 0 {
			delete(values, key)
			continue
		}
		values[key] = pruned
	}
	return values
}

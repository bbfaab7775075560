package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Pipeline wires the collect, compose and send stages together with the
// subscription and trigger services that feed them.
type Pipeline struct {
	config   Config
	logger   Logger
	observer Observer

	notifications NotificationStore
	ledger        DeliveryLedger
	events        WebhookEventLog
	tokens        UnsubscribeTokenStore
	sendLimiter   RateLimiter
	now           func() time.Time

	Collect       *CollectStage
	Compose       *ComposeStage
	Send          *SendStage
	Trigger       *TriggerService
	Notifications *NotificationService
	Recovery      *SendRecovery
}

// PoolDequeuers names the queue each pool reads from.
type PoolDequeuers struct {
	Collect JobDequeuer
	Compose JobDequeuer
	Send    JobDequeuer
}

func NewPipeline(cfg Config, opts ...Option) (*Pipeline, error) {
	builder := defaultPipelineBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("notify", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("notify"); named != nil {
			logger = glog.Ensure(named)
		}
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, MapError(err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, MapError(err)
	}

	if stores := builder.storeProvider; stores != nil {
		if builder.notifications == nil {
			builder.notifications = stores.NotificationStore()
		}
		if builder.ledger == nil {
			builder.ledger = stores.DeliveryLedger()
		}
		if builder.events == nil {
			builder.events = stores.WebhookEventLog()
		}
		if builder.tokens == nil {
			builder.tokens = stores.UnsubscribeTokenStore()
		}
		if builder.eligibility == nil {
			builder.eligibility = stores.EligibilityFinder()
		}
	}
	if builder.notifications == nil {
		return nil, dependencyError("core: notification store is required")
	}
	if builder.ledger == nil {
		return nil, dependencyError("core: delivery ledger is required")
	}

	observer := NewObserver(logger, builder.metricsRecorder)
	pipeline := &Pipeline{
		config:        finalConfig,
		logger:        logger,
		observer:      observer,
		notifications: builder.notifications,
		ledger:        builder.ledger,
		events:        builder.events,
		tokens:        builder.tokens,
		sendLimiter:   builder.sendLimiter,
		now:           builder.now,
	}
	pipeline.Collect = &CollectStage{
		Enqueuer: builder.enqueuer,
		Observer: observer,
	}
	pipeline.Compose = &ComposeStage{
		Notifications:      builder.notifications,
		Ledger:             builder.ledger,
		Tokens:             builder.tokens,
		Fetcher:            builder.fetcher,
		Renderer:           builder.renderer,
		Enqueuer:           builder.enqueuer,
		UnsubscribeBaseURL: finalConfig.Pipeline.UnsubscribeBaseURL,
		TokenTTL:           finalConfig.Pipeline.TokenTTL,
		Observer:           observer,
	}
	pipeline.Send = &SendStage{
		Ledger:             builder.ledger,
		Emails:             builder.emails,
		Provider:           builder.provider,
		MaxRetryAttempts:   finalConfig.Pipeline.MaxRetryAttempts,
		UnsubscribeBaseURL: finalConfig.Pipeline.UnsubscribeBaseURL,
		Observer:           observer,
		Now:                builder.now,
	}
	pipeline.Trigger = &TriggerService{
		Eligibility:  builder.eligibility,
		Enqueuer:     builder.enqueuer,
		DefaultLimit: finalConfig.Trigger.DefaultLimit,
		Observer:     observer,
		Now:          builder.now,
		NewID:        builder.newID,
	}
	pipeline.Notifications = &NotificationService{
		Store:    builder.notifications,
		Tokens:   builder.tokens,
		Observer: observer,
		Now:      builder.now,
		NewID:    builder.newID,
	}
	pipeline.Recovery = &SendRecovery{
		Ledger:   builder.ledger,
		Enqueuer: builder.enqueuer,
		Observer: observer,
		Now:      builder.now,
	}
	return pipeline, nil
}

func (p *Pipeline) Config() Config {
	if p == nil {
		return Config{}
	}
	return p.config
}

func (p *Pipeline) Logger() Logger {
	if p == nil {
		return nil
	}
	return p.logger
}

func (p *Pipeline) Observer() Observer {
	if p == nil {
		return Observer{}
	}
	return p.observer
}

func (p *Pipeline) DeliveryLedger() DeliveryLedger {
	return p.ledger
}

func (p *Pipeline) WebhookEventLog() WebhookEventLog {
	return p.events
}

func (p *Pipeline) NotificationStore() NotificationStore {
	return p.notifications
}

func (p *Pipeline) Now() time.Time {
	if p.now != nil {
		return p.now().UTC()
	}
	return time.Now().UTC()
}

// HandleJob routes a queue message to its stage. Skip outcomes are
// successes; only returned errors trigger a queue retry.
func (p *Pipeline) HandleJob(ctx context.Context, msg *JobExecutionMessage) error {
	if p == nil {
		return dependencyError("core: pipeline is nil")
	}
	if msg == nil {
		return fmt.Errorf("%w: job message is required", ErrMalformedJob)
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDCollect:
		job, err := ParseCollectJob(msg)
		if err != nil {
			return err
		}
		_, err = p.Collect.Handle(ctx, job)
		return err
	case JobIDCompose:
		job, err := ParseComposeJob(msg)
		if err != nil {
			return err
		}
		_, err = p.Compose.Handle(ctx, job)
		return err
	case JobIDSend:
		job, err := ParseSendJob(msg)
		if err != nil {
			return err
		}
		_, err = p.Send.Handle(ctx, job)
		return err
	default:
		return fmt.Errorf("%w: unknown job %q", ErrMalformedJob, msg.JobID)
	}
}

// WorkerPools builds one pool per stage from the workers config. The send
// pool shares the configured send rate limiter.
func (p *Pipeline) WorkerPools(dequeuers PoolDequeuers) ([]*WorkerPool, error) {
	specs := []struct {
		name     string
		dequeuer JobDequeuer
		config   WorkerConfig
		limiter  RateLimiter
	}{
		{name: "collect", dequeuer: dequeuers.Collect, config: p.config.Workers.Collect},
		{name: "compose", dequeuer: dequeuers.Compose, config: p.config.Workers.Compose},
		{name: "send", dequeuer: dequeuers.Send, config: p.config.Workers.Send, limiter: p.sendLimiter},
	}
	pools := make([]*WorkerPool, 0, len(specs))
	for _, spec := range specs {
		if spec.dequeuer == nil {
			continue
		}
		poolConfig := spec.config.PoolConfig(spec.name)
		poolConfig.RateLimit = spec.limiter
		pool, err := NewWorkerPool(poolConfig, spec.dequeuer, p.HandleJob, p.observer)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

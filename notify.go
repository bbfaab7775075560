package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/goliatone/go-notify/adapters/gocommand"
	"github.com/goliatone/go-notify/adapters/gojob"
	"github.com/goliatone/go-notify/adapters/gologger"
	"github.com/goliatone/go-notify/adapters/repocache"
	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/inbound"
	metricsprom "github.com/goliatone/go-notify/metrics/prometheus"
	"github.com/goliatone/go-notify/providers/resend"
	"github.com/goliatone/go-notify/ratelimit"
	sqlstore "github.com/goliatone/go-notify/store/sql"
	"github.com/goliatone/go-notify/webhooks"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"github.com/uptrace/bun"
)

type Config = core.Config

type Option = core.Option

var (
	WithLogger         = core.WithLogger
	WithLoggerProvider = core.WithLoggerProvider
	WithDataFetcher    = core.WithDataFetcher
	WithRenderer       = core.WithRenderer
	WithEmailProvider  = core.WithEmailProvider
	WithEmailLookup    = core.WithEmailLookup
	WithClock          = core.WithClock
	WithIDGenerator    = core.WithIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

const sweepInterval = time.Minute

// Dependencies are the infrastructure handles a Runtime is built on. DB is
// required; every other field has a default derived from the config.
type Dependencies struct {
	DB             *bun.DB
	Cache          repositorycache.CacheService
	Fetcher        core.DataFetcher
	Renderer       core.Renderer
	Emails         core.EmailLookup
	Provider       core.EmailProvider
	Limiter        core.RateLimiter
	Redis          ratelimit.Counter
	Registerer     prometheus.Registerer
	LoggerProvider core.LoggerProvider
	Logger         core.Logger
	// Hook observes every job the worker pools run.
	Hook core.JobWorkerHook
}

type Queues struct {
	Collect *gojob.MemoryQueue
	Compose *gojob.MemoryQueue
	Send    *gojob.MemoryQueue
}

func (q Queues) close() {
	for _, mq := range []*gojob.MemoryQueue{q.Collect, q.Compose, q.Send} {
		if mq != nil {
			mq.Close()
		}
	}
}

// Runtime is a fully wired notification service: the pipeline stages, their
// in-process queues and worker pools, the webhook reconciler and the HTTP
// surface.
type Runtime struct {
	Config     Config
	Pipeline   *core.Pipeline
	Stores     *sqlstore.RepositoryFactory
	Queues     Queues
	Reconciler *webhooks.Reconciler
	Metrics    *metricsprom.Recorder
	Server     *inbound.Server

	pools    []*core.WorkerPool
	commands *gocommand.RegistryAdapter
	redis    *redis.Client
}

func New(cfg Config, deps Dependencies, opts ...Option) (*Runtime, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("notify: database handle is required")
	}
	resolved, err := core.GoOptionsResolver{}.Resolve(core.DefaultConfig(), core.Config{}, cfg)
	if err != nil {
		return nil, core.MapError(err)
	}

	stores := sqlstore.NewRepositoryFactory().WithCache(deps.Cache)
	if _, err := stores.BuildStores(deps.DB); err != nil {
		return nil, err
	}

	rt := &Runtime{Config: resolved, Stores: stores}
	rt.Metrics = resolveRecorder(deps.Registerer)
	rt.Queues = newQueues(deps.LoggerProvider, deps.Logger)

	limiter, err := rt.sendLimiter(deps)
	if err != nil {
		return nil, err
	}
	provider, err := resolveProvider(resolved, deps.Provider)
	if err != nil {
		return nil, err
	}
	emails, err := resolveEmailLookup(deps.Emails, deps.Cache)
	if err != nil {
		return nil, err
	}

	enqueuer := gojob.NewEnqueuerAdapter(gojob.NewRouter(map[string]queue.Enqueuer{
		core.JobIDCollect: rt.Queues.Collect,
		core.JobIDCompose: rt.Queues.Compose,
		core.JobIDSend:    rt.Queues.Send,
	}))

	pipelineOpts := []Option{
		core.WithStoreProvider(stores),
		core.WithMetricsRecorder(rt.Metrics),
		core.WithJobEnqueuer(enqueuer),
		core.WithSendRateLimiter(limiter),
	}
	if deps.LoggerProvider != nil {
		pipelineOpts = append(pipelineOpts, core.WithLoggerProvider(deps.LoggerProvider))
	}
	if deps.Logger != nil {
		pipelineOpts = append(pipelineOpts, core.WithLogger(deps.Logger))
	}
	if deps.Fetcher != nil {
		pipelineOpts = append(pipelineOpts, core.WithDataFetcher(deps.Fetcher))
	}
	if deps.Renderer != nil {
		pipelineOpts = append(pipelineOpts, core.WithRenderer(deps.Renderer))
	}
	if provider != nil {
		pipelineOpts = append(pipelineOpts, core.WithEmailProvider(provider))
	}
	if emails != nil {
		pipelineOpts = append(pipelineOpts, core.WithEmailLookup(emails))
	}
	pipeline, err := core.NewPipeline(resolved, append(pipelineOpts, opts...)...)
	if err != nil {
		rt.Queues.close()
		return nil, err
	}
	rt.Pipeline = pipeline

	pools, err := pipeline.WorkerPools(core.PoolDequeuers{
		Collect: dequeuer(rt.Queues.Collect, resolved.Workers.Collect, "collect"),
		Compose: dequeuer(rt.Queues.Compose, resolved.Workers.Compose, "compose"),
		Send:    dequeuer(rt.Queues.Send, resolved.Workers.Send, "send"),
	})
	if err != nil {
		rt.Queues.close()
		return nil, err
	}
	if deps.Hook != nil {
		for _, pool := range pools {
			pool.WithHook(deps.Hook)
		}
	}
	rt.pools = pools

	server := &inbound.Server{
		Trigger:     pipeline.Trigger,
		Unsubscribe: pipeline.Notifications,
		Metrics:     rt.Metrics.Handler(),
		APIKey:      resolved.Trigger.APIKey,
		Observer:    pipeline.Observer(),
	}
	if strings.TrimSpace(resolved.Webhook.SigningSecret) != "" {
		reconciler, err := webhooks.NewReconciler(
			webhooks.NewSvixVerifier(resolved.Webhook.SigningSecret, resolved.Webhook.Tolerance),
			pipeline.WebhookEventLog(),
			pipeline.DeliveryLedger(),
			pipeline.NotificationStore(),
			pipeline.Observer(),
		)
		if err != nil {
			rt.Queues.close()
			return nil, err
		}
		rt.Reconciler = reconciler
		server.Webhooks = reconciler
	} else {
		pipeline.Observer().Warn(context.Background(), "webhook signing secret not set, webhook route disabled", nil)
	}
	rt.Server = server
	return rt, nil
}

// Handler is the HTTP surface of the runtime.
func (r *Runtime) Handler() http.Handler {
	return r.Server.Router()
}

// Run starts every worker pool and the pending sweep and blocks until ctx
// is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil || r.Pipeline == nil {
		return fmt.Errorf("notify: runtime is not configured")
	}
	var wg conc.WaitGroup
	for _, pool := range r.pools {
		wg.Go(func() {
			_ = pool.Run(ctx)
		})
	}
	wg.Go(func() {
		r.sweepLoop(ctx)
	})
	wg.Wait()
	return ctx.Err()
}

// RegisterCommands subscribes the notification commands to the go-command
// dispatcher and mirrors them into queueRegistry when it is given.
func (r *Runtime) RegisterCommands(queueRegistry *jobqueuecommand.Registry) (*gocommand.RegistryAdapter, error) {
	if r == nil || r.Pipeline == nil {
		return nil, fmt.Errorf("notify: runtime is not configured")
	}
	if r.commands != nil {
		return r.commands, nil
	}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if queueRegistry != nil {
		if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
			return nil, err
		}
	}
	if err := gocommand.RegisterNotificationCommands(adapter, r.Pipeline.Notifications, r.Pipeline.Trigger); err != nil {
		return nil, err
	}
	if err := adapter.Initialize(); err != nil {
		adapter.Close()
		return nil, err
	}
	r.commands = adapter
	return adapter, nil
}

func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.Queues.close()
	if r.commands != nil {
		r.commands.Close()
	}
	if r.redis != nil {
		return r.redis.Close()
	}
	return nil
}

func (r *Runtime) sweepLoop(ctx context.Context) {
	age := r.Config.Pipeline.PendingSweepAge
	if age <= 0 {
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Pipeline.Recovery.Sweep(ctx, age, 0); err != nil && ctx.Err() == nil {
				r.Pipeline.Observer().Error(ctx, "pending sweep failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func (r *Runtime) sendLimiter(deps Dependencies) (core.RateLimiter, error) {
	if deps.Limiter != nil {
		return deps.Limiter, nil
	}
	send := r.Config.Workers.Send
	counter := deps.Redis
	if counter == nil && strings.TrimSpace(r.Config.Redis.Addr) != "" {
		r.redis = redis.NewClient(&redis.Options{
			Addr:     r.Config.Redis.Addr,
			Password: r.Config.Redis.Password,
			DB:       r.Config.Redis.DB,
		})
		counter = r.redis
	}
	if counter != nil {
		perSecond := int(send.RateLimitPerSecond)
		if perSecond < 1 {
			return nil, fmt.Errorf("notify: distributed send limit must be at least 1 per second")
		}
		return ratelimit.NewRedisLimiter(counter, "send", perSecond), nil
	}
	return ratelimit.NewLocalLimiter(send.RateLimitPerSecond, send.RateLimitBurst), nil
}

func resolveRecorder(registerer prometheus.Registerer) *metricsprom.Recorder {
	if registerer != nil {
		return metricsprom.NewRecorder(registerer)
	}
	recorder, _ := metricsprom.NewRegistryRecorder()
	return recorder
}

func resolveProvider(cfg Config, provider core.EmailProvider) (core.EmailProvider, error) {
	if provider != nil {
		return provider, nil
	}
	if strings.TrimSpace(cfg.Resend.APIKey) == "" {
		return nil, nil
	}
	return resend.New(resend.Config{
		APIKey:      cfg.Resend.APIKey,
		FromAddress: cfg.Pipeline.FromAddress,
	})
}

func resolveEmailLookup(base core.EmailLookup, cacheService repositorycache.CacheService) (core.EmailLookup, error) {
	if base == nil || cacheService == nil {
		return base, nil
	}
	return repocache.NewCachedEmailLookup(base, cacheService)
}

func newQueues(provider core.LoggerProvider, logger core.Logger) Queues {
	build := func(name string) *gojob.MemoryQueue {
		return gojob.NewMemoryQueue(name, gojob.WithLogger(gologger.QueueLogger(provider, logger, name)))
	}
	return Queues{
		Collect: build(core.JobIDCollect),
		Compose: build(core.JobIDCompose),
		Send:    build(core.JobIDSend),
	}
}

func dequeuer(mq *gojob.MemoryQueue, cfg core.WorkerConfig, name string) core.JobDequeuer {
	return gojob.NewDequeuerAdapter(mq, gojob.NewRetryPolicy(cfg.PoolConfig(name).Retry))
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/foryou/internal/api"
	"github.com/onnwee/foryou/internal/config"
	"github.com/onnwee/foryou/internal/content"
	"github.com/onnwee/foryou/internal/db"
	"github.com/onnwee/foryou/internal/experiment"
	"github.com/onnwee/foryou/internal/exposure"
	"github.com/onnwee/foryou/internal/feed"
	"github.com/onnwee/foryou/internal/health"
	"github.com/onnwee/foryou/internal/interaction"
	"github.com/onnwee/foryou/internal/jobs"
	"github.com/onnwee/foryou/internal/middleware"
	"github.com/onnwee/foryou/internal/ranking"
	"github.com/onnwee/foryou/internal/signal"
	"github.com/onnwee/foryou/internal/social"
	"github.com/onnwee/foryou/internal/variant"
)

const serviceName = "foryou-api"

// exposureStore is the write, read and history surface of an exposure sink.
type exposureStore interface {
	exposure.Sink
	exposure.Source
	signal.HistorySource
}

// interactionStore serves both live signals and the event log read by the
// aggregator.
type interactionStore interface {
	interaction.SignalSource
	interaction.EventSource
}

// stores groups the data sources the service reads from.
type stores struct {
	content       content.Store
	graph         social.Graph
	interactions  interactionStore
	affinity      signal.AffinitySource
	collaborative signal.CollaborativeSource
	profiles      ranking.ProfileStore
	exposures     exposureStore
}

// app holds the wired service and its background workers.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	db    *sql.DB
	redis *redis.Client

	stores      stores
	jobMetrics  *jobs.Metrics
	resolver    *ranking.Resolver
	exposureLog *exposure.Logger
	job         *experiment.Job
	handler     http.Handler

	// localLimits is set when feed rate limits are counted in process.
	localLimits *middleware.InMemoryRateLimitStore
}

// newApp opens connections and wires every component. In-memory stores
// stand in for Postgres when no database is configured.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:        cfg,
		logger:     logger,
		registry:   prometheus.NewRegistry(),
		jobMetrics: jobs.NewMetrics(),
	}

	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		a.db = pool
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = a.close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
	}

	a.stores = a.buildStores()

	if err := a.wire(); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildStores() stores {
	var s stores
	if a.db != nil {
		s.content = content.NewPostgresStore(a.db)
		s.graph = social.NewPostgresGraph(a.db)
		s.interactions = interaction.NewPostgresStore(a.db)
		s.affinity = signal.NewPostgresAffinitySource(a.db)
		s.collaborative = signal.NewPostgresCollaborativeSource(a.db)
	} else {
		s.content = content.NewInMemoryStore()
		s.graph = social.NewInMemoryGraph()
		s.interactions = interaction.NewInMemoryStore()
		s.affinity = signal.NewInMemoryAffinity()
		s.collaborative = signal.NewInMemoryCollaborative()
	}

	switch {
	case a.cfg.ProfileFile != "":
		s.profiles = ranking.NewFileProfileStore(a.cfg.ProfileFile)
	case a.db != nil:
		s.profiles = ranking.NewPostgresProfileStore(a.db, a.cfg.ExperimentKey)
	}

	switch {
	case a.cfg.ExposureSink == config.SinkRedis && a.redis != nil:
		s.exposures = exposure.NewRedisStreamSink(a.redis, exposure.RedisStreamConfig{
			HistoryWindow: a.cfg.ExposureHistoryWindow,
		})
	case a.cfg.ExposureSink == config.SinkPostgres && a.db != nil:
		s.exposures = exposure.NewPostgresStore(a.db)
	default:
		s.exposures = exposure.NewInMemoryStore()
	}
	return s
}

func (a *app) wire() error {
	cfg := a.cfg

	httpMetrics := middleware.NewMetrics()
	feedMetrics := feed.NewMetrics()
	exposureMetrics := exposure.NewMetrics()
	experimentMetrics := experiment.NewMetrics()
	resolverMetrics := ranking.NewResolverMetrics()
	contentMetrics := content.NewMetrics()

	for _, r := range []interface {
		Register(prometheus.Registerer) error
	}{httpMetrics, feedMetrics, exposureMetrics, experimentMetrics, resolverMetrics, contentMetrics, a.jobMetrics} {
		if err := r.Register(a.registry); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	assigner, err := variant.NewAssigner(cfg.Variants)
	if err != nil {
		return err
	}

	a.resolver = ranking.NewResolver(a.stores.profiles, ranking.ResolverConfig{
		TTL:          cfg.ProfileCacheTTL,
		StoreTimeout: cfg.ProfileStoreTimeout,
		Logger:       a.logger,
		Metrics:      resolverMetrics,
	})

	retriever := content.NewRetriever(a.stores.content, content.RetrieverConfig{
		Horizon:          cfg.CandidateHorizon,
		NoveltyExclusion: cfg.NoveltyExclusion,
		Logger:           a.logger,
		Metrics:          contentMetrics,
	})

	var signals interaction.SignalSource = a.stores.interactions
	if a.redis != nil && cfg.SignalCacheTTL > 0 {
		signals = signal.NewRedisSnapshotCache(a.redis, signals, signal.RedisCacheConfig{
			TTL:    cfg.SignalCacheTTL,
			Logger: a.logger,
		})
	}
	provider := signal.NewProvider(signal.ProviderConfig{
		Signals:       signals,
		Graph:         a.stores.graph,
		Affinity:      a.stores.affinity,
		History:       a.stores.exposures,
		Collaborative: a.stores.collaborative,
		Window:        cfg.SignalWindow,
		HistoryWindow: cfg.ExposureHistoryWindow,
		Logger:        a.logger,
	})

	a.exposureLog = exposure.NewLogger(a.stores.exposures, exposure.LoggerConfig{
		QueueSize:  cfg.ExposureQueueSize,
		Workers:    cfg.ExposureWorkers,
		Logger:     a.logger,
		Metrics:    exposureMetrics,
		JobMetrics: a.jobMetrics,
	})

	service := feed.NewService(assigner, a.resolver, retriever, provider, a.exposureLog, feed.Config{
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
		PoolMultiplier:  cfg.PoolMultiplier,
		MaxPoolSize:     cfg.MaxPoolSize,
		Logger:          a.logger,
		Metrics:         feedMetrics,
	})

	aggregator := experiment.NewAggregator(a.stores.exposures, a.stores.interactions, experiment.AggregatorConfig{
		MaxLookback: cfg.MetricsMaxLookback,
		Variants:    assigner.Labels(),
		Logger:      a.logger,
	})
	a.job = experiment.NewJob(experiment.JobConfig{
		Interval:   cfg.MetricsInterval,
		Lookback:   cfg.MetricsLookback,
		Logger:     a.logger,
		Metrics:    experimentMetrics,
		JobMetrics: a.jobMetrics,
	}, aggregator)

	checkers := map[string]api.HealthChecker{
		"exposure_logger": health.NewWorkerChecker("exposure logger", a.exposureLog),
	}
	if a.db != nil {
		checkers["database"] = health.NewDBChecker(a.db, health.FeedTables...)
	}
	if a.redis != nil {
		checkers["redis"] = health.NewRedisChecker(a.redis)
	}

	feedHandlers := api.NewFeedHandlers(service)
	experimentHandlers := api.NewExperimentHandlers(api.ExperimentHandlersConfig{
		Reports:         a.job,
		Computer:        aggregator,
		Profiles:        a.resolver,
		Variants:        assigner,
		DefaultLookback: cfg.MetricsLookback,
	})
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{Checkers: checkers})

	var getFeed http.Handler = http.HandlerFunc(feedHandlers.GetFeed)
	if cfg.FeedRateLimit > 0 {
		getFeed = middleware.RateLimiter(a.rateLimitStore(), middleware.RateLimitConfig{
			RequestsPerWindow: cfg.FeedRateLimit,
			WindowDuration:    cfg.FeedRateWindow,
		}, middleware.IdentityKeyFunc(api.ViewerIDHeader, api.SessionIDHeader))(getFeed)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /feed", getFeed)
	mux.HandleFunc("GET /experiments/metrics", experimentHandlers.GetMetrics)
	mux.HandleFunc("GET /experiments/profiles/{variant}", experimentHandlers.GetProfile)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
		api.WriteError(w, ctx, api.StatusCodeMapping(api.ErrCodeNotFound), api.ErrCodeNotFound, "The requested resource was not found")
	})

	// Apply middleware: RequestID -> Tracing -> Logging -> HTTPMetrics
	a.handler = middleware.RequestID(
		middleware.Tracing(serviceName)(
			middleware.Logging(a.logger)(
				middleware.HTTPMetrics(httpMetrics)(mux),
			),
		),
	)
	return nil
}

// rateLimitStore shares counters through Redis when it is configured.
func (a *app) rateLimitStore() middleware.RateLimitStore {
	if a.redis != nil {
		return middleware.NewRedisRateLimitStore(a.redis, a.logger)
	}
	a.localLimits = middleware.NewInMemoryRateLimitStore()
	return a.localLimits
}

// start launches the background workers.
func (a *app) start(ctx context.Context) {
	a.exposureLog.Start()
	a.job.Start(ctx)
	if a.localLimits != nil {
		go a.sweepRateLimits(ctx)
	}
}

func (a *app) sweepRateLimits(ctx context.Context) {
	ticker := time.NewTicker(2 * a.cfg.FeedRateWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.localLimits.Cleanup()
		}
	}
}

// reloadProfiles drops cached weight profiles so the next request reads
// the store again.
func (a *app) reloadProfiles() {
	start := time.Now()
	a.resolver.Invalidate()
	a.jobMetrics.ObserveJobDuration(jobs.JobTypeProfileInvalidate, time.Since(start).Seconds())
	a.jobMetrics.IncJobsTotal(jobs.JobTypeProfileInvalidate, jobs.StatusSuccess)
	a.logger.Info("weight profile cache invalidated")
}

// shutdown stops the aggregation job, drains queued exposures and closes
// connections.
func (a *app) shutdown(ctx context.Context) error {
	a.job.Stop()
	err := a.exposureLog.Stop(ctx)
	if err != nil {
		a.logger.Error("exposure logger did not drain", "error", err)
	}
	return errors.Join(err, a.close())
}

func (a *app) close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

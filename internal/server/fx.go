// Package server builds the crawl service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/api"
	"github.com/JakeFAU/crawl-frontier/internal/clock/system"
	"github.com/JakeFAU/crawl-frontier/internal/config"
	"github.com/JakeFAU/crawl-frontier/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/crawl-frontier/internal/fetcher/colly"
	"github.com/JakeFAU/crawl-frontier/internal/fetcher/detector"
	headlessfetcher "github.com/JakeFAU/crawl-frontier/internal/fetcher/headless"
	"github.com/JakeFAU/crawl-frontier/internal/frontier"
	"github.com/JakeFAU/crawl-frontier/internal/hash/xxhash"
	"github.com/JakeFAU/crawl-frontier/internal/id/uuid"
	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/policy/budget"
	"github.com/JakeFAU/crawl-frontier/internal/policy/cost"
	"github.com/JakeFAU/crawl-frontier/internal/policy/politeness"
	"github.com/JakeFAU/crawl-frontier/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-frontier/internal/policy/retry"
	"github.com/JakeFAU/crawl-frontier/internal/progress"
	progresssinks "github.com/JakeFAU/crawl-frontier/internal/progress/sinks"
	"github.com/JakeFAU/crawl-frontier/internal/queue"
	queuememory "github.com/JakeFAU/crawl-frontier/internal/queue/memory"
	queuesqlite "github.com/JakeFAU/crawl-frontier/internal/queue/sqlite"
	"github.com/JakeFAU/crawl-frontier/internal/scope"
	"github.com/JakeFAU/crawl-frontier/internal/seen"
	seenbloom "github.com/JakeFAU/crawl-frontier/internal/seen/bloom"
	seenmemory "github.com/JakeFAU/crawl-frontier/internal/seen/memory"
	seenredis "github.com/JakeFAU/crawl-frontier/internal/seen/redis"
	"github.com/JakeFAU/crawl-frontier/internal/storage"
	gcsstorage "github.com/JakeFAU/crawl-frontier/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-frontier/internal/storage/local"
	memorystorage "github.com/JakeFAU/crawl-frontier/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-frontier/internal/storage/postgres"
	"github.com/JakeFAU/crawl-frontier/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// App contains the crawl's long-lived dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	runID  string

	itemLog     queue.Log
	frontier    *frontier.Frontier
	dispatch    *dispatcher.Dispatcher
	apiServer   *api.Server
	progressHub *progress.Hub
	headless    *headlessfetcher.Fetcher
	snapshots   storage.SnapshotStore

	redisSet  *seenredis.Set
	pgStore   *pgstore.SnapshotStore
	gcsClient *gcs.Client
}

// Frontier exposes the built frontier.
func (a *App) Frontier() *frontier.Frontier {
	return a.frontier
}

// RunID is the identifier stamped on this run's events and snapshots.
func (a *App) RunID() string {
	return a.runID
}

// Handler returns the operator HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Build creates the application's dependencies. A nil logger builds one from
// cfg.Logging.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	app := &App{cfg: cfg, logger: logger, runID: runID}
	logger.Info("building crawl", zap.String("run_id", runID),
		zap.Int("concurrency", cfg.Crawler.Concurrency))

	ok := false
	defer func() {
		if !ok {
			app.abort()
		}
	}()

	if app.itemLog, err = setupItemLog(ctx, app); err != nil {
		return nil, err
	}
	filter, err := setupSeen(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupSnapshots(ctx, app); err != nil {
		return nil, err
	}
	opts, err := frontierOptions(app)
	if err != nil {
		return nil, err
	}
	app.frontier, err = frontier.New(ctx, app.itemLog, filter, opts, frontier.Config{
		PollInterval: cfg.Frontier.PollInterval,
		HoldQueues:   cfg.Frontier.HoldQueues,
		MaxRetries:   cfg.Frontier.MaxRetries,
		RunID:        runID,
	}, logger.Named("frontier"))
	if err != nil {
		return nil, fmt.Errorf("frontier init failed: %w", err)
	}
	if err = registerCollector(metrics.NewFrontierCollector(app.frontier)); err != nil {
		return nil, err
	}
	if err = setupProgress(ctx, app); err != nil {
		return nil, err
	}

	forbidden := scope.NewForbiddenTracker(cfg.Scope.ForbiddenThreshold)
	crawlScope := scope.New(scope.Config{
		AllowedHosts: cfg.Scope.AllowedHosts,
		Blocked:      cfg.Scope.Blocked,
		MaxHops:      cfg.Scope.MaxHops,
		FollowEmbeds: cfg.Scope.FollowEmbeds,
	}, forbidden)

	if err = setupDispatcher(app, crawlScope, forbidden); err != nil {
		return nil, err
	}
	app.apiServer = api.NewServer(app.frontier, api.Config{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		Scope:          crawlScope,
	}, logger)

	seedCrawl(ctx, app, crawlScope)
	ok = true
	return app, nil
}

func setupItemLog(ctx context.Context, app *App) (queue.Log, error) {
	switch app.cfg.Storage.ItemLog {
	case "sqlite":
		l, err := queuesqlite.Open(ctx, app.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite item log init failed: %w", err)
		}
		app.logger.Info("using sqlite item log", zap.String("path", app.cfg.Storage.SQLitePath))
		return l, nil
	default:
		app.logger.Info("using in-memory item log")
		return queuememory.NewLog(), nil
	}
}

func setupSeen(ctx context.Context, app *App) (*seen.Filter[*frontier.CrawlItem], error) {
	cfg := app.cfg.Seen
	var set seen.Set
	switch cfg.Backend {
	case "bloom":
		set = seenbloom.NewSet(cfg.Capacity, cfg.FPRate)
		app.logger.Info("using bloom already-seen set",
			zap.Uint("capacity", cfg.Capacity), zap.Float64("fp_rate", cfg.FPRate))
	case "redis":
		rs, err := seenredis.New(seenredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return nil, fmt.Errorf("redis seen set init failed: %w", err)
		}
		app.redisSet = rs
		set = rs
		app.logger.Info("using redis already-seen set", zap.String("addr", cfg.Redis.Addr))
	default:
		set = seenmemory.NewSet()
		app.logger.Info("using in-memory already-seen set")
	}
	return seen.NewFilter[*frontier.CrawlItem](set, seen.Config{
		BatchSize:   cfg.BatchSize,
		OpTimeout:   cfg.OpTimeout,
		BaseContext: context.WithoutCancel(ctx),
		Logger:      app.logger.Named("seen"),
	}), nil
}

func setupSnapshots(ctx context.Context, app *App) error {
	cfg := app.cfg.Storage
	var err error
	switch cfg.Snapshot {
	case "memory":
		app.snapshots = memorystorage.NewSnapshotStore()
	case "local":
		app.snapshots, err = localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return fmt.Errorf("local snapshot store init failed: %w", err)
		}
	case "postgres":
		app.pgStore, err = pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres snapshot store init failed: %w", err)
		}
		app.snapshots = app.pgStore
	case "gcs":
		app.gcsClient, err = gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		app.snapshots, err = gcsstorage.New(app.gcsClient, gcsstorage.Config{
			Bucket: cfg.GCS.Bucket,
			Object: cfg.GCS.Object,
		})
		if err != nil {
			return fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
	default:
		app.logger.Info("snapshots disabled")
		return nil
	}
	app.logger.Info("snapshot store initialized", zap.String("backend", cfg.Snapshot))
	return nil
}

func frontierOptions(app *App) (frontier.Options, error) {
	cfg := app.cfg
	costPolicy, err := cost.New(cfg.Frontier.CostPolicy)
	if err != nil {
		return frontier.Options{}, fmt.Errorf("cost policy: %w", err)
	}
	opts := frontier.Options{
		Canonicalizer: frontier.URLCanonicalizer{},
		Fingerprinter: xxhash.New(),
		Classifier:    frontier.HostClassifier{},
		Cost:          costPolicy,
		Budget:        budget.NewStatic(cfg.Frontier.SessionBudget, cfg.Frontier.TotalBudget, cfg.Frontier.BudgetOverrides),
		Retry: retry.NewExponential(retry.Config{
			MaxRetries: cfg.Frontier.MaxRetries,
			BaseDelay:  cfg.Frontier.RetryBaseDelay,
			MaxDelay:   cfg.Frontier.RetryMaxDelay,
		}),
		Clock:     system.New(),
		Snapshots: app.snapshots,
	}
	if cfg.Frontier.QueueKey == "domain" {
		opts.Classifier = frontier.DomainClassifier{}
	}
	switch cfg.Politeness.Mode {
	case "factor":
		opts.Politeness = politeness.NewFactor(politeness.Config{
			DelayFactor: cfg.Politeness.DelayFactor,
			MinDelay:    cfg.Politeness.MinDelay,
			MaxDelay:    cfg.Politeness.MaxDelay,
		})
	case "rate":
		opts.Politeness = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Politeness.RPS,
			DefaultBurst: cfg.Politeness.Burst,
			PerKeyRPS:    cfg.Politeness.PerKeyRPS,
		})
	}
	app.logger.Info("frontier policies",
		zap.String("queue_key", cfg.Frontier.QueueKey),
		zap.String("cost", cfg.Frontier.CostPolicy),
		zap.String("politeness", cfg.Politeness.Mode),
		zap.Int64("session_budget", cfg.Frontier.SessionBudget),
		zap.Int64("total_budget", cfg.Frontier.TotalBudget),
	)
	return opts, nil
}

func registerCollector(c prometheus.Collector) error {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			// A rebuilt app in the same process replaces the previous frontier.
			prometheus.Unregister(are.ExistingCollector)
			if err = prometheus.Register(c); err != nil {
				return fmt.Errorf("register frontier collector: %w", err)
			}
			return nil
		}
		return fmt.Errorf("register frontier collector: %w", err)
	}
	return nil
}

func setupProgress(ctx context.Context, app *App) error {
	cfg := app.cfg.Events
	var sinkList []progress.Sink
	if cfg.Log {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	if cfg.Prometheus {
		ps, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			app.logger.Warn("prometheus event sink unavailable", zap.Error(err))
		} else {
			sinkList = append(sinkList, ps)
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := progresssinks.NewKafkaSink(progresssinks.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		})
		if err != nil {
			return fmt.Errorf("kafka sink init failed: %w", err)
		}
		sinkList = append(sinkList, ks)
		app.logger.Info("kafka event sink initialized", zap.String("topic", cfg.Kafka.Topic))
	}
	if cfg.PubSub.ProjectID != "" {
		pss, err := progresssinks.NewPubSubSink(ctx, progresssinks.PubSubConfig{
			ProjectID: cfg.PubSub.ProjectID,
			TopicID:   cfg.PubSub.TopicID,
		})
		if err != nil {
			return fmt.Errorf("pubsub sink init failed: %w", err)
		}
		sinkList = append(sinkList, pss)
		app.logger.Info("pubsub event sink initialized",
			zap.String("project", cfg.PubSub.ProjectID), zap.String("topic", cfg.PubSub.TopicID))
	}
	if len(sinkList) == 0 {
		app.logger.Info("frontier events disabled")
		return nil
	}
	app.progressHub = progress.NewHub(progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}, sinkList...)
	app.progressHub.Attach(app.frontier)
	app.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

func setupDispatcher(app *App, crawlScope *scope.Scope, forbidden *scope.ForbiddenTracker) error {
	cfg := app.cfg
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetcher.UserAgent,
		RespectRobots: cfg.Fetcher.RespectRobots,
		Timeout:       cfg.Fetcher.Timeout,
		MaxBodySize:   cfg.Fetcher.MaxBodySize,
	})
	app.logger.Info("using colly probe fetcher", zap.String("user_agent", cfg.Fetcher.UserAgent))

	opts := worker.Options{Scope: crawlScope, Forbidden: forbidden}
	if h := cfg.Fetcher.Headless; h.Enabled {
		var err error
		app.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       h.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: h.NavigationTimeout,
			SettleDelay:       h.SettleDelay,
		})
		if err != nil {
			return fmt.Errorf("headless fetcher init failed: %w", err)
		}
		opts.Headless = app.headless
		opts.Detector = detector.NewHeuristic(h.PromotionBytes, h.PromotionMinLinks)
		app.logger.Info("using headless fetcher", zap.Int("max_parallel", h.MaxParallel))
	}

	headers := make(http.Header, len(cfg.Crawler.Headers))
	for k, v := range cfg.Crawler.Headers {
		headers.Set(k, v)
	}
	workers := make([]dispatcher.Runner, 0, cfg.Crawler.Concurrency)
	for i := range cfg.Crawler.Concurrency {
		workers = append(workers, worker.New(i, app.frontier, probe, opts, worker.Config{
			Headers:         headers,
			MaxLinksPerPage: cfg.Crawler.MaxLinksPerPage,
		}, app.logger))
	}
	app.dispatch = dispatcher.New(app.frontier, workers, dispatcher.Config{
		StopWhenDrained: cfg.Crawler.StopWhenDrained,
		DrainInterval:   cfg.Crawler.DrainInterval,
		DrainChecks:     cfg.Crawler.DrainChecks,
	}, app.logger)
	return nil
}

func seedCrawl(ctx context.Context, app *App, crawlScope *scope.Scope) {
	scheduled := 0
	for _, raw := range app.cfg.Crawler.Seeds {
		c := frontier.Candidate{URI: raw, Seed: true}
		if !crawlScope.Allows(c) {
			app.logger.Warn("seed out of scope", zap.String("url", raw))
			continue
		}
		if err := app.frontier.Schedule(ctx, c); err != nil {
			app.logger.Warn("seed rejected", zap.String("url", raw), zap.Error(err))
			continue
		}
		scheduled++
	}
	if len(app.cfg.Crawler.Seeds) > 0 {
		app.logger.Info("seeds scheduled", zap.Int("scheduled", scheduled),
			zap.Int("configured", len(app.cfg.Crawler.Seeds)))
	}
}

// Run serves the operator API and drives the worker pool until the crawl
// drains, a worker fails, or ctx is canceled (SIGINT and SIGTERM included).
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.cfg.Server.Port > 0 {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}
	if a.snapshots != nil && a.cfg.Frontier.SnapshotInterval > 0 {
		go a.frontier.RunSnapshots(ctx, a.cfg.Frontier.SnapshotInterval)
	}

	runErr := a.dispatch.Run(ctx)
	if runErr != nil {
		a.logger.Error("crawl stopped with error", zap.Error(runErr))
	}
	a.logger.Info("crawl finished", zap.String("report", a.frontier.OneLineReport()))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Close terminates the frontier, flushes events and releases clients.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.frontier != nil {
		if cerr := a.frontier.Close(ctx); cerr != nil {
			err = fmt.Errorf("close frontier: %w", cerr)
		}
	}
	a.closeInfrastructure(ctx)
	if serr := a.logger.Sync(); serr != nil {
		a.logger.Debug("logger sync failed", zap.Error(serr))
	}
	a.logger.Info("shutdown complete")
	return err
}

// abort releases whatever a failed Build managed to open.
func (a *App) abort() {
	ctx := context.Background()
	switch {
	case a.frontier != nil:
		if err := a.frontier.Close(ctx); err != nil {
			a.logger.Warn("frontier close failed", zap.Error(err))
		}
	case a.itemLog != nil:
		if err := a.itemLog.Close(); err != nil {
			a.logger.Warn("item log close failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := a.progressHub.Dropped(); dropped > 0 {
			a.logger.Warn("frontier events dropped", zap.Int64("dropped", dropped))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.redisSet != nil {
		if err := a.redisSet.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rezaul-kabir/gridbase/libs/config"
	"github.com/rezaul-kabir/gridbase/libs/db"
	"github.com/rezaul-kabir/gridbase/libs/httpx"
	"github.com/rezaul-kabir/gridbase/libs/kafkax"
	otelx "github.com/rezaul-kabir/gridbase/libs/otel"
	"github.com/rezaul-kabir/gridbase/libs/runtime"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/bus"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/command"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/eventstore"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/inbox"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/ingest"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/outbox"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/projection"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/query"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/saga"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/views"
)

func main() {
	service := config.String("SERVICE_NAME", "consistency-service")
	port, err := config.Port("PORT", "8087")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	redisAddr := config.String("REDIS_ADDR", "")

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		panic(err)
	}

	outboxStore := outbox.NewPostgresStore(pool)
	runner := outbox.NewPgRunner(pool, outboxStore)
	eventStore := eventstore.NewPostgresStore(pool)
	stateStore := projection.NewPostgresStateStore(pool)
	inboxRepo := inbox.NewPostgresRepository(pool)
	sagaStore := saga.NewPostgresStore(pool)

	kafkaBus := bus.NewKafkaBus(kafkax.SplitBrokers(brokers))
	defer kafkaBus.Close()

	publisher, err := outbox.NewPublisher(outboxStore, kafkaBus, logger, outbox.PublisherConfig{
		PollInterval:     cfg.pollInterval,
		BatchSize:        cfg.batchSize,
		MaxRetries:       cfg.maxRetries,
		FailureThreshold: uint32(cfg.breakerThreshold),
		OpenDuration:     cfg.breakerOpenFor,
		StuckAfter:       cfg.stuckAfter,
	})
	if err != nil {
		logger.Error("publisher setup failed", "err", err)
		panic(err)
	}
	go publisher.Run(ctx)

	manager := projection.NewManager(stateStore, eventStore, logger, cfg.projectionWorkers)
	manager.Register(views.NewUserProfiles())
	manager.Register(views.NewWorkspaceSummaries())
	manager.Start()
	defer manager.Stop()

	registry := command.NewRegistry()
	registerPlatformHandlers(registry, runner, eventStore)
	commandBus := command.NewBus(registry, logger)

	orchestrator := saga.NewOrchestrator(sagaStore, commandBus, logger, cfg.sagaStepTimeout)
	orchestrator.Register(workspaceProvisioningSaga())
	if err := orchestrator.Recover(ctx); err != nil {
		logger.Error("saga recovery failed", "err", err)
	}
	defer orchestrator.Stop()

	consumer := ingest.NewConsumer(inboxRepo, eventStore, manager, orchestrator, logger)
	ingestRunner := ingest.NewKafkaRunner(logger, consumer, ingest.KafkaConfig{
		Brokers: brokers,
		GroupID: service,
		Topics:  cfg.eventTopics,
	})
	go ingestRunner.Run(ctx)

	querySvc := query.NewService(stateStore, manager, rdb, cfg.viewCacheTTL, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	query.NewHandler(querySvc, logger).Register(mux)

	middleware := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	}
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, cfg.rateLimit, time.Minute, service)
		middleware = append(middleware, limiter.Middleware(logger, true))
	}
	handler := httpx.Chain(mux, middleware...)
	handler = otelhttp.NewHandler(handler, "consistency")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

type serviceConfig struct {
	pollInterval      time.Duration
	batchSize         int
	maxRetries        int
	stuckAfter        time.Duration
	breakerThreshold  int
	breakerOpenFor    time.Duration
	sagaStepTimeout   time.Duration
	projectionWorkers int
	viewCacheTTL      time.Duration
	rateLimit         int
	eventTopics       []string
}

func loadConfig() (serviceConfig, error) {
	var cfg serviceConfig
	var err error

	if cfg.pollInterval, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.batchSize, err = config.Int("OUTBOX_BATCH_SIZE", 50); err != nil {
		return cfg, err
	}
	if cfg.maxRetries, err = config.Int("OUTBOX_MAX_RETRIES", 5); err != nil {
		return cfg, err
	}
	if cfg.stuckAfter, err = config.Duration("OUTBOX_STUCK_AFTER", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.breakerThreshold, err = config.Int("BREAKER_FAILURE_THRESHOLD", 5); err != nil {
		return cfg, err
	}
	if cfg.breakerOpenFor, err = config.Duration("BREAKER_OPEN_DURATION", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.sagaStepTimeout, err = config.Duration("SAGA_STEP_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.projectionWorkers, err = config.Int("PROJECTION_WORKERS", 4); err != nil {
		return cfg, err
	}
	if cfg.viewCacheTTL, err = config.Duration("VIEW_CACHE_TTL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.rateLimit, err = config.Int("HTTP_RATE_LIMIT_PER_MINUTE", 600); err != nil {
		return cfg, err
	}

	topics := config.String("EVENT_TOPICS",
		"UserRegistered,UserProfileInitialized,UserDeactivated,"+
			"WorkspaceCreated,ProjectCreated,BaseCreated,WorkspaceArchived,"+
			"ProjectDeleted,BaseDeleted,WorkspaceProvisioningRequested")
	for _, topic := range strings.Split(topics, ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			cfg.eventTopics = append(cfg.eventTopics, topic)
		}
	}
	return cfg, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/adapter/mock"
	"github.com/yourorg/purchase-gateway/internal/adapter/rest"
	"github.com/yourorg/purchase-gateway/internal/api"
	"github.com/yourorg/purchase-gateway/internal/blacklist"
	"github.com/yourorg/purchase-gateway/internal/circuitbreaker"
	"github.com/yourorg/purchase-gateway/internal/config"
	"github.com/yourorg/purchase-gateway/internal/consumer"
	"github.com/yourorg/purchase-gateway/internal/fraud"
	"github.com/yourorg/purchase-gateway/internal/idempotency"
	"github.com/yourorg/purchase-gateway/internal/monitor"
	"github.com/yourorg/purchase-gateway/internal/observability"
	"github.com/yourorg/purchase-gateway/internal/orchestrator"
	"github.com/yourorg/purchase-gateway/internal/policy"
	"github.com/yourorg/purchase-gateway/internal/processor"
	"github.com/yourorg/purchase-gateway/internal/reaper"
	"github.com/yourorg/purchase-gateway/internal/reporting"
	"github.com/yourorg/purchase-gateway/internal/repository"
	"github.com/yourorg/purchase-gateway/internal/requestctx"
	"github.com/yourorg/purchase-gateway/internal/resilience"
	"github.com/yourorg/purchase-gateway/internal/threeds"
	"github.com/yourorg/purchase-gateway/internal/transaction"
)

const (
	serviceName      = "purchase-gateway"
	ledgerSize       = 10000
	upstreamTimeout  = 15 * time.Second
	shutdownDeadline = 10 * time.Second
)

// upstreams are the collaborator services, remote or in-process.
type upstreams struct {
	fraud     adapter.FraudService
	cascades  adapter.CascadeService
	mappings  adapter.BillerMappingService
	routings  adapter.BinRoutingService
	sites     adapter.SiteConfigService
	siteAdmin adapter.SiteAdminService
}

// app is the wired gateway: the HTTP router plus its background workers.
type app struct {
	router    *gin.Engine
	workers   []func(ctx context.Context)
	closers   []func() error
	logger    *zap.Logger
	orch      *orchestrator.Orchestrator
	ledger    *reporting.Ledger
	processor *processor.Processor
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing resource", zap.Error(err))
		}
	}
}

func newUpstreams(cfg *config.Config, httpClient *http.Client) upstreams {
	if cfg.Upstream.ServicesURL == "" {
		return upstreams{
			fraud:     &mock.FraudService{},
			cascades:  &mock.CascadeService{Billers: cfg.Cascade.Billers},
			mappings:  &mock.BillerMappingService{},
			routings:  &mock.BinRoutingService{},
			sites:     &mock.SiteConfigService{},
			siteAdmin: &mock.SiteAdminService{},
		}
	}
	svc := rest.NewServices(cfg.Upstream.ServicesURL, cfg.Upstream.APIKey, httpClient)
	return upstreams{
		fraud:     svc.Fraud(),
		cascades:  svc.Cascades(),
		mappings:  svc.BillerMappings(),
		routings:  svc.BinRoutings(),
		sites:     svc.SiteConfigs(),
		siteAdmin: svc.SiteAdmin(),
	}
}

func newBillers(cfg *config.Config, httpClient *http.Client, cb *circuitbreaker.CircuitBreaker) *processor.Processor {
	proc := processor.NewProcessor()
	for _, name := range cfg.Cascade.Billers {
		var b adapter.BillerAdapter
		if cfg.Upstream.BillerURL == "" {
			b = mock.NewMockBiller(name)
		} else {
			b = rest.NewBiller(name, strings.TrimRight(cfg.Upstream.BillerURL, "/")+"/"+name, cfg.Upstream.APIKey, httpClient)
		}
		proc.Register(resilience.NewBiller(b, cb))
	}
	return proc
}

func newRepository(cfg *config.Config, a *app) (repository.Repository, error) {
	if cfg.Database.URL == "" {
		return repository.NewMemoryRepository(), nil
	}
	db, err := repository.Open(cfg.Database.URL, gormlogger.Warn)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sqlDB.Close)
	repo, err := repository.NewGormRepository(db)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// buildApp wires every component from cfg. Redis, the database and Kafka are
// optional; without them the gateway runs on in-memory stores.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger}

	var (
		store      idempotency.Store            = idempotency.NewMemoryStore()
		stateStore circuitbreaker.StateStore    = circuitbreaker.NewMemoryStateStore()
		cards      adapter.CardBlacklistService = mock.NewBlacklistService()
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		store = idempotency.NewRedisStore(client)
		stateStore = circuitbreaker.NewRedisStateStore(client)
		cards = blacklist.NewRedisBlacklist(client, cfg.Upstream.BlacklistTTL)
	}

	repo, err := newRepository(cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold:         cfg.Breaker.FailureThreshold,
		ResetTimeout:             cfg.Breaker.ResetTimeout,
		HalfOpenSuccessThreshold: cfg.Breaker.HalfOpenSuccesses,
		CallTimeout:              cfg.Breaker.CallTimeout,
		IsFailure:                resilience.IsBreakerFailure,
	}, circuitbreaker.WithStateStore(stateStore), circuitbreaker.WithLogger(logger))

	httpClient := &http.Client{Timeout: upstreamTimeout}
	up := newUpstreams(cfg, httpClient)
	sites := resilience.NewSiteConfigService(up.sites, cb, logger)
	guardedCards := resilience.NewBlacklistService(cards, cb, logger)
	a.processor = newBillers(cfg, httpClient, cb)

	failover, err := policy.NewFailoverPolicy(nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ledger = reporting.NewLedger(ledgerSize)
	txs := transaction.NewService(
		a.processor,
		resilience.NewBillerMappingService(up.mappings, cb),
		resilience.NewBinRoutingService(up.routings, cb, logger),
		guardedCards,
		failover,
		transaction.WithLedger(a.ledger),
		transaction.WithLogger(logger),
	)

	sessions := orchestrator.NewSessions(
		repo,
		idempotency.NewSessionLocker(store, cfg.Session.LockTTL, logger),
		idempotency.NewStatusStore(store, cfg.Session.AuthTokenTTL),
		logger,
	)
	contexts := requestctx.NewBuilder(sites, requestctx.TimeoutConfig{
		OverallBudgetMs: cfg.PaymentBudgetMs,
		BillerTimeoutMs: cfg.BillerTimeoutMs,
	}, logger)

	a.orch = orchestrator.NewOrchestrator(orchestrator.Dependencies{
		Sessions:     sessions,
		Contexts:     contexts,
		Fraud:        resilience.NewFraudService(up.fraud, cb, logger),
		Cascades:     resilience.NewCascadeService(up.cascades, cb, cfg.Cascade.DefaultBiller, logger),
		Blacklist:    guardedCards,
		Mapper:       fraud.NewMapper(fraud.Config{}),
		Transactions: txs,
		Logger:       logger,
	})
	threeDS := threeds.NewHandler(sessions, contexts, a.processor, txs, guardedCards, logger)

	contracts, err := monitor.LoadContracts()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.router = api.NewRouter(api.NewHandler(a.orch, threeDS, contracts, a.ledger, logger), serviceName)

	refresher := resilience.NewSiteConfigRefresher(resilience.NewSiteAdminService(up.siteAdmin, cb, logger), sites, logger)
	a.workers = append(a.workers, func(ctx context.Context) { refresher.Run(ctx, cfg.Upstream.SiteAdminPoll) })

	var dispatch reaper.Dispatcher = reaper.NewDirectDispatcher(a.orch, logger)
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := consumer.NewPublisher(consumer.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.CommandTopic))
		dispatch = publisher
		a.closers = append(a.closers, publisher.Close)

		deadLetter := consumer.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.CommandTopic+".dlq")
		a.closers = append(a.closers, deadLetter.Close)
		commands := consumer.NewConsumer(
			consumer.NewReader(cfg.Kafka.Brokers, cfg.Kafka.CommandTopic, cfg.Kafka.GroupID),
			a.orch,
			consumer.WithDeadLetter(deadLetter),
			consumer.WithLogger(logger),
		)
		a.closers = append(a.closers, commands.Close)
		a.workers = append(a.workers, func(ctx context.Context) {
			if err := commands.Run(ctx); err != nil {
				logger.Error("command consumer stopped", zap.Error(err))
			}
		})
	}
	sweeper := reaper.NewReaper(repo, dispatch, cfg.Session.AuthTokenTTL,
		reaper.WithBatch(cfg.Session.ReaperBatch), reaper.WithLogger(logger))
	a.workers = append(a.workers, func(ctx context.Context) { sweeper.Run(ctx, cfg.Session.ReaperInterval) })

	return a, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	gin.SetMode(cfg.Server.Mode)

	tp, err := observability.NewTracerProvider(serviceName, os.Stdout)
	if err != nil {
		logger.Fatal("failed to start tracing", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build gateway", zap.Error(err))
	}
	defer a.Close()

	for _, run := range a.workers {
		go run(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if err := observability.Shutdown(shutdownCtx, tp); err != nil {
		logger.Error("tracer shutdown failed", zap.Error(err))
	}
}

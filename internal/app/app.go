package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/returns/internal/health"
	"github.com/vladislavdragonenkov/returns/internal/metrics"
	"github.com/vladislavdragonenkov/returns/internal/service/httpapi"
	"github.com/vladislavdragonenkov/returns/internal/service/idempotency"
	"github.com/vladislavdragonenkov/returns/internal/service/outbox"
	"github.com/vladislavdragonenkov/returns/internal/version"
)

const (
	readHeaderTimeout = 5 * time.Second
	grpcStopTimeout   = 5 * time.Second
)

// Run поднимает HTTP API, gRPC health, сервер метрик и фоновые воркеры
// и блокируется до отмены ctx или ошибки одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	returnsMetrics := metrics.NewReturnsMetrics()
	orch, err := createOrchestrator(cfg, deps, returnsMetrics, logger)
	if err != nil {
		_ = deps.close()
		return err
	}

	kafkaRT := initKafka(cfg, orch.orderSync, logger)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorkers(workerCtx, &workers, cfg, deps, kafkaRT, returnsMetrics, logger)
	kafkaRT.start(workerCtx, logger)
	orch.runRealtime(workerCtx, logger)

	healthHandler := newHealthHandler(cfg, deps, orch)

	api, err := httpapi.NewHandler(httpapi.Deps{
		Returns:       orch.returns,
		OrderStatus:   orch.orderSync,
		Notifications: orch.notify,
		Orders:        deps.orderRepo,
		Users:         deps.users,
		Wallets:       deps.walletRepo,
		Idempotency:   deps.idempotencyRepo,
		Realtime:      orch.hub,
		JWTSecret:     []byte(cfg.JWTSecret),
	}, httpapi.WithLogger(logger.WithField("layer", "http")), httpapi.WithIdempotencyTTL(cfg.IdempotencyTTL))
	if err != nil {
		cancelWorkers()
		workers.Wait()
		return multierr.Combine(err, kafkaRT.close(logger), deps.close())
	}

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Routes(), ReadHeaderTimeout: readHeaderTimeout}
	grpcServer, healthServer := newGRPCServer(logger)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 2)
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		cancelWorkers()
		workers.Wait()
		shutdownHTTP(metricsSrv, logger)
		return multierr.Combine(fmt.Errorf("listen http: %w", err), kafkaRT.close(logger), deps.close())
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		cancelWorkers()
		workers.Wait()
		shutdownHTTP(metricsSrv, logger)
		return multierr.Combine(fmt.Errorf("listen grpc: %w", err), kafkaRT.close(logger), deps.close())
	}

	go func() {
		logger.Infof("HTTP API listens on %s", httpLis.Addr())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Infof("gRPC health listens on %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed, shutting down")
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(httpSrv, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)
	orch.hub.Close()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	var closeErr error
	if err := orch.dispatcher.Shutdown(drainCtx); err != nil {
		logger.WithError(err).Warn("background tasks did not finish before shutdown timeout")
		closeErr = multierr.Append(closeErr, err)
	}

	cancelWorkers()
	workers.Wait()
	closeErr = multierr.Append(closeErr, kafkaRT.close(logger))
	if orch.redis != nil {
		closeErr = multierr.Append(closeErr, orch.redis.Close())
	}
	closeErr = multierr.Append(closeErr, deps.close())
	if closeErr != nil {
		logger.WithError(closeErr).Warn("shutdown finished with errors")
	}
	logger.Info("returns service stopped")
	return runErr
}

// startWorkers запускает outbox worker и очистку ключей идемпотентности.
// Без Kafka события outbox публикуются в лог.
func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg Config, deps *runtimeDependencies, kafkaRT *kafkaRuntime, m *metrics.ReturnsMetrics, logger *log.Entry) {
	var publisher, dlq domain.OutboxPublisher = newLogPublisher(logger), nil
	if kafkaRT != nil {
		publisher, dlq = kafkaRT.lifecycle, kafkaRT.dlq
	}

	outboxWorker := outbox.NewWorker(deps.outboxRepo, publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(dlq),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithMetrics(m),
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanupWorker.Run(ctx)
	}()
}

// newHealthHandler регистрирует проверки: хранилище критично, Redis и backlog outbox нет.
func newHealthHandler(cfg Config, deps *runtimeDependencies, orch *orchestrator) *healthcheck.Handler {
	h := healthcheck.NewHandler(version.Service, version.GetVersion())
	h.RegisterChecker("storage", healthcheck.NewChecker("storage", deps.ping))
	if orch.redis != nil {
		h.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", orch.redis.Ping))
	}
	h.RegisterChecker("outbox", healthcheck.NewOptionalChecker("outbox", func(ctx context.Context) error {
		stats, err := deps.outboxRepo.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.PendingCount > cfg.OutboxMaxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, cfg.OutboxMaxPending)
		}
		return nil
	}))
	return h
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcStopTimeout):
		logger.Warn("grpc graceful stop timed out, forcing stop")
		server.Stop()
	}
}

// startMetricsServer запускает /metrics и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// logPublisher пишет события outbox в лог, когда брокер не настроен.
type logPublisher struct {
	logger *log.Entry
}

func newLogPublisher(logger *log.Entry) *logPublisher {
	return &logPublisher{logger: logger.WithField("component", "outbox-log")}
}

func (p *logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_id":       event.ID,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"event":          event.EventType,
	}).Debug("lifecycle event")
	return nil
}

package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/babyfood/internal/health"
	"github.com/vladislavdragonenkov/babyfood/internal/httpapi"
	"github.com/vladislavdragonenkov/babyfood/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
	"github.com/vladislavdragonenkov/babyfood/internal/service/outbox"
	"github.com/vladislavdragonenkov/babyfood/internal/service/retention"
	"github.com/vladislavdragonenkov/babyfood/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Run поднимает storefront и admin API, фоновые воркеры и сервер метрик.
// Возвращает ctx.Err() после штатной остановки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	runtime, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := runtime.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	deps := newDependencies(cfg, runtime, metrics.New(), logger)

	// Kafka опциональна: без брокеров события копятся в outbox.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	// Consumer останавливается после отмены контекста воркеров, иначе цикл Consume
	// продолжит переподключаться к закрытой группе.
	var paymentConsumer *kafka.Consumer
	defer func() { stopConsumer(paymentConsumer, logger) }()

	workersCtx, cancelWorkers := context.WithCancel(ctx)
	workersDone := startWorkers(workersCtx, cfg, deps, kafkaProducer, logger)
	defer shutdownWorkers(cancelWorkers, workersDone, logger)

	if kafkaProducer != nil {
		paymentConsumer, err = startPaymentConsumer(workersCtx, cfg, kafkaProducer, deps.Orders, deps.Metrics, logger)
		if err != nil {
			logger.WithError(err).Warn("payment events consumer is not started")
		}
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion(), healthcheck.WithLogger(logger.WithField("component", "health")))
	runtime.registerCheckers(healthHandler)
	if kafkaProducer != nil {
		healthHandler.RegisterChecker("kafka", healthcheck.NewDegradedChecker(
			healthcheck.NewSimpleChecker("kafka", kafka.BrokerCheck(kafka.SplitBrokers(cfg.KafkaBrokers))),
		))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}

	apiSrv := &http.Server{
		Handler:           httpapi.NewRouter(deps.HTTPHandler()),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", lis.Addr())
		errCh <- apiSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startWorkers запускает outbox, очистку служебных записей и, если задан
// интервал, периодическую проверку сроков оплаты. Канал закрывается, когда все
// воркеры вернулись.
func startWorkers(ctx context.Context, cfg Config, deps *Dependencies, producer *kafka.Producer, logger *log.Entry) <-chan struct{} {
	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.WithField("worker", name).Info("worker started")
			fn(ctx)
			logger.WithField("worker", name).Info("worker stopped")
		}()
	}

	if producer != nil {
		worker := outbox.NewWorker(
			deps.runtime.outboxRepo,
			kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(deps.Metrics),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		run("outbox", worker.Run)
	} else {
		logger.Warn("kafka is not configured, outbox events stay pending")
	}

	janitor := retention.NewJanitor(
		[]retention.Task{
			retention.CheckoutAttemptsTask(deps.runtime.checkoutAttempts),
			retention.OutboxSentTask(deps.runtime.outboxRepo, cfg.OutboxRetention),
		},
		retention.WithLogger(logger.WithField("component", "retention")),
		retention.WithMetrics(deps.Metrics),
		retention.WithInterval(cfg.RetentionInterval),
		retention.WithBatchSize(cfg.RetentionBatchSize),
	)
	run("retention", janitor.Run)

	if cfg.SweepInterval > 0 {
		run("expiry-sweeper", deps.Sweeper.Run)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// shutdownWorkers отменяет контекст воркеров и ждёт их завершения не дольше shutdownTimeout.
func shutdownWorkers(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("background workers did not stop before timeout")
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
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
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// Package metrics собирает Prometheus-метрики склада, заказов, проверки сроков и HTTP.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения метки result.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Исходы запроса оформления с Idempotency-Key.
const (
	AttemptStarted  = "started"
	AttemptReplayed = "replayed"
	AttemptInFlight = "in_flight"
	AttemptMismatch = "mismatch"
)

// Исходы публикации события из outbox.
const (
	PublishSent         = "sent"
	PublishRetry        = "retry"
	PublishFailed       = "failed"
	PublishDeadLettered = "dead_lettered"
	PublishDLQFailed    = "dlq_failed"
)

// Исходы обработки входящего сообщения Kafka.
const (
	ConsumeHandled      = "handled"
	ConsumeRetried      = "retried"
	ConsumeDeadLettered = "dead_lettered"
	ConsumeFailed       = "failed"
)

// Metrics содержит счётчики доменных операций. Nil-получатель допустим: все
// методы записи становятся no-op, это удобно в тестах сервисов.
type Metrics struct {
	// Склад
	inventoryOps *prometheus.CounterVec

	// Заказы
	ordersCreated     prometheus.Counter
	checkoutDuration  prometheus.Histogram
	paymentTransition *prometheus.CounterVec
	timelineEvents    prometheus.Counter
	outboxEvents      prometheus.Counter
	checkoutAttempts  *prometheus.CounterVec

	// Outbox
	outboxPublish   *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	outboxFailed    prometheus.Gauge
	outboxOldestAge prometheus.Gauge

	// Входящие сообщения Kafka
	consumedMessages *prometheus.CounterVec

	// Очистка устаревших записей
	retentionRuns   *prometheus.CounterVec
	retentionPurged *prometheus.CounterVec

	// Проверка сроков оплаты
	sweeps        *prometheus.CounterVec
	ordersExpired prometheus.Counter
	sweepErrors   prometheus.Counter
	sweepDuration prometheus.Histogram

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New регистрирует метрики в prometheus.DefaultRegisterer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer регистрирует метрики в заданном реестре. Повторная
// регистрация возвращает уже существующие коллекторы.
func NewWithRegisterer(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		inventoryOps: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "babyfood_inventory_operations_total",
			Help: "Total number of inventory ledger operations by operation and result",
		}, []string{"op", "result"}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "babyfood_orders_created_total",
			Help: "Total number of orders created at checkout",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "babyfood_checkout_duration_seconds",
			Help:    "Duration of order creation in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		paymentTransition: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "babyfood_payment_transitions_total",
			Help: "Total number of payment status updates by target and result",
		}, []string{"target", "result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "babyfood_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "babyfood_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		checkoutAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "babyfood_checkout_attempts_total",
			Help: "Total number of checkout requests carrying an Idempotency-Key by outcome",
		}, []string{"outcome"}),
		outboxPublish: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "babyfood_outbox_publish_total",
			Help: "Total number of outbox publish attempts by event type and result",
		}, []string{"event_type", "result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "babyfood_outbox_pending_records",
			Help: "Current number of pending records in the transactional outbox",
		}),
		outboxFailed: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "babyfood_outbox_failed_records",
			Help: "Current number of outbox records that exhausted publish attempts",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "babyfood_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		consumedMessages: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "babyfood_kafka_consumed_messages_total",
			Help: "Total number of consumed Kafka messages by topic and outcome",
		}, []string{"topic", "outcome"}),
		retentionRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "babyfood_retention_runs_total",
			Help: "Total number of retention purge runs by task and result",
		}, []string{"task", "result"}),
		retentionPurged: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "babyfood_retention_purged_total",
			Help: "Total number of records removed by retention tasks",
		}, []string{"task"}),
		sweeps: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "babyfood_expiry_sweeps_total",
			Help: "Total number of expiry sweeps by result",
		}, []string{"result"}),
		ordersExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "babyfood_expiry_orders_expired_total",
			Help: "Total number of orders expired by the sweeper",
		}),
		sweepErrors: registerCounter(registerer, prometheus.CounterOpts{
			Name: "babyfood_expiry_sweep_errors_total",
			Help: "Total number of per-order failures during expiry sweeps",
		}),
		sweepDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "babyfood_expiry_sweep_duration_seconds",
			Help:    "Duration of expiry sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "babyfood_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "babyfood_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordInventoryOperation учитывает вызов операции склада (reserve, release, ...).
func (m *Metrics) RecordInventoryOperation(op, result string) {
	if m == nil {
		return
	}
	m.inventoryOps.WithLabelValues(op, result).Inc()
}

// RecordOrderCreated учитывает созданный заказ и длительность оформления.
func (m *Metrics) RecordOrderCreated(duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordPaymentTransition учитывает попытку смены статуса оплаты.
func (m *Metrics) RecordPaymentTransition(target, result string) {
	if m == nil {
		return
	}
	m.paymentTransition.WithLabelValues(target, result).Inc()
}

func (m *Metrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

func (m *Metrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordCheckoutAttempt учитывает исход запроса оформления с Idempotency-Key.
func (m *Metrics) RecordCheckoutAttempt(outcome string) {
	if m == nil {
		return
	}
	m.checkoutAttempts.WithLabelValues(outcome).Inc()
}

// RecordOutboxPublish учитывает попытку публикации события из outbox.
func (m *Metrics) RecordOutboxPublish(eventType, result string) {
	if m == nil {
		return
	}
	m.outboxPublish.WithLabelValues(eventType, result).Inc()
}

// SetOutboxBacklog выставляет размер очереди outbox и возраст старейшей записи.
func (m *Metrics) SetOutboxBacklog(pending, failed int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPending.Set(float64(pending))
	m.outboxFailed.Set(float64(failed))
	m.outboxOldestAge.Set(oldestAge.Seconds())
}

// RecordConsumedMessage учитывает исход обработки сообщения из topic.
func (m *Metrics) RecordConsumedMessage(topic, outcome string) {
	if m == nil {
		return
	}
	m.consumedMessages.WithLabelValues(topic, outcome).Inc()
}

// RecordRetentionRun учитывает проход задачи очистки и число удалённых записей.
func (m *Metrics) RecordRetentionRun(task string, purged int, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.retentionRuns.WithLabelValues(task, result).Inc()
	m.retentionPurged.WithLabelValues(task).Add(float64(purged))
}

// RecordSweep учитывает завершённый проход проверки сроков.
// Проход с хотя бы одной ошибкой получает result=error.
func (m *Metrics) RecordSweep(expired, errs int, duration time.Duration) {
	if m == nil {
		return
	}
	result := ResultOK
	if errs > 0 {
		result = ResultError
	}
	m.sweeps.WithLabelValues(result).Inc()
	m.ordersExpired.Add(float64(expired))
	m.sweepErrors.Add(float64(errs))
	m.sweepDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest учитывает обработанный HTTP-запрос.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	Metrics        *metrics.Metrics
	DLQPublisher   domain.OutboxPublisher
	Clock          func() time.Time
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithMetrics подключает счётчики публикаций и gauge backlog.
func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithDLQPublisher задаёт издателя, куда уходят события после исчерпания попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *WorkerOptions) {
		opts.Clock = clock
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками. Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// WithRetryMaxDelay ограничивает рост паузы между попытками.
func WithRetryMaxDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryMaxDelay = delay
	}
}

// Worker публикует события заказов из outbox в брокер: created, paid, unpaid,
// expired и шаги исполнения.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	logger       *log.Entry
	metrics      *metrics.Metrics
	now          func() time.Time
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retry        backoff
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
		RetryMaxDelay:  maxRetryDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "outbox-worker")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	return &Worker{
		repo:         repo,
		publisher:    publisher,
		dlqPublisher: opts.DLQPublisher,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Clock,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		maxAttempts:  opts.MaxAttempts,
		retry:        backoff{base: opts.RetryBaseDelay, max: opts.RetryMaxDelay},
	}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл опроса и возвращает число опубликованных событий.
// Событие, не ушедшее за maxAttempts попыток, помечается failed и копируется в DLQ.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		w.refreshBacklog(ctx)
		return 0
	}

	sent := 0
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if w.deliver(ctx, event) {
			sent++
		}
	}

	w.refreshBacklog(ctx)
	if len(events) > 0 {
		w.logger.WithFields(log.Fields{"pulled": len(events), "sent": sent}).Debug("outbox batch processed")
	}
	return sent
}

func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) bool {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
	})

	attempts, err := w.publishWithRetry(ctx, event)
	if err == nil {
		w.metrics.RecordOutboxPublish(event.EventType, metrics.PublishSent)
		if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark outbox message as sent")
			return false
		}
		return true
	}
	if ctx.Err() != nil {
		// остановка посреди ретраев: событие остаётся pending до следующего запуска
		return false
	}

	entry.WithError(err).WithField("attempts", attempts).Error("outbox publish failed after retries")
	w.metrics.RecordOutboxPublish(event.EventType, metrics.PublishFailed)

	if dlqErr := w.deadLetter(ctx, event, err, attempts); dlqErr != nil {
		entry.WithError(dlqErr).Warn("failed to publish to DLQ")
		w.metrics.RecordOutboxPublish(event.EventType, metrics.PublishDLQFailed)
	}
	if markErr := w.repo.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
		entry.WithError(markErr).Warn("failed to mark outbox message as failed")
	}
	return false
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.publisher.Publish(ctx, event)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if attempt == w.maxAttempts {
			break
		}
		w.metrics.RecordOutboxPublish(event.EventType, metrics.PublishRetry)
		if err := wait(ctx, w.retry.delay(attempt)); err != nil {
			return attempt, err
		}
	}
	return w.maxAttempts, fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Worker) deadLetter(ctx context.Context, event domain.OutboxMessage, publishErr error, attempts int) error {
	if w.dlqPublisher == nil {
		return nil
	}

	msg, err := NewDeadLetter(event, publishErr, attempts, w.now()).Message()
	if err != nil {
		return err
	}
	if err := w.dlqPublisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	w.metrics.RecordOutboxPublish(event.EventType, metrics.PublishDeadLettered)
	return nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, stats.FailedCount, stats.OldestPendingAge(w.now()))
}

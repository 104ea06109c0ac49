// Package expiry отменяет заказы, не оплаченные до истечения срока.
package expiry

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
)

const (
	defaultBatchSize     = 100
	defaultWarningLimit  = 200
	defaultSweepInterval = time.Hour
)

// PaymentUpdater переводит заказ в конечный статус оплаты.
type PaymentUpdater interface {
	UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) (domain.Order, error)
}

// Result — итог одного прохода.
type Result struct {
	// Processed — заказы, переведённые в expired этим проходом.
	Processed int
	// Skipped — заказы, которые успел перевести кто-то другой.
	Skipped int
	Errors  int
}

// SweeperOptions задаёт параметры Sweeper.
type SweeperOptions struct {
	Logger    *log.Entry
	Metrics   *metrics.Metrics
	Clock     func() time.Time
	BatchSize int
	Interval  time.Duration
}

// Option настраивает Sweeper.
type Option func(*SweeperOptions)

func WithLogger(logger *log.Entry) Option {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *SweeperOptions) {
		opts.Metrics = m
	}
}

// WithClock подменяет текущее время.
func WithClock(clock func() time.Time) Option {
	return func(opts *SweeperOptions) {
		opts.Clock = clock
	}
}

// WithBatchSize задаёт размер страницы выборки просроченных заказов.
func WithBatchSize(batchSize int) Option {
	return func(opts *SweeperOptions) {
		opts.BatchSize = batchSize
	}
}

// WithInterval задаёт период Run.
func WithInterval(interval time.Duration) Option {
	return func(opts *SweeperOptions) {
		opts.Interval = interval
	}
}

// Sweeper находит pending-заказы с истёкшим сроком и переводит их в expired.
type Sweeper struct {
	orders    domain.OrderRepository
	updater   PaymentUpdater
	logger    *log.Entry
	metrics   *metrics.Metrics
	now       func() time.Time
	batchSize int
	interval  time.Duration
}

// NewSweeper создаёт Sweeper.
func NewSweeper(orders domain.OrderRepository, updater PaymentUpdater, options ...Option) *Sweeper {
	opts := SweeperOptions{
		BatchSize: defaultBatchSize,
		Interval:  defaultSweepInterval,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "expiry-sweeper")
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}

	return &Sweeper{
		orders:    orders,
		updater:   updater,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       clock,
		batchSize: opts.BatchSize,
		interval:  opts.Interval,
	}
}

// Sweep выполняет один проход. Ошибка по отдельному заказу не прерывает проход:
// заказ остаётся pending и попадёт в следующий.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	started := s.now()
	var (
		result Result
		cursor *domain.OrderCursor
	)

	for {
		if ctx.Err() != nil {
			s.logger.WithError(ctx.Err()).Warn("expiry sweep interrupted")
			result.Errors++
			break
		}

		page, err := s.orders.ListExpired(ctx, started, cursor, s.batchSize)
		if err != nil {
			s.logger.WithError(err).Error("failed to list expired orders")
			result.Errors++
			break
		}

		for _, order := range page {
			s.expire(ctx, order, &result)
		}

		if len(page) < s.batchSize {
			break
		}
		last := page[len(page)-1]
		cursor = &domain.OrderCursor{DueDate: last.PaymentDueDate, ID: last.ID}
	}

	duration := s.now().Sub(started)
	s.metrics.RecordSweep(result.Processed, result.Errors, duration)

	entry := s.logger.WithFields(log.Fields{
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"errors":    result.Errors,
		"duration":  duration.String(),
	})
	if result.Errors > 0 {
		entry.Warn("expiry sweep finished with errors")
	} else {
		entry.Info("expiry sweep finished")
	}
	return result
}

func (s *Sweeper) expire(ctx context.Context, order domain.Order, result *Result) {
	fields := log.Fields{
		"order_id":         order.ID,
		"order_number":     order.Number,
		"payment_due_date": order.PaymentDueDate.Format(time.RFC3339),
	}

	_, err := s.updater.UpdatePaymentStatus(ctx, order.ID, domain.PaymentStatusExpired)
	switch {
	case err == nil:
		result.Processed++
		s.logger.WithFields(fields).Debug("order expired")
	case errors.Is(err, domain.ErrOrderNotPending):
		result.Skipped++
		s.logger.WithFields(fields).Debug("order settled concurrently, skipping")
	default:
		result.Errors++
		s.logger.WithError(err).WithFields(fields).Error("failed to expire order")
	}
}

// ApproachingDeadline возвращает pending-заказы, срок оплаты которых истекает
// в ближайшие два часа. Ничего не меняет.
func (s *Sweeper) ApproachingDeadline(ctx context.Context) ([]domain.Order, error) {
	return s.orders.ListApproachingDeadline(ctx, s.now(), domain.DeadlineWarningWindow, defaultWarningLimit)
}

// Run запускает Sweep с периодом interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.orders == nil || s.updater == nil {
		s.logger.Warn("expiry sweeper is disabled: repo or updater is nil")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

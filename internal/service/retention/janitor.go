// Package retention удаляет отработанные служебные записи: просроченные
// попытки оформления и давно опубликованные события outbox.
package retention

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
)

// Имена задач в логах и метке task.
const (
	TaskCheckoutAttempts = "checkout_attempts"
	TaskOutboxSent       = "outbox_sent"
)

const (
	defaultInterval        = 10 * time.Minute
	defaultBatchSize       = 500
	defaultOutboxRetention = 72 * time.Hour
)

// PurgeFunc удаляет до limit записей, устаревших к моменту now, и возвращает их число.
type PurgeFunc func(ctx context.Context, now time.Time, limit int) (int, error)

// Task — одна именованная очистка.
type Task struct {
	Name  string
	Purge PurgeFunc
}

// CheckoutAttemptsTask удаляет попытки оформления с истёкшим сроком.
func CheckoutAttemptsTask(repo domain.CheckoutAttemptRepository) Task {
	return Task{
		Name: TaskCheckoutAttempts,
		Purge: func(ctx context.Context, now time.Time, limit int) (int, error) {
			return repo.DeleteExpired(ctx, now, limit)
		},
	}
}

// OutboxSentTask удаляет события, опубликованные раньше now-keep.
// Pending и failed записи не трогает.
func OutboxSentTask(repo domain.OutboxRepository, keep time.Duration) Task {
	if keep <= 0 {
		keep = defaultOutboxRetention
	}
	return Task{
		Name: TaskOutboxSent,
		Purge: func(ctx context.Context, now time.Time, limit int) (int, error) {
			return repo.PurgeSent(ctx, now.Add(-keep), limit)
		},
	}
}

// Options задаёт параметры Janitor.
type Options struct {
	Logger    *log.Entry
	Metrics   *metrics.Metrics
	Clock     func() time.Time
	Interval  time.Duration
	BatchSize int
}

// Option настраивает Janitor.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics подключает счётчики проходов.
func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер одного удаления.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// Janitor по расписанию прогоняет задачи очистки.
type Janitor struct {
	tasks     []Task
	logger    *log.Entry
	metrics   *metrics.Metrics
	now       func() time.Time
	interval  time.Duration
	batchSize int
}

// NewJanitor создаёт Janitor. Задачи с nil Purge пропускаются.
func NewJanitor(tasks []Task, options ...Option) *Janitor {
	opts := Options{
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "retention")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	active := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Purge != nil {
			active = append(active, task)
		}
	}

	return &Janitor{
		tasks:     active,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Clock,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run выполняет проход сразу и затем раз в interval до отмены ctx.
func (j *Janitor) Run(ctx context.Context) {
	if len(j.tasks) == 0 {
		j.logger.Warn("retention is disabled: no tasks configured")
		return
	}

	j.RunOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce прогоняет все задачи и возвращает число удалённых записей по каждой.
// Ошибка одной задачи не останавливает остальные.
func (j *Janitor) RunOnce(ctx context.Context) map[string]int {
	now := j.now()
	purged := make(map[string]int, len(j.tasks))

	for _, task := range j.tasks {
		if ctx.Err() != nil {
			break
		}

		n, err := j.drain(ctx, task, now)
		purged[task.Name] = n
		if errors.Is(err, context.Canceled) {
			break
		}
		j.metrics.RecordRetentionRun(task.Name, n, err)

		entry := j.logger.WithFields(log.Fields{"task": task.Name, "purged": n})
		if err != nil {
			entry.WithError(err).Warn("retention task failed")
			continue
		}
		if n > 0 {
			entry.Info("retention task completed")
		}
	}
	return purged
}

// drain повторяет удаление, пока батч заполняется целиком.
func (j *Janitor) drain(ctx context.Context, task Task, now time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := task.Purge(ctx, now, j.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < j.batchSize {
			return total, nil
		}
	}
}

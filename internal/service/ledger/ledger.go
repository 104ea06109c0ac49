// Package ledger ведёт складской учёт: резервирование, снятие и подтверждение
// резервов, пополнение. Ошибки сводятся к bool, подробности уходят в лог.
package ledger

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
)

// Названия операций для метрик и логов.
const (
	OpCheck   = "check"
	OpReserve = "reserve"
	OpRelease = "release"
	OpConfirm = "confirm"
	OpRestock = "restock"
	OpEnsure  = "ensure"
)

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithMetrics задаёт счётчики операций.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger — складской учёт поверх InventoryRepository.
type Ledger struct {
	repo    domain.InventoryRepository
	logger  *log.Entry
	metrics *metrics.Metrics
	now     func() time.Time
}

// New создаёт Ledger.
func New(repo domain.InventoryRepository, options ...Option) *Ledger {
	l := &Ledger{repo: repo}
	for _, option := range options {
		option(l)
	}
	if l.logger == nil {
		l.logger = log.WithField("component", "inventory-ledger")
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	return l
}

// CheckAvailability сообщает, хватает ли свободного остатка. Отсутствующая запись
// означает «недоступно» с нулевыми счётчиками.
func (l *Ledger) CheckAvailability(ctx context.Context, productID, portionSizeID string, quantity int32) domain.Availability {
	key := domain.InventoryKey{ProductID: productID, PortionSizeID: portionSizeID}

	rec, err := l.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrInventoryNotFound) {
			l.logger.WithField("key", key.String()).Warn("availability requested for unknown inventory record")
			l.metrics.RecordInventoryOperation(OpCheck, metrics.ResultRejected)
		} else {
			l.logger.WithError(err).WithField("key", key.String()).Error("failed to load inventory record")
			l.metrics.RecordInventoryOperation(OpCheck, metrics.ResultError)
		}
		return domain.Availability{}
	}

	l.metrics.RecordInventoryOperation(OpCheck, metrics.ResultOK)
	return domain.AvailabilityOf(rec, quantity)
}

// Reserve удерживает остаток под все строки пакета разом. false — ни одна строка не изменена.
func (l *Ledger) Reserve(ctx context.Context, batch []domain.StockReservation) bool {
	return l.apply(ctx, OpReserve, batch, l.repo.Reserve)
}

// Release снимает резерв. Попытка снять больше зарезервированного отклоняется целиком.
func (l *Ledger) Release(ctx context.Context, batch []domain.StockReservation) bool {
	return l.apply(ctx, OpRelease, batch, l.repo.Release)
}

// Confirm превращает резерв в списание: уменьшает и current, и reserved.
func (l *Ledger) Confirm(ctx context.Context, batch []domain.StockReservation) bool {
	return l.apply(ctx, OpConfirm, batch, l.repo.Confirm)
}

func (l *Ledger) apply(
	ctx context.Context,
	op string,
	batch []domain.StockReservation,
	fn func(context.Context, []domain.StockReservation) error,
) bool {
	normalized, err := domain.NormalizeReservations(batch)
	if err != nil {
		l.logger.WithError(err).WithField("op", op).Warn("rejected malformed stock batch")
		l.metrics.RecordInventoryOperation(op, metrics.ResultRejected)
		return false
	}

	fields := log.Fields{"op": op, "lines": len(normalized)}
	if err := fn(ctx, normalized); err != nil {
		if isStockRejection(err) {
			l.logger.WithError(err).WithFields(fields).Warn("stock operation rejected")
			l.metrics.RecordInventoryOperation(op, metrics.ResultRejected)
		} else {
			l.logger.WithError(err).WithFields(fields).Error("stock operation failed")
			l.metrics.RecordInventoryOperation(op, metrics.ResultError)
		}
		return false
	}

	l.logger.WithFields(fields).Debug("stock operation applied")
	l.metrics.RecordInventoryOperation(op, metrics.ResultOK)
	return true
}

// Restock увеличивает физический остаток и отмечает время пополнения.
func (l *Ledger) Restock(ctx context.Context, productID, portionSizeID string, additional int32) bool {
	key := domain.InventoryKey{ProductID: productID, PortionSizeID: portionSizeID}
	fields := log.Fields{"key": key.String(), "additional": additional}

	if additional <= 0 {
		l.logger.WithFields(fields).Warn("restock quantity must be positive")
		l.metrics.RecordInventoryOperation(OpRestock, metrics.ResultRejected)
		return false
	}

	rec, err := l.repo.Restock(ctx, key, additional, l.now())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInventoryNotFound):
			l.logger.WithFields(fields).Warn("restock of unknown inventory record")
			l.metrics.RecordInventoryOperation(OpRestock, metrics.ResultRejected)
		case errors.Is(err, domain.ErrStockOverflow):
			l.logger.WithFields(fields).Warn("restock would overflow current stock")
			l.metrics.RecordInventoryOperation(OpRestock, metrics.ResultRejected)
		default:
			l.logger.WithError(err).WithFields(fields).Error("restock failed")
			l.metrics.RecordInventoryOperation(OpRestock, metrics.ResultError)
		}
		return false
	}

	l.logger.WithFields(fields).WithField("current_stock", rec.CurrentStock).Info("inventory restocked")
	l.metrics.RecordInventoryOperation(OpRestock, metrics.ResultOK)
	return true
}

// EnsureRecord создаёт запись с нулевыми остатками, если её нет. Повторный вызов безопасен.
func (l *Ledger) EnsureRecord(ctx context.Context, key domain.InventoryKey, weeklyLimit int32) bool {
	if key.ProductID == "" || key.PortionSizeID == "" || weeklyLimit < 0 {
		l.logger.WithField("key", key.String()).Warn("rejected inventory record with invalid key or limit")
		l.metrics.RecordInventoryOperation(OpEnsure, metrics.ResultRejected)
		return false
	}

	if _, err := l.repo.Ensure(ctx, key, weeklyLimit); err != nil {
		l.logger.WithError(err).WithField("key", key.String()).Error("failed to ensure inventory record")
		l.metrics.RecordInventoryOperation(OpEnsure, metrics.ResultError)
		return false
	}
	l.metrics.RecordInventoryOperation(OpEnsure, metrics.ResultOK)
	return true
}

// Get возвращает запись как есть; для панели администратора.
func (l *Ledger) Get(ctx context.Context, key domain.InventoryKey) (domain.InventoryRecord, error) {
	return l.repo.Get(ctx, key)
}

// LowStock возвращает записи со свободным остатком не выше threshold.
func (l *Ledger) LowStock(ctx context.Context, threshold int32, limit int) ([]domain.InventoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.repo.ListLowStock(ctx, threshold, limit)
}

func (l *Ledger) Stats(ctx context.Context) (domain.InventoryStats, error) {
	return l.repo.Stats(ctx)
}

func isStockRejection(err error) bool {
	return errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrInventoryNotFound) ||
		errors.Is(err, domain.ErrInventoryInvariant) ||
		errors.Is(err, domain.ErrStockOverflow)
}

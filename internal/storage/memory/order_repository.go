package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	store *Store
}

// Create сохраняет новый заказ, если ID и номер ещё не заняты.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.orders[order.ID]; exists {
		return domain.ErrOrderNumberTaken
	}
	if _, exists := r.store.numbers[order.Number]; exists {
		return domain.ErrOrderNumberTaken
	}
	r.store.orders[order.ID] = cloneOrder(order)
	r.store.numbers[order.Number] = order.ID
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *orderRepositoryInMemory) GetByNumber(_ context.Context, number string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id, ok := r.store.numbers[number]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.store.orders[id]), nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result := make([]domain.Order, 0)
	for _, order := range r.store.orders {
		if order.CustomerID != customerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SettlePayment выполняет переход и складской эффект под одним локом.
func (r *orderRepositoryInMemory) SettlePayment(_ context.Context, orderID string, transition domain.PaymentTransition, at time.Time) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return domain.Order{}, domain.ErrOrderNotPending
	}

	batch := order.Reservations()
	switch transition.Effect {
	case domain.StockEffectConfirm:
		if err := r.store.applyLocked(batch, confirmEffect); err != nil {
			return domain.Order{}, errors.Join(domain.ErrStockConfirmFailed, err)
		}
	case domain.StockEffectRelease:
		if err := r.store.applyLocked(batch, releaseEffect); err != nil {
			return domain.Order{}, err
		}
	}

	updated := transition.Apply(order, at)
	r.store.orders[orderID] = updated
	return cloneOrder(updated), nil
}

func (r *orderRepositoryInMemory) AdvanceStatus(_ context.Context, orderID string, from, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Status != from {
		return domain.Order{}, domain.ErrStatusTransitionInvalid
	}
	order.Status = to
	order.Version++
	order.UpdatedAt = at
	r.store.orders[orderID] = order
	return cloneOrder(order), nil
}

// ListExpired отдаёт страницу просроченных pending-заказов по (due_date, id).
func (r *orderRepositoryInMemory) ListExpired(_ context.Context, now time.Time, after *domain.OrderCursor, limit int) ([]domain.Order, error) {
	return r.listPending(limit, func(o domain.Order) bool {
		if !o.PaymentDueDate.Before(now) {
			return false
		}
		if after == nil {
			return true
		}
		if o.PaymentDueDate.Equal(after.DueDate) {
			return o.ID > after.ID
		}
		return o.PaymentDueDate.After(after.DueDate)
	})
}

func (r *orderRepositoryInMemory) ListApproachingDeadline(_ context.Context, now time.Time, window time.Duration, limit int) ([]domain.Order, error) {
	horizon := now.Add(window)
	return r.listPending(limit, func(o domain.Order) bool {
		return o.PaymentDueDate.After(now) && !o.PaymentDueDate.After(horizon)
	})
}

func (r *orderRepositoryInMemory) listPending(limit int, match func(domain.Order) bool) ([]domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result := make([]domain.Order, 0)
	for _, order := range r.store.orders {
		if order.PaymentStatus != domain.PaymentStatusPending || !match(order) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].PaymentDueDate.Equal(result[j].PaymentDueDate) {
			return result[i].PaymentDueDate.Before(result[j].PaymentDueDate)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *orderRepositoryInMemory) Stats(_ context.Context) (domain.OrderStats, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stats := domain.OrderStats{
		ByStatus:        make(map[domain.OrderStatus]int),
		ByPaymentStatus: make(map[domain.PaymentStatus]int),
	}
	for _, order := range r.store.orders {
		stats.Total++
		stats.ByStatus[order.Status]++
		stats.ByPaymentStatus[order.PaymentStatus]++
		if order.PaymentStatus == domain.PaymentStatusPaid {
			stats.PaidRevenue += order.TotalMinor
		}
	}
	return stats, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)

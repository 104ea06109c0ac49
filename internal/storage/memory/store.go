package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

// Store держит склад, заказы и дневные счётчики под одним мьютексом:
// смена статуса оплаты и движение остатков должны выглядеть одной транзакцией,
// как в postgres-реализации.
type Store struct {
	mu        sync.Mutex
	inventory map[domain.InventoryKey]domain.InventoryRecord
	orders    map[string]domain.Order
	numbers   map[string]string
	sequences map[string]int64
}

// NewStore создаёт пустое in-memory хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		inventory: make(map[domain.InventoryKey]domain.InventoryRecord),
		orders:    make(map[string]domain.Order),
		numbers:   make(map[string]string),
		sequences: make(map[string]int64),
	}
}

// Inventory возвращает репозиторий складских записей поверх общего хранилища.
func (s *Store) Inventory() domain.InventoryRepository {
	return &inventoryRepositoryInMemory{store: s}
}

// Orders возвращает репозиторий заказов поверх общего хранилища.
func (s *Store) Orders() domain.OrderRepository {
	return &orderRepositoryInMemory{store: s}
}

// Sequence возвращает дневной счётчик номеров заказов.
func (s *Store) Sequence() domain.OrderNumberSequence {
	return &sequenceInMemory{store: s}
}

// applyLocked проверяет все строки пакета и только потом применяет изменения.
// Вызывается под s.mu.
func (s *Store) applyLocked(batch []domain.StockReservation, effect func(rec *domain.InventoryRecord, qty int32) error) error {
	normalized, err := domain.NormalizeReservations(batch)
	if err != nil {
		return err
	}

	staged := make([]domain.InventoryRecord, 0, len(normalized))
	for _, line := range normalized {
		rec, ok := s.inventory[line.Key()]
		if !ok {
			return domain.ErrInventoryNotFound
		}
		if err := effect(&rec, line.Quantity); err != nil {
			return err
		}
		staged = append(staged, rec)
	}

	for _, rec := range staged {
		s.inventory[rec.Key()] = rec
	}
	return nil
}

func reserveEffect(rec *domain.InventoryRecord, qty int32) error {
	if rec.AvailableStock() < qty {
		return domain.ErrInsufficientStock
	}
	rec.ReservedStock += qty
	return nil
}

func releaseEffect(rec *domain.InventoryRecord, qty int32) error {
	if rec.ReservedStock < qty {
		return domain.ErrInventoryInvariant
	}
	rec.ReservedStock -= qty
	return nil
}

func confirmEffect(rec *domain.InventoryRecord, qty int32) error {
	if rec.ReservedStock < qty || rec.CurrentStock < qty {
		return domain.ErrInventoryInvariant
	}
	rec.ReservedStock -= qty
	rec.CurrentStock -= qty
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	if src.PaidAt != nil {
		paidAt := *src.PaidAt
		dst.PaidAt = &paidAt
	}
	return dst
}

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

type inventoryRepositoryInMemory struct {
	store *Store
}

func (r *inventoryRepositoryInMemory) Get(_ context.Context, key domain.InventoryKey) (domain.InventoryRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.inventory[key]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrInventoryNotFound
	}
	return rec, nil
}

// Ensure создаёт запись с нулевыми остатками; существующую не трогает.
func (r *inventoryRepositoryInMemory) Ensure(_ context.Context, key domain.InventoryKey, weeklyLimit int32) (domain.InventoryRecord, error) {
	if key.ProductID == "" {
		return domain.InventoryRecord{}, domain.ErrProductRequired
	}
	if key.PortionSizeID == "" {
		return domain.InventoryRecord{}, domain.ErrPortionSizeRequired
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if rec, ok := r.store.inventory[key]; ok {
		return rec, nil
	}
	now := time.Now().UTC()
	rec := domain.InventoryRecord{
		ProductID:     key.ProductID,
		PortionSizeID: key.PortionSizeID,
		WeeklyLimit:   weeklyLimit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.store.inventory[key] = rec
	return rec, nil
}

func (r *inventoryRepositoryInMemory) Reserve(_ context.Context, batch []domain.StockReservation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.applyLocked(batch, reserveEffect)
}

func (r *inventoryRepositoryInMemory) Release(_ context.Context, batch []domain.StockReservation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.applyLocked(batch, releaseEffect)
}

func (r *inventoryRepositoryInMemory) Confirm(_ context.Context, batch []domain.StockReservation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.applyLocked(batch, confirmEffect)
}

func (r *inventoryRepositoryInMemory) Restock(_ context.Context, key domain.InventoryKey, additional int32, at time.Time) (domain.InventoryRecord, error) {
	if additional <= 0 {
		return domain.InventoryRecord{}, domain.ErrQuantityInvalid
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.inventory[key]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrInventoryNotFound
	}
	stock, err := domain.AddStock(rec.CurrentStock, additional)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	rec.CurrentStock = stock
	rec.LastRestocked = at
	rec.UpdatedAt = at
	r.store.inventory[key] = rec
	return rec, nil
}

// ListLowStock сортирует по свободному остатку, затем по ключу.
func (r *inventoryRepositoryInMemory) ListLowStock(_ context.Context, threshold int32, limit int) ([]domain.InventoryRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result := make([]domain.InventoryRecord, 0)
	for _, rec := range r.store.inventory {
		if rec.AvailableStock() <= threshold {
			result = append(result, rec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].AvailableStock() != result[j].AvailableStock() {
			return result[i].AvailableStock() < result[j].AvailableStock()
		}
		return result[i].Key().Less(result[j].Key())
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *inventoryRepositoryInMemory) Stats(_ context.Context) (domain.InventoryStats, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var stats domain.InventoryStats
	for _, rec := range r.store.inventory {
		stats.Records++
		stats.TotalStock += int64(rec.CurrentStock)
		stats.ReservedStock += int64(rec.ReservedStock)
		if rec.AvailableStock() <= 0 {
			stats.OutOfStock++
		}
	}
	return stats, nil
}

var _ domain.InventoryRepository = (*inventoryRepositoryInMemory)(nil)

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

type priceRepositoryInMemory struct {
	mu     sync.RWMutex
	prices map[domain.InventoryKey]domain.PortionPrice
}

// NewPriceRepository создаёт in-memory прайс порций.
func NewPriceRepository() domain.PriceRepository {
	return &priceRepositoryInMemory{prices: make(map[domain.InventoryKey]domain.PortionPrice)}
}

func (r *priceRepositoryInMemory) Get(_ context.Context, key domain.InventoryKey) (domain.PortionPrice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	price, ok := r.prices[key]
	if !ok {
		return domain.PortionPrice{}, domain.ErrPriceNotFound
	}
	return price, nil
}

func (r *priceRepositoryInMemory) Set(_ context.Context, price domain.PortionPrice) (domain.PortionPrice, error) {
	if price.PriceMinor < 0 {
		return domain.PortionPrice{}, domain.ErrItemPriceInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	price.UpdatedAt = time.Now().UTC()
	r.prices[domain.InventoryKey{ProductID: price.ProductID, PortionSizeID: price.PortionSizeID}] = price
	return price, nil
}

func (r *priceRepositoryInMemory) List(_ context.Context) ([]domain.PortionPrice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PortionPrice, 0, len(r.prices))
	for _, price := range r.prices {
		result = append(result, price)
	}
	sort.Slice(result, func(i, j int) bool {
		ki := domain.InventoryKey{ProductID: result[i].ProductID, PortionSizeID: result[i].PortionSizeID}
		kj := domain.InventoryKey{ProductID: result[j].ProductID, PortionSizeID: result[j].PortionSizeID}
		return ki.Less(kj)
	})
	return result, nil
}

var _ domain.PriceRepository = (*priceRepositoryInMemory)(nil)

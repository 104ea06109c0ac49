package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

type cartStoreInMemory struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

// NewCartStore создаёт in-memory хранилище корзин.
func NewCartStore() domain.CartStore {
	return &cartStoreInMemory{carts: make(map[string]domain.Cart)}
}

func (s *cartStoreInMemory) Get(_ context.Context, sessionID string) (domain.Cart, error) {
	if sessionID == "" {
		return domain.Cart{}, domain.ErrSessionRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[sessionID]
	if !ok {
		return domain.Cart{SessionID: sessionID}, nil
	}
	cart.Lines = append([]domain.CartLine(nil), cart.Lines...)
	return cart, nil
}

func (s *cartStoreInMemory) SetLine(_ context.Context, sessionID string, line domain.CartLine) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.carts[sessionID]
	cart.SessionID = sessionID
	replaced := false
	for i := range cart.Lines {
		if cart.Lines[i].Key() == line.Key() {
			cart.Lines[i] = line
			replaced = true
			break
		}
	}
	if !replaced {
		cart.Lines = append(cart.Lines, line)
	}
	cart.UpdatedAt = time.Now().UTC()
	s.carts[sessionID] = cart
	return nil
}

func (s *cartStoreInMemory) RemoveLine(_ context.Context, sessionID string, key domain.InventoryKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[sessionID]
	if !ok {
		return nil
	}
	lines := cart.Lines[:0]
	for _, line := range cart.Lines {
		if line.Key() != key {
			lines = append(lines, line)
		}
	}
	cart.Lines = lines
	cart.UpdatedAt = time.Now().UTC()
	s.carts[sessionID] = cart
	return nil
}

func (s *cartStoreInMemory) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, sessionID)
	return nil
}

var _ domain.CartStore = (*cartStoreInMemory)(nil)

package memory

import (
	"context"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

type sequenceInMemory struct {
	store *Store
}

// Next увеличивает счётчик дня под локом хранилища.
func (s *sequenceInMemory) Next(_ context.Context, day string) (int64, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	s.store.sequences[day]++
	return s.store.sequences[day], nil
}

var _ domain.OrderNumberSequence = (*sequenceInMemory)(nil)

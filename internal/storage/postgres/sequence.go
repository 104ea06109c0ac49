package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

type orderNumberSequence struct {
	db *sql.DB
}

// NewOrderNumberSequence создаёт дневной счётчик номеров поверх таблицы order_number_sequences.
func NewOrderNumberSequence(store *Store) domain.OrderNumberSequence {
	return &orderNumberSequence{db: store.DB()}
}

// Next атомарно увеличивает счётчик дня: upsert держит блокировку строки дня,
// два параллельных вызова не получат одно и то же значение.
func (s *orderNumberSequence) Next(ctx context.Context, day string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var value int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO order_number_sequences (day, last_value)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE
		SET last_value = order_number_sequences.last_value + 1
		RETURNING last_value
	`, day).Scan(&value); err != nil {
		return 0, fmt.Errorf("next order number for %s: %w", day, err)
	}
	return value, nil
}

var _ domain.OrderNumberSequence = (*orderNumberSequence)(nil)

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

// TimelineRepository хранит историю заказов в timeline_events.
type TimelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт репозиторий истории заказов.
func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{db: store.DB()}
}

// Append сохраняет событие; нулевое Occurred заменяется текущим временем.
// Событие несуществующего заказа отклоняется внешним ключом.
func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, status, payment_status, reason, occurred)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		event.OrderID,
		event.Type,
		string(event.Status),
		string(event.PaymentStatus),
		event.Reason,
		event.Occurred,
	)
	if err != nil {
		return fmt.Errorf("append %s to timeline of order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

// List возвращает историю заказа по времени события; при равном времени
// раньше идёт запись, вставленная первой.
func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, type, status, payment_status, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var (
			event         domain.TimelineEvent
			status        string
			paymentStatus string
		)
		if err := rows.Scan(&event.ID, &event.OrderID, &event.Type, &status, &paymentStatus, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.Status = domain.OrderStatus(status)
		event.PaymentStatus = domain.PaymentStatus(paymentStatus)
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)

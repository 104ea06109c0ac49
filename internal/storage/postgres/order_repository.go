package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	orderColumns = `id, number, customer_id, address_id, delivery_date, notes, status, payment_status,
		currency, subtotal_minor, shipping_minor, total_minor, payment_due_date, paid_at,
		version, created_at, updated_at`
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		order.ID, order.Number, order.CustomerID, order.AddressID, order.DeliveryDate, order.Notes,
		string(order.Status), string(order.PaymentStatus), order.Currency,
		order.SubtotalMinor, order.ShippingMinor, order.TotalMinor, order.PaymentDueDate,
		nullTime(order.PaidAt), order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderNumberTaken
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, portion_size_id, quantity, unit_price_minor, line_total_minor, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			item.ID, order.ID, item.ProductID, item.PortionSizeID, item.Quantity,
			item.UnitPriceMinor, item.LineTotalMinor, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *orderRepository) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	return r.getBy(ctx, "number", number)
}

func (r *orderRepository) getBy(ctx context.Context, column, value string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE `+column+` = $1
	`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := loadItems(ctx, r.db, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`
	if limit > 0 {
		return r.queryOrders(ctx, query+" LIMIT $2", customerID, limit)
	}
	return r.queryOrders(ctx, query, customerID)
}

// SettlePayment: условное обновление по payment_status = 'pending' служит
// гейтом, складской эффект применяет только победитель в той же транзакции.
func (r *orderRepository) SettlePayment(ctx context.Context, orderID string, transition domain.PaymentTransition, at time.Time) (_ domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var paidAt sql.NullTime
	if transition.SetPaidAt {
		paidAt = sql.NullTime{Time: at, Valid: true}
	}

	order, err := scanOrder(tx.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2,
		    payment_status = $3,
		    paid_at = COALESCE($4, paid_at),
		    version = version + 1,
		    updated_at = $5
		WHERE id = $1
		  AND payment_status = 'pending'
		RETURNING `+orderColumns,
		orderID, string(transition.OrderStatus), string(transition.Target), paidAt, at,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			exists, existsErr := orderExistsTx(ctx, tx, orderID)
			if existsErr != nil {
				return domain.Order{}, existsErr
			}
			if !exists {
				return domain.Order{}, domain.ErrOrderNotFound
			}
			return domain.Order{}, domain.ErrOrderNotPending
		}
		return domain.Order{}, fmt.Errorf("update order payment status: %w", err)
	}

	items, err := loadItems(ctx, tx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	switch transition.Effect {
	case domain.StockEffectConfirm:
		if err = applyStockTx(ctx, tx, order.Reservations(), confirmStockSQL, domain.ErrInventoryInvariant); err != nil {
			err = errors.Join(domain.ErrStockConfirmFailed, err)
			return domain.Order{}, err
		}
	case domain.StockEffectRelease:
		if err = applyStockTx(ctx, tx, order.Reservations(), releaseStockSQL, domain.ErrInventoryInvariant); err != nil {
			return domain.Order{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit settle payment: %w", err)
	}
	return order, nil
}

func (r *orderRepository) AdvanceStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $1
		  AND status = $2
		RETURNING `+orderColumns,
		orderID, string(from), string(to), at,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := r.Get(ctx, orderID); getErr != nil {
				return domain.Order{}, getErr
			}
			return domain.Order{}, domain.ErrStatusTransitionInvalid
		}
		return domain.Order{}, fmt.Errorf("advance order status: %w", err)
	}

	items, err := loadItems(ctx, r.db, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *orderRepository) ListExpired(ctx context.Context, now time.Time, after *domain.OrderCursor, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	var (
		afterDue sql.NullTime
		afterID  string
	)
	if after != nil {
		afterDue = sql.NullTime{Time: after.DueDate, Valid: true}
		afterID = after.ID
	}

	return r.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_status = 'pending'
		  AND payment_due_date < $1
		  AND ($2::timestamptz IS NULL OR (payment_due_date, id) > ($2::timestamptz, $3))
		ORDER BY payment_due_date ASC, id ASC
		LIMIT $4
	`, now, afterDue, afterID, limit)
}

func (r *orderRepository) ListApproachingDeadline(ctx context.Context, now time.Time, window time.Duration, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	return r.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_status = 'pending'
		  AND payment_due_date > $1
		  AND payment_due_date <= $2
		ORDER BY payment_due_date ASC, id ASC
		LIMIT $3
	`, now, now.Add(window), limit)
}

func (r *orderRepository) Stats(ctx context.Context) (domain.OrderStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, payment_status, COUNT(*),
		       COALESCE(SUM(total_minor) FILTER (WHERE payment_status = 'paid'), 0)
		FROM orders
		GROUP BY status, payment_status
	`)
	if err != nil {
		return domain.OrderStats{}, fmt.Errorf("order stats query failed: %w", err)
	}
	defer rows.Close()

	stats := domain.OrderStats{
		ByStatus:        make(map[domain.OrderStatus]int),
		ByPaymentStatus: make(map[domain.PaymentStatus]int),
	}
	for rows.Next() {
		var (
			status, paymentStatus string
			count                 int
			revenue               int64
		)
		if err := rows.Scan(&status, &paymentStatus, &count, &revenue); err != nil {
			return domain.OrderStats{}, fmt.Errorf("scan order stats: %w", err)
		}
		stats.Total += count
		stats.ByStatus[domain.OrderStatus(status)] += count
		stats.ByPaymentStatus[domain.PaymentStatus(paymentStatus)] += count
		stats.PaidRevenue += revenue
	}
	if err := rows.Err(); err != nil {
		return domain.OrderStats{}, fmt.Errorf("iterate order stats: %w", err)
	}
	return stats, nil
}

func (r *orderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	// Позиции грузим после закрытия курсора: одно соединение не держит два результата.
	rows.Close()

	for i := range orders {
		items, err := loadItems(ctx, r.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, portion_size_id, quantity, unit_price_minor, line_total_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.PortionSizeID, &item.Quantity,
			&item.UnitPriceMinor, &item.LineTotalMinor, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                 domain.Order
		status, paymentStatus string
		paidAt                sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.Number, &order.CustomerID, &order.AddressID, &order.DeliveryDate, &order.Notes,
		&status, &paymentStatus, &order.Currency,
		&order.SubtotalMinor, &order.ShippingMinor, &order.TotalMinor, &order.PaymentDueDate, &paidAt,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		order.PaidAt = &t
	}
	return order, nil
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isNumericOverflow ловит 22003 numeric_value_out_of_range, например INTEGER + $n.
func isNumericOverflow(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22003"
}

var _ domain.OrderRepository = (*orderRepository)(nil)

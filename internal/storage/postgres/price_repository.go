package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

type priceRepository struct {
	db *sql.DB
}

// NewPriceRepository создаёт PostgreSQL-реализацию PriceRepository.
func NewPriceRepository(store *Store) domain.PriceRepository {
	return &priceRepository{db: store.DB()}
}

func (r *priceRepository) Get(ctx context.Context, key domain.InventoryKey) (domain.PortionPrice, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var price domain.PortionPrice
	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, portion_size_id, price_minor, updated_at
		FROM portion_prices
		WHERE product_id = $1 AND portion_size_id = $2
	`, key.ProductID, key.PortionSizeID).Scan(&price.ProductID, &price.PortionSizeID, &price.PriceMinor, &price.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PortionPrice{}, domain.ErrPriceNotFound
		}
		return domain.PortionPrice{}, fmt.Errorf("select portion price: %w", err)
	}
	return price, nil
}

// Set требует существующей складской записи (внешний ключ на inventory_records).
func (r *priceRepository) Set(ctx context.Context, price domain.PortionPrice) (domain.PortionPrice, error) {
	if price.PriceMinor < 0 {
		return domain.PortionPrice{}, domain.ErrItemPriceInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	price.UpdatedAt = time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO portion_prices (product_id, portion_size_id, price_minor, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, portion_size_id) DO UPDATE
		SET price_minor = EXCLUDED.price_minor,
		    updated_at = EXCLUDED.updated_at
	`, price.ProductID, price.PortionSizeID, price.PriceMinor, price.UpdatedAt); err != nil {
		return domain.PortionPrice{}, fmt.Errorf("upsert portion price: %w", err)
	}
	return price, nil
}

func (r *priceRepository) List(ctx context.Context) ([]domain.PortionPrice, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, portion_size_id, price_minor, updated_at
		FROM portion_prices
		ORDER BY product_id ASC, portion_size_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list portion prices: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PortionPrice, 0)
	for rows.Next() {
		var price domain.PortionPrice
		if err := rows.Scan(&price.ProductID, &price.PortionSizeID, &price.PriceMinor, &price.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan portion price: %w", err)
		}
		result = append(result, price)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate portion prices: %w", err)
	}
	return result, nil
}

var _ domain.PriceRepository = (*priceRepository)(nil)

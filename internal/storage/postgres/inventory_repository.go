package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

// Условные UPDATE-ы: проверка остатка и изменение выполняются одной командой,
// поэтому параллельные резервы не могут продать больше, чем есть.
const (
	reserveStockSQL = `
		UPDATE inventory_records
		SET reserved_stock = reserved_stock + $3,
		    updated_at = NOW()
		WHERE product_id = $1
		  AND portion_size_id = $2
		  AND current_stock - reserved_stock >= $3`

	releaseStockSQL = `
		UPDATE inventory_records
		SET reserved_stock = reserved_stock - $3,
		    updated_at = NOW()
		WHERE product_id = $1
		  AND portion_size_id = $2
		  AND reserved_stock >= $3`

	confirmStockSQL = `
		UPDATE inventory_records
		SET current_stock = current_stock - $3,
		    reserved_stock = reserved_stock - $3,
		    updated_at = NOW()
		WHERE product_id = $1
		  AND portion_size_id = $2
		  AND reserved_stock >= $3
		  AND current_stock >= $3`

	inventoryColumns = `product_id, portion_size_id, current_stock, reserved_stock, weekly_limit, last_restocked, created_at, updated_at`
)

type inventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository создаёт PostgreSQL-реализацию InventoryRepository.
func NewInventoryRepository(store *Store) domain.InventoryRepository {
	return &inventoryRepository{db: store.DB()}
}

func (r *inventoryRepository) Get(ctx context.Context, key domain.InventoryKey) (domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rec, err := scanInventory(r.db.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_records
		WHERE product_id = $1 AND portion_size_id = $2
	`, key.ProductID, key.PortionSizeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, domain.ErrInventoryNotFound
		}
		return domain.InventoryRecord{}, fmt.Errorf("select inventory record: %w", err)
	}
	return rec, nil
}

func (r *inventoryRepository) Ensure(ctx context.Context, key domain.InventoryKey, weeklyLimit int32) (domain.InventoryRecord, error) {
	if key.ProductID == "" {
		return domain.InventoryRecord{}, domain.ErrProductRequired
	}
	if key.PortionSizeID == "" {
		return domain.InventoryRecord{}, domain.ErrPortionSizeRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_records (product_id, portion_size_id, weekly_limit)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, portion_size_id) DO NOTHING
	`, key.ProductID, key.PortionSizeID, weeklyLimit); err != nil {
		return domain.InventoryRecord{}, fmt.Errorf("ensure inventory record: %w", err)
	}

	return r.Get(ctx, key)
}

func (r *inventoryRepository) Reserve(ctx context.Context, batch []domain.StockReservation) error {
	return r.applyBatch(ctx, batch, reserveStockSQL, domain.ErrInsufficientStock)
}

func (r *inventoryRepository) Release(ctx context.Context, batch []domain.StockReservation) error {
	return r.applyBatch(ctx, batch, releaseStockSQL, domain.ErrInventoryInvariant)
}

func (r *inventoryRepository) Confirm(ctx context.Context, batch []domain.StockReservation) error {
	return r.applyBatch(ctx, batch, confirmStockSQL, domain.ErrInventoryInvariant)
}

func (r *inventoryRepository) applyBatch(ctx context.Context, batch []domain.StockReservation, stmt string, guardErr error) (err error) {
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

	if err = applyStockTx(ctx, tx, batch, stmt, guardErr); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit stock batch: %w", err)
	}
	return nil
}

// applyStockTx проходит строки в порядке ключей, чтобы параллельные пакеты
// брали блокировки строк в одном порядке. Любая строка без изменений
// прерывает пакет; откат делает вызывающий.
func applyStockTx(ctx context.Context, tx *sql.Tx, batch []domain.StockReservation, stmt string, guardErr error) error {
	normalized, err := domain.NormalizeReservations(batch)
	if err != nil {
		return err
	}

	for _, line := range normalized {
		res, err := tx.ExecContext(ctx, stmt, line.ProductID, line.PortionSizeID, line.Quantity)
		if err != nil {
			return fmt.Errorf("update inventory %s: %w", line.Key(), err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for inventory %s: %w", line.Key(), err)
		}
		if affected == 1 {
			continue
		}

		exists, err := inventoryExistsTx(ctx, tx, line.Key())
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%s: %w", line.Key(), domain.ErrInventoryNotFound)
		}
		return fmt.Errorf("%s: %w", line.Key(), guardErr)
	}
	return nil
}

func inventoryExistsTx(ctx context.Context, tx *sql.Tx, key domain.InventoryKey) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM inventory_records WHERE product_id = $1 AND portion_size_id = $2
	`, key.ProductID, key.PortionSizeID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check inventory exists: %w", err)
}

func (r *inventoryRepository) Restock(ctx context.Context, key domain.InventoryKey, additional int32, at time.Time) (domain.InventoryRecord, error) {
	if additional <= 0 {
		return domain.InventoryRecord{}, domain.ErrQuantityInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rec, err := scanInventory(r.db.QueryRowContext(ctx, `
		UPDATE inventory_records
		SET current_stock = current_stock + $3,
		    last_restocked = $4,
		    updated_at = $4
		WHERE product_id = $1 AND portion_size_id = $2
		RETURNING `+inventoryColumns,
		key.ProductID, key.PortionSizeID, additional, at,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, domain.ErrInventoryNotFound
		}
		if isNumericOverflow(err) {
			return domain.InventoryRecord{}, domain.ErrStockOverflow
		}
		return domain.InventoryRecord{}, fmt.Errorf("restock inventory: %w", err)
	}
	return rec, nil
}

func (r *inventoryRepository) ListLowStock(ctx context.Context, threshold int32, limit int) ([]domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_records
		WHERE current_stock - reserved_stock <= $1
		ORDER BY current_stock - reserved_stock ASC, product_id ASC, portion_size_id ASC
		LIMIT $2
	`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	result := make([]domain.InventoryRecord, 0)
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory row: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory rows: %w", err)
	}
	return result, nil
}

func (r *inventoryRepository) Stats(ctx context.Context) (domain.InventoryStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stats domain.InventoryStats
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(current_stock), 0),
		       COALESCE(SUM(reserved_stock), 0),
		       COUNT(*) FILTER (WHERE current_stock - reserved_stock <= 0)
		FROM inventory_records
	`).Scan(&stats.Records, &stats.TotalStock, &stats.ReservedStock, &stats.OutOfStock); err != nil {
		return domain.InventoryStats{}, fmt.Errorf("inventory stats query failed: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInventory(row rowScanner) (domain.InventoryRecord, error) {
	var (
		rec       domain.InventoryRecord
		restocked sql.NullTime
	)
	if err := row.Scan(
		&rec.ProductID, &rec.PortionSizeID, &rec.CurrentStock, &rec.ReservedStock,
		&rec.WeeklyLimit, &restocked, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return domain.InventoryRecord{}, err
	}
	if restocked.Valid {
		rec.LastRestocked = restocked.Time.UTC()
	}
	return rec, nil
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)

package memory_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/storage/memory"
)

var (
	keyPear  = domain.InventoryKey{ProductID: "pear-puree", PortionSizeID: "jar-120g"}
	keyOats  = domain.InventoryKey{ProductID: "oat-porridge", PortionSizeID: "box-250g"}
	keyApple = domain.InventoryKey{ProductID: "apple-puree", PortionSizeID: "pouch-90g"}
)

func seedInventory(t *testing.T, repo domain.InventoryRepository, key domain.InventoryKey, stock int32) {
	t.Helper()
	ctx := context.Background()
	if _, err := repo.Ensure(ctx, key, 50); err != nil {
		t.Fatalf("ensure %s: %v", key, err)
	}
	if stock > 0 {
		if _, err := repo.Restock(ctx, key, stock, time.Now().UTC()); err != nil {
			t.Fatalf("restock %s: %v", key, err)
		}
	}
}

func line(key domain.InventoryKey, qty int32) domain.StockReservation {
	return domain.StockReservation{ProductID: key.ProductID, PortionSizeID: key.PortionSizeID, Quantity: qty}
}

func mustGet(t *testing.T, repo domain.InventoryRepository, key domain.InventoryKey) domain.InventoryRecord {
	t.Helper()
	rec, err := repo.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	return rec
}

func TestInventoryRepository_ReserveReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Inventory()
	seedInventory(t, repo, keyPear, 10)

	batch := []domain.StockReservation{line(keyPear, 3)}
	if err := repo.Reserve(ctx, batch); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if rec := mustGet(t, repo, keyPear); rec.ReservedStock != 3 || rec.CurrentStock != 10 {
		t.Fatalf("after reserve: %+v", rec)
	}

	if err := repo.Release(ctx, batch); err != nil {
		t.Fatalf("release: %v", err)
	}
	if rec := mustGet(t, repo, keyPear); rec.ReservedStock != 0 || rec.CurrentStock != 10 {
		t.Fatalf("after release: %+v", rec)
	}
}

func TestInventoryRepository_ReserveConfirm(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Inventory()
	seedInventory(t, repo, keyPear, 10)

	batch := []domain.StockReservation{line(keyPear, 4)}
	if err := repo.Reserve(ctx, batch); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := repo.Confirm(ctx, batch); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	rec := mustGet(t, repo, keyPear)
	if rec.CurrentStock != 6 || rec.ReservedStock != 0 {
		t.Fatalf("after confirm: %+v", rec)
	}
}

func TestInventoryRepository_ReserveAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Inventory()
	seedInventory(t, repo, keyPear, 10)
	seedInventory(t, repo, keyOats, 1)

	err := repo.Reserve(ctx, []domain.StockReservation{line(keyPear, 2), line(keyOats, 2)})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if rec := mustGet(t, repo, keyPear); rec.ReservedStock != 0 {
		t.Fatalf("first line must stay untouched, got reserved=%d", rec.ReservedStock)
	}

	err = repo.Reserve(ctx, []domain.StockReservation{line(keyPear, 1), line(keyApple, 1)})
	if !errors.Is(err, domain.ErrInventoryNotFound) {
		t.Fatalf("expected ErrInventoryNotFound, got %v", err)
	}
	if rec := mustGet(t, repo, keyPear); rec.ReservedStock != 0 {
		t.Fatalf("batch with unknown key must not reserve, got reserved=%d", rec.ReservedStock)
	}
}

func TestInventoryRepository_ReleaseNeverBelowZero(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Inventory()
	seedInventory(t, repo, keyPear, 5)

	if err := repo.Release(ctx, []domain.StockReservation{line(keyPear, 1)}); !errors.Is(err, domain.ErrInventoryInvariant) {
		t.Fatalf("expected ErrInventoryInvariant, got %v", err)
	}
	if err := repo.Confirm(ctx, []domain.StockReservation{line(keyPear, 1)}); !errors.Is(err, domain.ErrInventoryInvariant) {
		t.Fatalf("expected ErrInventoryInvariant on confirm without reservation, got %v", err)
	}
}

func TestInventoryRepository_ConcurrentReserveNeverOversells(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Inventory()
	seedInventory(t, repo, keyPear, 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.Reserve(ctx, []domain.StockReservation{line(keyPear, 1)}); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 10 {
		t.Fatalf("expected exactly 10 successful reservations, got %d", success)
	}
	rec := mustGet(t, repo, keyPear)
	if rec.AvailableStock() != 0 || len(rec.ValidateInvariants()) != 0 {
		t.Fatalf("invariant broken: %+v", rec)
	}
}

func TestInventoryRepository_LowStockAndStats(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Inventory()
	seedInventory(t, repo, keyPear, 10)
	seedInventory(t, repo, keyOats, 2)
	seedInventory(t, repo, keyApple, 0)

	low, err := repo.ListLowStock(ctx, 5, 10)
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(low) != 2 || low[0].Key() != keyApple || low[1].Key() != keyOats {
		t.Fatalf("unexpected low stock list: %+v", low)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Records != 3 || stats.TotalStock != 12 || stats.OutOfStock != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestInventoryRepository_RestockStampsTime(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Inventory()
	seedInventory(t, repo, keyPear, 0)

	at := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	rec, err := repo.Restock(ctx, keyPear, 24, at)
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if rec.CurrentStock != 24 || !rec.LastRestocked.Equal(at) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := repo.Restock(ctx, keyPear, 0, at); !errors.Is(err, domain.ErrQuantityInvalid) {
		t.Fatalf("expected ErrQuantityInvalid, got %v", err)
	}
	if _, err := repo.Restock(ctx, keyApple, 1, at); !errors.Is(err, domain.ErrInventoryNotFound) {
		t.Fatalf("expected ErrInventoryNotFound, got %v", err)
	}
}

func TestInventoryRepository_RestockOverflow(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Inventory()
	seedInventory(t, repo, keyPear, 10)

	at := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	if _, err := repo.Restock(ctx, keyPear, math.MaxInt32, at); !errors.Is(err, domain.ErrStockOverflow) {
		t.Fatalf("expected ErrStockOverflow, got %v", err)
	}
	rec := mustGet(t, repo, keyPear)
	if rec.CurrentStock != 10 || rec.LastRestocked.Equal(at) {
		t.Fatalf("rejected restock must not touch the record: %+v", rec)
	}

	if rec, err := repo.Restock(ctx, keyPear, math.MaxInt32-10, at); err != nil || rec.CurrentStock != math.MaxInt32 {
		t.Fatalf("restock up to the limit: %+v, %v", rec, err)
	}
}

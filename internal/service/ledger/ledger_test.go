package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
	"github.com/vladislavdragonenkov/babyfood/internal/storage/memory"
)

var (
	keyPear = domain.InventoryKey{ProductID: "pear-puree", PortionSizeID: "jar-120g"}
	keyOats = domain.InventoryKey{ProductID: "oat-porridge", PortionSizeID: "box-250g"}
)

func line(key domain.InventoryKey, qty int32) domain.StockReservation {
	return domain.StockReservation{ProductID: key.ProductID, PortionSizeID: key.PortionSizeID, Quantity: qty}
}

func newTestLedger(t *testing.T, stock map[domain.InventoryKey]int32) (*Ledger, domain.InventoryRepository, *test.Hook) {
	t.Helper()

	repo := memory.NewStore().Inventory()
	ctx := context.Background()
	for key, qty := range stock {
		if _, err := repo.Ensure(ctx, key, 100); err != nil {
			t.Fatalf("ensure %s: %v", key, err)
		}
		if qty > 0 {
			if _, err := repo.Restock(ctx, key, qty, time.Now().UTC()); err != nil {
				t.Fatalf("restock %s: %v", key, err)
			}
		}
	}

	logger, hook := test.NewNullLogger()
	l := New(repo,
		WithLogger(logger.WithField("component", "ledger-test")),
		WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
	)
	return l, repo, hook
}

func mustGet(t *testing.T, repo domain.InventoryRepository, key domain.InventoryKey) domain.InventoryRecord {
	t.Helper()
	rec, err := repo.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	return rec
}

func TestLedger_CheckAvailability(t *testing.T) {
	l, _, hook := newTestLedger(t, map[domain.InventoryKey]int32{keyPear: 10})
	ctx := context.Background()

	tests := []struct {
		name      string
		key       domain.InventoryKey
		quantity  int32
		available bool
		free      int32
	}{
		{name: "enough", key: keyPear, quantity: 10, available: true, free: 10},
		{name: "too many", key: keyPear, quantity: 11, available: false, free: 10},
		{name: "zero quantity", key: keyPear, quantity: 0, available: false, free: 10},
		{name: "unknown record", key: keyOats, quantity: 1, available: false, free: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := l.CheckAvailability(ctx, tc.key.ProductID, tc.key.PortionSizeID, tc.quantity)
			if got.Available != tc.available || got.AvailableStock != tc.free {
				t.Fatalf("unexpected availability: %+v", got)
			}
		})
	}

	if last := hook.LastEntry(); last == nil || last.Level != log.WarnLevel {
		t.Fatalf("unknown record must be logged as warning, got %+v", last)
	}
}

func TestLedger_ReserveReleaseIsIdentity(t *testing.T) {
	l, repo, _ := newTestLedger(t, map[domain.InventoryKey]int32{keyPear: 10, keyOats: 5})
	ctx := context.Background()
	batch := []domain.StockReservation{line(keyPear, 3), line(keyOats, 2)}

	before := mustGet(t, repo, keyPear)
	if !l.Reserve(ctx, batch) {
		t.Fatal("reserve must succeed")
	}
	if got := mustGet(t, repo, keyPear).ReservedStock; got != 3 {
		t.Fatalf("expected 3 reserved, got %d", got)
	}
	if !l.Release(ctx, batch) {
		t.Fatal("release must succeed")
	}

	after := mustGet(t, repo, keyPear)
	if after.CurrentStock != before.CurrentStock || after.ReservedStock != before.ReservedStock {
		t.Fatalf("reserve+release changed counters: before %+v after %+v", before, after)
	}
}

func TestLedger_ReserveConfirmConsumesStock(t *testing.T) {
	l, repo, _ := newTestLedger(t, map[domain.InventoryKey]int32{keyPear: 10})
	ctx := context.Background()
	batch := []domain.StockReservation{line(keyPear, 4)}

	if !l.Reserve(ctx, batch) || !l.Confirm(ctx, batch) {
		t.Fatal("reserve and confirm must succeed")
	}

	rec := mustGet(t, repo, keyPear)
	if rec.CurrentStock != 6 || rec.ReservedStock != 0 {
		t.Fatalf("unexpected counters after confirm: %+v", rec)
	}
}

func TestLedger_ReserveIsAllOrNothing(t *testing.T) {
	l, repo, hook := newTestLedger(t, map[domain.InventoryKey]int32{keyPear: 10, keyOats: 1})
	ctx := context.Background()

	if l.Reserve(ctx, []domain.StockReservation{line(keyPear, 2), line(keyOats, 2)}) {
		t.Fatal("reserve must fail when one line is short")
	}
	if got := mustGet(t, repo, keyPear).ReservedStock; got != 0 {
		t.Fatalf("failed batch must not reserve anything, got %d", got)
	}
	if last := hook.LastEntry(); last == nil || last.Level != log.WarnLevel {
		t.Fatalf("insufficient stock must be a warning, got %+v", last)
	}
}

func TestLedger_ReleaseNeverGoesBelowZero(t *testing.T) {
	l, repo, _ := newTestLedger(t, map[domain.InventoryKey]int32{keyPear: 10})
	ctx := context.Background()

	if !l.Reserve(ctx, []domain.StockReservation{line(keyPear, 2)}) {
		t.Fatal("reserve must succeed")
	}
	if l.Release(ctx, []domain.StockReservation{line(keyPear, 3)}) {
		t.Fatal("release of more than reserved must fail")
	}
	if got := mustGet(t, repo, keyPear).ReservedStock; got != 2 {
		t.Fatalf("failed release must not change reserved stock, got %d", got)
	}
	if l.Confirm(ctx, []domain.StockReservation{line(keyPear, 5)}) {
		t.Fatal("confirm of more than reserved must fail")
	}
}

func TestLedger_RejectsMalformedBatches(t *testing.T) {
	l, _, _ := newTestLedger(t, map[domain.InventoryKey]int32{keyPear: 10})
	ctx := context.Background()

	cases := map[string][]domain.StockReservation{
		"empty":         nil,
		"zero quantity": {line(keyPear, 0)},
		"no product":    {{PortionSizeID: "jar", Quantity: 1}},
	}
	for name, batch := range cases {
		if l.Reserve(ctx, batch) {
			t.Fatalf("%s: reserve must fail", name)
		}
	}
}

func TestLedger_ConcurrentReserveNeverOversells(t *testing.T) {
	l, repo, _ := newTestLedger(t, map[domain.InventoryKey]int32{keyPear: 7})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve(ctx, []domain.StockReservation{line(keyPear, 1)}) {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 7 {
		t.Fatalf("expected 7 successful reservations, got %d", success)
	}
	if rec := mustGet(t, repo, keyPear); rec.AvailableStock() != 0 {
		t.Fatalf("expected no free stock, got %+v", rec)
	}
}

func TestLedger_Restock(t *testing.T) {
	l, repo, _ := newTestLedger(t, map[domain.InventoryKey]int32{keyPear: 1})
	ctx := context.Background()
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return at }

	if l.Restock(ctx, keyPear.ProductID, keyPear.PortionSizeID, 0) {
		t.Fatal("zero restock must fail")
	}
	if l.Restock(ctx, keyOats.ProductID, keyOats.PortionSizeID, 5) {
		t.Fatal("restock of unknown record must fail")
	}
	if !l.Restock(ctx, keyPear.ProductID, keyPear.PortionSizeID, 5) {
		t.Fatal("restock must succeed")
	}

	rec := mustGet(t, repo, keyPear)
	if rec.CurrentStock != 6 || !rec.LastRestocked.Equal(at) {
		t.Fatalf("unexpected record after restock: %+v", rec)
	}
}

func TestLedger_RestockRejectsOverflow(t *testing.T) {
	l, repo, hook := newTestLedger(t, map[domain.InventoryKey]int32{keyPear: 10})
	ctx := context.Background()

	if !l.Reserve(ctx, []domain.StockReservation{line(keyPear, 4)}) {
		t.Fatal("reserve must succeed")
	}
	if l.Restock(ctx, keyPear.ProductID, keyPear.PortionSizeID, math.MaxInt32) {
		t.Fatal("restock past the counter limit must fail")
	}
	rec := mustGet(t, repo, keyPear)
	if rec.CurrentStock != 10 || rec.ReservedStock != 4 || rec.AvailableStock() != 6 {
		t.Fatalf("rejected restock must leave counters unchanged: %+v", rec)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warn for overflowing restock, got %+v", entry)
	}

	if !l.Restock(ctx, keyPear.ProductID, keyPear.PortionSizeID, math.MaxInt32-10) {
		t.Fatal("restock up to the limit must succeed")
	}
	rec = mustGet(t, repo, keyPear)
	if rec.CurrentStock != math.MaxInt32 || rec.AvailableStock() != math.MaxInt32-4 {
		t.Fatalf("unexpected record at the limit: %+v", rec)
	}
	if l.Restock(ctx, keyPear.ProductID, keyPear.PortionSizeID, 1) {
		t.Fatal("restock over a full counter must fail")
	}
}

func TestLedger_ReserveRejectsWrappingBatch(t *testing.T) {
	l, repo, _ := newTestLedger(t, map[domain.InventoryKey]int32{keyPear: 10})
	ctx := context.Background()

	batch := []domain.StockReservation{
		line(keyPear, math.MaxInt32),
		line(keyPear, math.MaxInt32),
		line(keyPear, 12),
	}
	if l.Reserve(ctx, batch) {
		t.Fatal("batch whose merged quantity overflows must be rejected")
	}
	if rec := mustGet(t, repo, keyPear); rec.ReservedStock != 0 || rec.AvailableStock() != 10 {
		t.Fatalf("rejected batch must not reserve anything: %+v", rec)
	}
}

func TestLedger_EnsureRecordAndQueries(t *testing.T) {
	l, _, _ := newTestLedger(t, map[domain.InventoryKey]int32{keyPear: 20})
	ctx := context.Background()

	if !l.EnsureRecord(ctx, keyOats, 50) || !l.EnsureRecord(ctx, keyOats, 50) {
		t.Fatal("ensure must be idempotent")
	}
	if l.EnsureRecord(ctx, domain.InventoryKey{ProductID: "x"}, 1) {
		t.Fatal("ensure without portion size must fail")
	}

	low, err := l.LowStock(ctx, 0, 0)
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(low) != 1 || low[0].Key() != keyOats {
		t.Fatalf("unexpected low stock: %+v", low)
	}

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Records != 2 || stats.TotalStock != 20 || stats.OutOfStock != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

type failingRepo struct {
	domain.InventoryRepository
}

func (failingRepo) Reserve(context.Context, []domain.StockReservation) error {
	return errors.New("connection reset")
}

func TestLedger_BackendErrorLogsError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	l := New(failingRepo{}, WithLogger(logger.WithField("component", "ledger-test")))

	if l.Reserve(context.Background(), []domain.StockReservation{line(keyPear, 1)}) {
		t.Fatal("reserve must fail on backend error")
	}
	if last := hook.LastEntry(); last == nil || last.Level != log.ErrorLevel {
		t.Fatalf("backend failure must be logged as error, got %+v", last)
	}
}

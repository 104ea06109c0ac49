package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
	"github.com/vladislavdragonenkov/babyfood/internal/service/ledger"
	"github.com/vladislavdragonenkov/babyfood/internal/storage/memory"
)

var (
	keyPear = domain.InventoryKey{ProductID: "pear-puree", PortionSizeID: "jar-120g"}
	keyOats = domain.InventoryKey{ProductID: "oat-porridge", PortionSizeID: "box-250g"}
)

// env — Driver поверх in-memory хранилищ с управляемыми часами.
type env struct {
	driver    *Driver
	store     *memory.Store
	inventory domain.InventoryRepository
	orders    domain.OrderRepository
	carts     domain.CartStore
	outbox    interface {
		domain.OutboxRepository
		AllPending() []domain.OutboxMessage
	}
	timeline domain.TimelineRepository
	clock    *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "lifecycle-test")
}

func newEnv(t *testing.T, stock map[domain.InventoryKey]int32) *env {
	t.Helper()

	store := memory.NewStore()
	e := &env{
		store:     store,
		inventory: store.Inventory(),
		orders:    store.Orders(),
		carts:     memory.NewCartStore(),
		outbox:    memory.NewOutboxRepository(),
		timeline:  memory.NewTimelineRepository(),
		clock:     &fakeClock{now: time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)},
	}

	ctx := context.Background()
	for key, qty := range stock {
		if _, err := e.inventory.Ensure(ctx, key, 100); err != nil {
			t.Fatalf("ensure %s: %v", key, err)
		}
		if qty > 0 {
			if _, err := e.inventory.Restock(ctx, key, qty, e.clock.now); err != nil {
				t.Fatalf("restock %s: %v", key, err)
			}
		}
	}

	e.driver = NewDriver(Dependencies{
		Orders:   e.orders,
		Carts:    e.carts,
		Ledger:   ledger.New(e.inventory, ledger.WithLogger(quietLogger())),
		Sequence: store.Sequence(),
		Outbox:   e.outbox,
		Timeline: e.timeline,
	},
		WithLogger(quietLogger()),
		WithClock(e.clock.Now),
		WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
	)
	return e
}

func (e *env) addToCart(t *testing.T, session string, key domain.InventoryKey, qty int32, unitPrice int64) {
	t.Helper()
	err := e.carts.SetLine(context.Background(), session, domain.CartLine{
		ProductID:      key.ProductID,
		PortionSizeID:  key.PortionSizeID,
		Quantity:       qty,
		UnitPriceMinor: unitPrice,
	})
	if err != nil {
		t.Fatalf("set cart line: %v", err)
	}
}

func (e *env) record(t *testing.T, key domain.InventoryKey) domain.InventoryRecord {
	t.Helper()
	rec, err := e.inventory.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get inventory %s: %v", key, err)
	}
	return rec
}

func (e *env) checkoutInput(session string) CreateOrderInput {
	return CreateOrderInput{
		SessionID:    session,
		AddressID:    "address-1",
		DeliveryDate: e.clock.now.Add(48 * time.Hour),
		Notes:        "ring twice",
	}
}

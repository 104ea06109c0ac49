package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

func TestCreateOrder_ShippingFeeBelowThreshold(t *testing.T) {
	e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10})
	e.addToCart(t, "s1", keyPear, 2, 9000)

	order, err := e.driver.CreateOrder(context.Background(), e.checkoutInput("s1"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.SubtotalMinor != 18000 || order.ShippingMinor != 5000 || order.TotalMinor != 23000 {
		t.Fatalf("unexpected amounts: subtotal=%d shipping=%d total=%d", order.SubtotalMinor, order.ShippingMinor, order.TotalMinor)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("unexpected state: %s/%s", order.Status, order.PaymentStatus)
	}
	if !order.PaymentDueDate.Equal(e.clock.now.Add(24 * time.Hour)) {
		t.Fatalf("payment due date must be created+24h, got %s", order.PaymentDueDate)
	}
	if order.Number != "BF202610140001" {
		t.Fatalf("unexpected order number %q", order.Number)
	}
	if order.CustomerID != "s1" {
		t.Fatalf("customer must default to session, got %q", order.CustomerID)
	}
	if rec := e.record(t, keyPear); rec.ReservedStock != 2 || rec.CurrentStock != 10 {
		t.Fatalf("unexpected inventory after checkout: %+v", rec)
	}

	cart, _ := e.carts.Get(context.Background(), "s1")
	if !cart.IsEmpty() {
		t.Fatal("cart must be cleared after checkout")
	}
}

func TestCreateOrder_FreeShippingAboveThreshold(t *testing.T) {
	e := newEnv(t, map[domain.InventoryKey]int32{keyOats: 10})
	e.addToCart(t, "s1", keyOats, 2, 12500)

	order, err := e.driver.CreateOrder(context.Background(), e.checkoutInput("s1"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ShippingMinor != 0 || order.TotalMinor != 25000 {
		t.Fatalf("expected free shipping, got shipping=%d total=%d", order.ShippingMinor, order.TotalMinor)
	}
}

func TestCreateOrder_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, e *env)
		input   func(e *env) CreateOrderInput
		wantErr error
	}{
		{
			name:    "empty cart",
			input:   func(e *env) CreateOrderInput { return e.checkoutInput("s1") },
			wantErr: domain.ErrCartEmpty,
		},
		{
			name:    "insufficient stock",
			prepare: func(t *testing.T, e *env) { e.addToCart(t, "s1", keyPear, 11, 9000) },
			input:   func(e *env) CreateOrderInput { return e.checkoutInput("s1") },
			wantErr: domain.ErrInsufficientStock,
		},
		{
			name:    "missing address",
			prepare: func(t *testing.T, e *env) { e.addToCart(t, "s1", keyPear, 1, 9000) },
			input: func(e *env) CreateOrderInput {
				in := e.checkoutInput("s1")
				in.AddressID = "  "
				return in
			},
			wantErr: domain.ErrAddressRequired,
		},
		{
			name:    "missing delivery date",
			prepare: func(t *testing.T, e *env) { e.addToCart(t, "s1", keyPear, 1, 9000) },
			input: func(e *env) CreateOrderInput {
				in := e.checkoutInput("s1")
				in.DeliveryDate = time.Time{}
				return in
			},
			wantErr: domain.ErrDeliveryDateRequired,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10})
			if tc.prepare != nil {
				tc.prepare(t, e)
			}

			_, err := e.driver.CreateOrder(context.Background(), tc.input(e))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}

			if rec := e.record(t, keyPear); rec.ReservedStock != 0 || rec.CurrentStock != 10 {
				t.Fatalf("rejected checkout must not touch inventory: %+v", rec)
			}
			stats, _ := e.orders.Stats(context.Background())
			if stats.Total != 0 {
				t.Fatalf("rejected checkout must not create orders, got %d", stats.Total)
			}
			if pending := e.outbox.AllPending(); len(pending) != 0 {
				t.Fatalf("rejected checkout must not emit events, got %d", len(pending))
			}
		})
	}
}

func TestCreateOrder_InsufficientLineRejectsWholeBatch(t *testing.T) {
	e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10, keyOats: 1})
	e.addToCart(t, "s1", keyPear, 3, 9000)
	e.addToCart(t, "s1", keyOats, 2, 12500)

	if _, err := e.driver.CreateOrder(context.Background(), e.checkoutInput("s1")); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if rec := e.record(t, keyPear); rec.ReservedStock != 0 {
		t.Fatalf("no line may stay reserved, got %+v", rec)
	}
	cart, _ := e.carts.Get(context.Background(), "s1")
	if len(cart.Lines) != 2 {
		t.Fatal("cart must be kept when checkout is rejected")
	}
}

type failingOrders struct {
	domain.OrderRepository
}

func (failingOrders) Create(context.Context, domain.Order) error {
	return errors.New("disk full")
}

func TestCreateOrder_PersistFailureReleasesReservation(t *testing.T) {
	e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10})
	e.driver.orders = failingOrders{OrderRepository: e.orders}
	e.addToCart(t, "s1", keyPear, 4, 9000)

	if _, err := e.driver.CreateOrder(context.Background(), e.checkoutInput("s1")); err == nil {
		t.Fatal("expected persist error")
	}
	if rec := e.record(t, keyPear); rec.ReservedStock != 0 {
		t.Fatalf("reservation must be compensated, got %+v", rec)
	}
}

type brokenSequence struct{}

func (brokenSequence) Next(context.Context, string) (int64, error) {
	return 0, errors.New("sequence down")
}

func TestNumberGenerator_FallsBackToTimestamp(t *testing.T) {
	at := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	gen := NewNumberGenerator(brokenSequence{}, "", quietLogger())

	got := gen.Next(context.Background(), at)
	want := "BF20261014-" + "1791972000000"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	custom := NewNumberGenerator(nil, "SHOP", quietLogger())
	if got := custom.Next(context.Background(), at); !strings.HasPrefix(got, "SHOP20261014-") {
		t.Fatalf("unexpected fallback number %s", got)
	}
}

func TestCreateOrder_NumbersAreSequentialPerDay(t *testing.T) {
	e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10})
	ctx := context.Background()

	var numbers []string
	for _, session := range []string{"s1", "s2"} {
		e.addToCart(t, session, keyPear, 1, 9000)
		order, err := e.driver.CreateOrder(ctx, e.checkoutInput(session))
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		numbers = append(numbers, order.Number)
	}
	e.clock.Advance(24 * time.Hour)
	e.addToCart(t, "s3", keyPear, 1, 9000)
	next, err := e.driver.CreateOrder(ctx, e.checkoutInput("s3"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	numbers = append(numbers, next.Number)

	want := []string{"BF202610140001", "BF202610140002", "BF202610150001"}
	for i := range want {
		if numbers[i] != want[i] {
			t.Fatalf("number %d: expected %s, got %s", i, want[i], numbers[i])
		}
	}
}

func TestUpdatePaymentStatus_Paid(t *testing.T) {
	e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10})
	e.addToCart(t, "s1", keyPear, 2, 9000)
	ctx := context.Background()

	order, err := e.driver.CreateOrder(ctx, e.checkoutInput("s1"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	e.clock.Advance(time.Hour)
	paid, err := e.driver.UpdatePaymentStatus(ctx, order.ID, domain.PaymentStatusPaid)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.Status != domain.OrderStatusConfirmed || paid.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected state: %s/%s", paid.Status, paid.PaymentStatus)
	}
	if paid.PaidAt == nil || !paid.PaidAt.Equal(e.clock.now) {
		t.Fatalf("paidAt must be set to now, got %v", paid.PaidAt)
	}
	if rec := e.record(t, keyPear); rec.CurrentStock != 8 || rec.ReservedStock != 0 {
		t.Fatalf("stock must be confirmed, got %+v", rec)
	}

	if _, err := e.driver.UpdatePaymentStatus(ctx, order.ID, domain.PaymentStatusExpired); !errors.Is(err, domain.ErrOrderNotPending) {
		t.Fatalf("paid order must not expire, got %v", err)
	}
	if rec := e.record(t, keyPear); rec.CurrentStock != 8 || rec.ReservedStock != 0 {
		t.Fatalf("late expiry must not touch stock, got %+v", rec)
	}
}

func TestUpdatePaymentStatus_UnpaidAndExpiredRelease(t *testing.T) {
	for _, status := range []domain.PaymentStatus{domain.PaymentStatusUnpaid, domain.PaymentStatusExpired} {
		t.Run(string(status), func(t *testing.T) {
			e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10})
			e.addToCart(t, "s1", keyPear, 3, 9000)
			ctx := context.Background()

			order, err := e.driver.CreateOrder(ctx, e.checkoutInput("s1"))
			if err != nil {
				t.Fatalf("create order: %v", err)
			}

			updated, err := e.driver.UpdatePaymentStatus(ctx, order.ID, status)
			if err != nil {
				t.Fatalf("update payment status: %v", err)
			}
			if updated.Status != domain.OrderStatusCancelled || updated.PaymentStatus != status || updated.PaidAt != nil {
				t.Fatalf("unexpected order: %+v", updated)
			}
			if rec := e.record(t, keyPear); rec.CurrentStock != 10 || rec.ReservedStock != 0 {
				t.Fatalf("reservation must be released, got %+v", rec)
			}

			if _, err := e.driver.UpdatePaymentStatus(ctx, order.ID, status); !errors.Is(err, domain.ErrOrderNotPending) {
				t.Fatalf("second release must be rejected, got %v", err)
			}
			if rec := e.record(t, keyPear); rec.ReservedStock != 0 || rec.CurrentStock != 10 {
				t.Fatalf("double release changed stock: %+v", rec)
			}
		})
	}
}

func TestUpdatePaymentStatus_ConfirmFailureLeavesOrderPending(t *testing.T) {
	e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10})
	e.addToCart(t, "s1", keyPear, 2, 9000)
	ctx := context.Background()

	order, err := e.driver.CreateOrder(ctx, e.checkoutInput("s1"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	// Резерв потерян мимо жизненного цикла: подтверждать нечего.
	if err := e.inventory.Release(ctx, order.Reservations()); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := e.driver.UpdatePaymentStatus(ctx, order.ID, domain.PaymentStatusPaid); !errors.Is(err, domain.ErrStockConfirmFailed) {
		t.Fatalf("expected ErrStockConfirmFailed, got %v", err)
	}
	stored, _ := e.orders.Get(ctx, order.ID)
	if stored.Status != domain.OrderStatusPending || stored.PaymentStatus != domain.PaymentStatusPending || stored.PaidAt != nil {
		t.Fatalf("order must stay pending/pending: %+v", stored)
	}
}

func TestUpdatePaymentStatus_InvalidInput(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	if _, err := e.driver.UpdatePaymentStatus(ctx, "", domain.PaymentStatusPaid); !errors.Is(err, domain.ErrOrderIDRequired) {
		t.Fatalf("expected ErrOrderIDRequired, got %v", err)
	}
	if _, err := e.driver.UpdatePaymentStatus(ctx, "order-1", domain.PaymentStatusPending); !errors.Is(err, domain.ErrPaymentStatusInvalid) {
		t.Fatalf("expected ErrPaymentStatusInvalid, got %v", err)
	}
	if _, err := e.driver.UpdatePaymentStatus(ctx, "missing", domain.PaymentStatusPaid); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestUpdatePaymentStatus_ConcurrentActorsReleaseOnce(t *testing.T) {
	e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10})
	e.addToCart(t, "s1", keyPear, 5, 9000)
	ctx := context.Background()

	order, err := e.driver.CreateOrder(ctx, e.checkoutInput("s1"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	statuses := []domain.PaymentStatus{domain.PaymentStatusExpired, domain.PaymentStatusUnpaid, domain.PaymentStatusPaid}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []domain.PaymentStatus
	)
	for i := 0; i < 12; i++ {
		status := statuses[i%len(statuses)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.driver.UpdatePaymentStatus(ctx, order.ID, status); err == nil {
				mu.Lock()
				wins = append(wins, status)
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrOrderNotPending) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("exactly one transition must win, got %v", wins)
	}
	rec := e.record(t, keyPear)
	if rec.ReservedStock != 0 {
		t.Fatalf("reservation must be settled exactly once: %+v", rec)
	}
	wantCurrent := int32(10)
	if wins[0] == domain.PaymentStatusPaid {
		wantCurrent = 5
	}
	if rec.CurrentStock != wantCurrent {
		t.Fatalf("expected current stock %d after %s, got %d", wantCurrent, wins[0], rec.CurrentStock)
	}
}

func TestAdvanceStatus_FollowsFulfillmentChain(t *testing.T) {
	e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10})
	e.addToCart(t, "s1", keyPear, 1, 9000)
	ctx := context.Background()

	order, _ := e.driver.CreateOrder(ctx, e.checkoutInput("s1"))
	if _, err := e.driver.AdvanceStatus(ctx, order.ID, domain.OrderStatusPreparing); !errors.Is(err, domain.ErrStatusTransitionInvalid) {
		t.Fatalf("unpaid order must not advance, got %v", err)
	}

	if _, err := e.driver.UpdatePaymentStatus(ctx, order.ID, domain.PaymentStatusPaid); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	for _, next := range []domain.OrderStatus{
		domain.OrderStatusPreparing,
		domain.OrderStatusReady,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
	} {
		updated, err := e.driver.AdvanceStatus(ctx, order.ID, next)
		if err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
		if updated.Status != next || updated.PaymentStatus != domain.PaymentStatusPaid {
			t.Fatalf("unexpected state after advance: %s/%s", updated.Status, updated.PaymentStatus)
		}
	}
	if _, err := e.driver.AdvanceStatus(ctx, order.ID, domain.OrderStatusPending); !errors.Is(err, domain.ErrStatusTransitionInvalid) {
		t.Fatalf("delivered order must not go back to pending, got %v", err)
	}
}

func TestDriver_EmitsOutboxAndTimeline(t *testing.T) {
	e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10})
	e.addToCart(t, "s1", keyPear, 1, 9000)
	ctx := context.Background()

	order, _ := e.driver.CreateOrder(ctx, e.checkoutInput("s1"))
	if _, err := e.driver.UpdatePaymentStatus(ctx, order.ID, domain.PaymentStatusExpired); err != nil {
		t.Fatalf("expire: %v", err)
	}

	pending := e.outbox.AllPending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 outbox events, got %d", len(pending))
	}
	if pending[0].EventType != domain.EventOrderCreated || pending[1].EventType != domain.EventOrderExpired {
		t.Fatalf("unexpected event order: %s, %s", pending[0].EventType, pending[1].EventType)
	}

	var payload OrderEventPayload
	if err := json.Unmarshal(pending[1].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.OrderNumber != order.Number || payload.PaymentStatus != "expired" || payload.Status != "cancelled" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	events, err := e.driver.Timeline(ctx, order.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(events) != 2 || events[1].Reason != "payment window elapsed" {
		t.Fatalf("unexpected timeline: %+v", events)
	}

	if _, err := e.driver.Timeline(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestDriver_Queries(t *testing.T) {
	e := newEnv(t, map[domain.InventoryKey]int32{keyPear: 10})
	ctx := context.Background()

	e.addToCart(t, "s1", keyPear, 1, 9000)
	first, _ := e.driver.CreateOrder(ctx, e.checkoutInput("s1"))
	e.clock.Advance(time.Minute)
	e.addToCart(t, "s1", keyPear, 1, 9000)
	second, _ := e.driver.CreateOrder(ctx, e.checkoutInput("s1"))

	listed, err := e.driver.ListCustomerOrders(ctx, "s1", 10)
	if err != nil || len(listed) != 2 || listed[0].ID != second.ID {
		t.Fatalf("unexpected list: %v %+v", err, listed)
	}
	if _, err := e.driver.ListCustomerOrders(ctx, "", 10); !errors.Is(err, domain.ErrCustomerRequired) {
		t.Fatalf("expected ErrCustomerRequired, got %v", err)
	}

	byNumber, err := e.driver.GetOrderByNumber(ctx, first.Number)
	if err != nil || byNumber.ID != first.ID {
		t.Fatalf("get by number: %v %+v", err, byNumber)
	}

	if _, err := e.driver.UpdatePaymentStatus(ctx, first.ID, domain.PaymentStatusPaid); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	stats, err := e.driver.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.ByPaymentStatus[domain.PaymentStatusPaid] != 1 || stats.PaidRevenue != first.TotalMinor {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

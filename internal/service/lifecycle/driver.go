// Package lifecycle ведёт заказ от оформления до оплаты, отмены и доставки.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
)

// maxNumberAttempts ограничивает повторы при занятом номере заказа.
const maxNumberAttempts = 3

// StockLedger — часть складского учёта, нужная оформлению заказа.
type StockLedger interface {
	Reserve(ctx context.Context, batch []domain.StockReservation) bool
	Release(ctx context.Context, batch []domain.StockReservation) bool
}

// Dependencies — хранилища, с которыми работает Driver.
type Dependencies struct {
	Orders   domain.OrderRepository
	Carts    domain.CartStore
	Ledger   StockLedger
	Sequence domain.OrderNumberSequence
	Outbox   domain.OutboxRepository
	Timeline domain.TimelineRepository
}

// Options задаёт необязательные параметры Driver.
type Options struct {
	Logger       *log.Entry
	Metrics      *metrics.Metrics
	Clock        func() time.Time
	Shipping     domain.ShippingPolicy
	NumberPrefix string
}

// Option настраивает Driver.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики заказов.
func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithClock подменяет текущее время.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithShippingPolicy задаёт порог бесплатной доставки и тариф.
func WithShippingPolicy(policy domain.ShippingPolicy) Option {
	return func(opts *Options) {
		opts.Shipping = policy
	}
}

// WithNumberPrefix задаёт префикс номеров заказов.
func WithNumberPrefix(prefix string) Option {
	return func(opts *Options) {
		opts.NumberPrefix = prefix
	}
}

// Driver — жизненный цикл заказа.
type Driver struct {
	orders   domain.OrderRepository
	carts    domain.CartStore
	ledger   StockLedger
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	numbers  *NumberGenerator
	shipping domain.ShippingPolicy
	logger   *log.Entry
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewDriver создаёт Driver. Outbox и Timeline необязательны.
func NewDriver(deps Dependencies, options ...Option) *Driver {
	opts := Options{
		Shipping:     domain.DefaultShippingPolicy(),
		NumberPrefix: DefaultNumberPrefix,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-lifecycle")
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Driver{
		orders:   deps.Orders,
		carts:    deps.Carts,
		ledger:   deps.Ledger,
		outbox:   deps.Outbox,
		timeline: deps.Timeline,
		numbers:  NewNumberGenerator(deps.Sequence, opts.NumberPrefix, logger.WithField("component", "order-number")),
		shipping: opts.Shipping,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      clock,
	}
}

// CreateOrderInput — данные оформления заказа.
type CreateOrderInput struct {
	SessionID string
	// CustomerID по умолчанию совпадает с SessionID: магазин работает без учётных записей.
	CustomerID   string
	AddressID    string
	DeliveryDate time.Time
	Notes        string
}

// CreateOrder оформляет заказ из корзины сессии. Резерв выполняется одним пакетом
// до сохранения заказа; при сбое сохранения резерв снимается.
func (d *Driver) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	started := d.now()
	fields := log.Fields{"session_id": in.SessionID}

	if in.SessionID == "" {
		return domain.Order{}, domain.ErrSessionRequired
	}
	if strings.TrimSpace(in.AddressID) == "" {
		d.logger.WithFields(fields).Warn("checkout rejected: address missing")
		return domain.Order{}, domain.ErrAddressRequired
	}
	if in.DeliveryDate.IsZero() {
		d.logger.WithFields(fields).Warn("checkout rejected: delivery date missing")
		return domain.Order{}, domain.ErrDeliveryDateRequired
	}

	cart, err := d.carts.Get(ctx, in.SessionID)
	if err != nil {
		d.logger.WithError(err).WithFields(fields).Error("failed to load cart")
		return domain.Order{}, fmt.Errorf("load cart: %w", err)
	}
	if cart.IsEmpty() {
		d.logger.WithFields(fields).Warn("checkout rejected: cart is empty")
		return domain.Order{}, domain.ErrCartEmpty
	}

	order := d.buildOrder(in, cart, started)
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		d.logger.WithError(errors.Join(errs...)).WithFields(fields).Warn("checkout rejected: invalid order")
		return domain.Order{}, errors.Join(errs...)
	}

	batch := order.Reservations()
	if !d.ledger.Reserve(ctx, batch) {
		d.logger.WithFields(fields).Warn("checkout rejected: insufficient stock")
		return domain.Order{}, domain.ErrInsufficientStock
	}

	if err := d.persist(ctx, &order); err != nil {
		if !d.ledger.Release(ctx, batch) {
			d.logger.WithFields(fields).WithField("order_id", order.ID).Error("failed to release stock after order persist failure")
		}
		d.logger.WithError(err).WithFields(fields).Error("failed to persist order")
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	fields["order_id"] = order.ID
	fields["order_number"] = order.Number
	if err := d.carts.Clear(ctx, in.SessionID); err != nil {
		d.logger.WithError(err).WithFields(fields).Warn("failed to clear cart after checkout")
	}

	d.emitEvent(ctx, order, domain.EventOrderCreated, "order placed", order.CreatedAt)
	d.metrics.RecordOrderCreated(d.now().Sub(started))
	d.logger.WithFields(fields).WithField("total_minor", order.TotalMinor).Info("order created")
	return order, nil
}

func (d *Driver) buildOrder(in CreateOrderInput, cart domain.Cart, at time.Time) domain.Order {
	orderID := uuid.NewString()
	customerID := in.CustomerID
	if customerID == "" {
		customerID = in.SessionID
	}

	items := make([]domain.OrderItem, 0, len(cart.Lines))
	var subtotal int64
	for _, line := range cart.Lines {
		lineTotal := int64(line.Quantity) * line.UnitPriceMinor
		subtotal += lineTotal
		items = append(items, domain.OrderItem{
			ID:             uuid.NewString(),
			OrderID:        orderID,
			ProductID:      line.ProductID,
			PortionSizeID:  line.PortionSizeID,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPriceMinor,
			LineTotalMinor: lineTotal,
			CreatedAt:      at,
		})
	}
	shipping := d.shipping.Fee(subtotal)

	return domain.Order{
		ID:             orderID,
		CustomerID:     customerID,
		AddressID:      strings.TrimSpace(in.AddressID),
		DeliveryDate:   in.DeliveryDate.UTC(),
		Notes:          in.Notes,
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		Currency:       domain.CurrencyZAR,
		SubtotalMinor:  subtotal,
		ShippingMinor:  shipping,
		TotalMinor:     subtotal + shipping,
		PaymentDueDate: at.Add(domain.PaymentWindow),
		Items:          items,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

// persist сохраняет заказ; занятый номер заменяется резервным.
func (d *Driver) persist(ctx context.Context, order *domain.Order) error {
	order.Number = d.numbers.Next(ctx, order.CreatedAt)

	var err error
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		err = d.orders.Create(ctx, *order)
		if !errors.Is(err, domain.ErrOrderNumberTaken) {
			return err
		}
		d.logger.WithFields(log.Fields{
			"order_number": order.Number,
			"attempt":      attempt,
		}).Warn("order number already taken, retrying")
		order.Number = d.numbers.Fallback(d.now().Add(time.Duration(attempt) * time.Millisecond))
	}
	return err
}

// UpdatePaymentStatus переводит заказ из pending в paid, unpaid или expired
// и применяет складской эффект перехода. Из двух одновременных вызовов
// выигрывает один, второй получает ErrOrderNotPending.
func (d *Driver) UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) (domain.Order, error) {
	fields := log.Fields{"order_id": orderID, "payment_status": status}

	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	transition, err := domain.TransitionFor(status)
	if err != nil {
		d.logger.WithFields(fields).Warn("unsupported payment status")
		d.metrics.RecordPaymentTransition(string(status), metrics.ResultRejected)
		return domain.Order{}, err
	}

	at := d.now()
	order, err := d.orders.SettlePayment(ctx, orderID, transition, at)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotPending), errors.Is(err, domain.ErrOrderNotFound):
			d.logger.WithError(err).WithFields(fields).Warn("payment status update rejected")
			d.metrics.RecordPaymentTransition(string(status), metrics.ResultRejected)
		default:
			d.logger.WithError(err).WithFields(fields).Error("payment status update failed")
			d.metrics.RecordPaymentTransition(string(status), metrics.ResultError)
		}
		return domain.Order{}, err
	}

	d.emitEvent(ctx, order, transition.Event, paymentReason(status), at)
	d.metrics.RecordPaymentTransition(string(status), metrics.ResultOK)
	d.logger.WithFields(fields).WithField("status", order.Status).Info("payment status updated")
	return order, nil
}

func paymentReason(status domain.PaymentStatus) string {
	switch status {
	case domain.PaymentStatusPaid:
		return "payment received"
	case domain.PaymentStatusUnpaid:
		return "marked unpaid"
	case domain.PaymentStatusExpired:
		return "payment window elapsed"
	default:
		return ""
	}
}

// AdvanceStatus переводит оплаченный заказ на следующий шаг исполнения.
func (d *Driver) AdvanceStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error) {
	fields := log.Fields{"order_id": orderID, "next_status": next}

	current, err := d.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !current.Status.CanAdvanceTo(next) {
		d.logger.WithFields(fields).WithField("status", current.Status).Warn("fulfillment transition rejected")
		return domain.Order{}, domain.ErrStatusTransitionInvalid
	}

	at := d.now()
	order, err := d.orders.AdvanceStatus(ctx, orderID, current.Status, next, at)
	if err != nil {
		d.logger.WithError(err).WithFields(fields).Warn("fulfillment transition failed")
		return domain.Order{}, err
	}

	d.emitEvent(ctx, order, domain.EventOrderStatusChanged, fmt.Sprintf("%s -> %s", current.Status, next), at)
	d.logger.WithFields(fields).Info("order status advanced")
	return order, nil
}

func (d *Driver) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return d.orders.Get(ctx, orderID)
}

func (d *Driver) GetOrderByNumber(ctx context.Context, number string) (domain.Order, error) {
	return d.orders.GetByNumber(ctx, number)
}

// ListCustomerOrders возвращает заказы клиента, новые первыми.
func (d *Driver) ListCustomerOrders(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	if customerID == "" {
		return nil, domain.ErrCustomerRequired
	}
	return d.orders.ListByCustomer(ctx, customerID, limit)
}

// Timeline возвращает события заказа в порядке возникновения.
func (d *Driver) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := d.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	if d.timeline == nil {
		return nil, nil
	}
	return d.timeline.List(ctx, orderID)
}

func (d *Driver) Stats(ctx context.Context) (domain.OrderStats, error) {
	return d.orders.Stats(ctx)
}

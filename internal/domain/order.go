package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, остаток зарезервирован, ждём оплату.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — оплата получена, остаток списан.
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	// OrderStatusOutForDelivery — заказ передан курьеру.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён (не оплачен или просрочен), резерв снят.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// CurrencyZAR — единственная валюта магазина.
const CurrencyZAR = "ZAR"

// PaymentWindow — срок оплаты от момента создания заказа.
const PaymentWindow = 24 * time.Hour

// DeadlineWarningWindow — за сколько до дедлайна заказ попадает в панель «скоро истечёт».
const DeadlineWarningWindow = 2 * time.Hour

var fulfillmentChain = map[OrderStatus]OrderStatus{
	OrderStatusConfirmed:      OrderStatusPreparing,
	OrderStatusPreparing:      OrderStatusReady,
	OrderStatusReady:          OrderStatusOutForDelivery,
	OrderStatusOutForDelivery: OrderStatusDelivered,
}

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanAdvanceTo разрешает только следующий шаг цепочки исполнения.
// В pending заказ не возвращается никогда.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	want, ok := fulfillmentChain[s]
	return ok && want == next
}

// Terminal сообщает, что статус оплаты больше не меняется.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusPending
}

// OrderItem — позиция заказа, снимок цены на момент покупки. Не меняется после создания.
type OrderItem struct {
	ID             string
	OrderID        string
	ProductID      string
	PortionSizeID  string
	Quantity       int32
	UnitPriceMinor int64
	LineTotalMinor int64
	CreatedAt      time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID             string
	Number         string
	CustomerID     string
	AddressID      string
	DeliveryDate   time.Time
	Notes          string
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	Currency       string
	SubtotalMinor  int64
	ShippingMinor  int64
	TotalMinor     int64
	PaymentDueDate time.Time
	PaidAt         *time.Time
	Items          []OrderItem
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Reservations строит пакет резервов по позициям заказа.
func (o *Order) Reservations() []StockReservation {
	out := make([]StockReservation, 0, len(o.Items))
	for _, item := range o.Items {
		out = append(out, StockReservation{
			ProductID:     item.ProductID,
			PortionSizeID: item.PortionSizeID,
			Quantity:      item.Quantity,
		})
	}
	return out
}

// Expired сообщает, что срок оплаты истёк, а заказ всё ещё не оплачен.
func (o *Order) Expired(now time.Time) bool {
	return o.PaymentStatus == PaymentStatusPending && o.PaymentDueDate.Before(now)
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.AddressID == "" {
		errs = append(errs, ErrAddressRequired)
	}
	if o.DeliveryDate.IsZero() {
		errs = append(errs, ErrDeliveryDateRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.SubtotalMinor < 0 || o.ShippingMinor < 0 || o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.LineTotalMinor != int64(item.Quantity)*item.UnitPriceMinor {
			errs = append(errs, ErrLineTotalMismatch)
		}
		calc += item.LineTotalMinor
	}
	if calc != o.SubtotalMinor || o.SubtotalMinor+o.ShippingMinor != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// OrderStats — агрегаты по заказам для панели администратора.
type OrderStats struct {
	Total           int
	ByStatus        map[OrderStatus]int
	ByPaymentStatus map[PaymentStatus]int
	PaidRevenue     int64
}

// Типы событий жизненного цикла заказа (outbox и timeline).
const (
	EventOrderCreated       = "OrderCreated"
	EventOrderPaid          = "OrderPaid"
	EventOrderUnpaid        = "OrderUnpaid"
	EventOrderExpired       = "OrderExpired"
	EventOrderStatusChanged = "OrderStatusChanged"
)

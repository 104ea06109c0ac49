package domain

import (
	"strings"
	"time"
)

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	// PaymentStatusPending — ждём оплату до PaymentDueDate.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — оплата подтверждена.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusUnpaid — администратор вручную отметил заказ неоплаченным.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusExpired — срок оплаты истёк.
	PaymentStatusExpired PaymentStatus = "expired"
)

// ParsePaymentStatus принимает значение в любом регистре (PAID, paid).
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusUnpaid, PaymentStatusExpired:
		return status, nil
	default:
		return "", ErrPaymentStatusInvalid
	}
}

// StockEffect — что происходит с резервом при смене статуса оплаты.
type StockEffect string

const (
	StockEffectConfirm StockEffect = "confirm"
	StockEffectRelease StockEffect = "release"
)

// PaymentTransition описывает совместный переход status × paymentStatus.
type PaymentTransition struct {
	Target      PaymentStatus
	OrderStatus OrderStatus
	Effect      StockEffect
	// SetPaidAt — проставить paidAt в момент перехода.
	SetPaidAt bool
	Event     string
}

// TransitionFor возвращает переход из pending/pending в заданный статус оплаты.
func TransitionFor(target PaymentStatus) (PaymentTransition, error) {
	switch target {
	case PaymentStatusPaid:
		return PaymentTransition{
			Target:      PaymentStatusPaid,
			OrderStatus: OrderStatusConfirmed,
			Effect:      StockEffectConfirm,
			SetPaidAt:   true,
			Event:       EventOrderPaid,
		}, nil
	case PaymentStatusUnpaid:
		return PaymentTransition{
			Target:      PaymentStatusUnpaid,
			OrderStatus: OrderStatusCancelled,
			Effect:      StockEffectRelease,
			Event:       EventOrderUnpaid,
		}, nil
	case PaymentStatusExpired:
		return PaymentTransition{
			Target:      PaymentStatusExpired,
			OrderStatus: OrderStatusCancelled,
			Effect:      StockEffectRelease,
			Event:       EventOrderExpired,
		}, nil
	default:
		return PaymentTransition{}, ErrPaymentStatusInvalid
	}
}

// Apply переносит переход на копию заказа. Хранилища вызывают его только
// после того, как условное обновление выиграло гонку.
func (t PaymentTransition) Apply(order Order, at time.Time) Order {
	order.PaymentStatus = t.Target
	order.Status = t.OrderStatus
	if t.SetPaidAt {
		paidAt := at
		order.PaidAt = &paidAt
	}
	order.Version++
	order.UpdatedAt = at
	return order
}

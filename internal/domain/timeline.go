package domain

import "time"

// TimelineEvent — запись истории заказа. Status и PaymentStatus фиксируют
// состояние заказа сразу после события.
type TimelineEvent struct {
	// ID присваивает хранилище; внутри заказа растёт вместе с порядком вставки.
	ID            int64
	OrderID       string
	Type          string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Reason        string
	Occurred      time.Time
}

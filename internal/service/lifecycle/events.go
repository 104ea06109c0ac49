package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

// AggregateOrder — тип агрегата в outbox.
const AggregateOrder = "order"

// OrderEventPayload — тело события заказа в outbox и Kafka.
type OrderEventPayload struct {
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	CustomerID    string `json:"customer_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	TotalMinor    int64  `json:"total_minor"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason,omitempty"`
	Timestamp     string `json:"ts"`
}

// emitEvent пишет событие в outbox и timeline. Сбой записи события не отменяет
// уже выполненный переход заказа, поэтому только логируется.
func (d *Driver) emitEvent(ctx context.Context, order domain.Order, eventType, reason string, at time.Time) {
	fields := log.Fields{"order_id": order.ID, "event": eventType}

	payload := OrderEventPayload{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CustomerID:    order.CustomerID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		TotalMinor:    order.TotalMinor,
		Currency:      order.Currency,
		Reason:        reason,
		Timestamp:     at.UTC().Format(time.RFC3339Nano),
	}

	if d.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			d.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		} else {
			msg := domain.OutboxMessage{
				AggregateType: AggregateOrder,
				AggregateID:   order.ID,
				EventType:     eventType,
				Payload:       data,
			}
			if _, err := d.outbox.Enqueue(ctx, msg); err != nil {
				d.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
			} else {
				d.metrics.RecordOutboxEvent()
			}
		}
	}

	if d.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:       order.ID,
			Type:          eventType,
			Status:        order.Status,
			PaymentStatus: order.PaymentStatus,
			Reason:        reason,
			Occurred:      at,
		}
		if err := d.timeline.Append(ctx, event); err != nil {
			d.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
		} else {
			d.metrics.RecordTimelineEvent()
		}
	}
}

package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

// PaymentStatusUpdater — переход оплаты заказа (реализует lifecycle.Driver).
type PaymentStatusUpdater interface {
	UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) (domain.Order, error)
}

// NewPaymentEventHandler применяет события платёжного шлюза к заказам.
//
// Повтор уже применённого события (ErrOrderNotPending) подтверждается без ошибки.
// Нераспознанные сообщения и неизвестные заказы отправляются в DLQ без повторов.
func NewPaymentEventHandler(updater PaymentStatusUpdater, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-events")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParsePaymentEvent(message)
		if err != nil {
			return Permanent(err)
		}
		if event.OrderID == "" {
			return Permanent(domain.ErrOrderIDRequired)
		}

		status, err := domain.ParsePaymentStatus(event.PaymentStatus)
		if err != nil || status == domain.PaymentStatusPending {
			return Permanent(fmt.Errorf("payment status %q: %w", event.PaymentStatus, domain.ErrPaymentStatusInvalid))
		}

		entry := logger.WithFields(log.Fields{
			"order_id":       event.OrderID,
			"payment_status": status,
			"provider_ref":   event.ProviderRef,
		})

		order, err := updater.UpdatePaymentStatus(ctx, event.OrderID, status)
		switch {
		case err == nil:
			entry.WithField("status", order.Status).Info("payment event applied")
			return nil
		case errors.Is(err, domain.ErrOrderNotPending):
			entry.Debug("payment event already applied, acknowledging")
			return nil
		case errors.Is(err, domain.ErrOrderNotFound):
			return Permanent(err)
		default:
			return err
		}
	}
}

package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

// DeadLetter — тело сообщения DLQ для события, которое не удалось опубликовать.
// Инструмент повторной отправки восстанавливает из него исходное событие.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts"`
	EnqueuedAt    time.Time       `json:"enqueued_at,omitempty"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

// NewDeadLetter описывает событие msg, попытки публикации которого исчерпаны.
func NewDeadLetter(msg domain.OutboxMessage, publishErr error, attempts int, failedAt time.Time) DeadLetter {
	letter := DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		Attempts:      attempts,
		EnqueuedAt:    msg.CreatedAt,
		FailedAt:      failedAt.UTC(),
	}
	if publishErr != nil {
		letter.PublishError = publishErr.Error()
	}
	if len(letter.Payload) == 0 || !json.Valid(letter.Payload) {
		// в DLQ уходит строка, чтобы битое тело не ломало весь конверт
		quoted, _ := json.Marshal(string(msg.Payload))
		letter.Payload = quoted
	}
	return letter
}

// Message упаковывает письмо в outbox-сообщение для DLQ-издателя.
func (d DeadLetter) Message() (domain.OutboxMessage, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal dead letter %s: %w", d.OutboxID, err)
	}
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       body,
	}, nil
}

// Original восстанавливает событие, которое не удалось опубликовать.
func (d DeadLetter) Original() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       append([]byte(nil), d.Payload...),
		CreatedAt:     d.EnqueuedAt,
	}
}

// ErrNotDeadLetter — данные не похожи на письмо outbox worker.
var ErrNotDeadLetter = errors.New("not an outbox dead letter")

// DecodeDeadLetter разбирает тело DLQ-сообщения. Письмо без payload
// считается чужим.
func DecodeDeadLetter(data []byte) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(data, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("%w: %v", ErrNotDeadLetter, err)
	}
	if len(letter.Payload) == 0 {
		return DeadLetter{}, ErrNotDeadLetter
	}
	return letter, nil
}

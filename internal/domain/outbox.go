package domain

import "time"

// OutboxStatus — состояние записи transactional outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	// OutboxStatusFailed — попытки публикации исчерпаны, запись ушла в DLQ.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxMessage — событие, ожидающее публикации.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	// CreatedAt заполняет хранилище при Enqueue.
	CreatedAt time.Time
}

// OutboxStats описывает backlog outbox.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

// OldestPendingAge возвращает возраст старейшей pending-записи на момент now.
func (s OutboxStats) OldestPendingAge(now time.Time) time.Duration {
	if s.PendingCount == 0 || s.OldestPendingAt.IsZero() {
		return 0
	}
	if age := now.Sub(s.OldestPendingAt); age > 0 {
		return age
	}
	return 0
}

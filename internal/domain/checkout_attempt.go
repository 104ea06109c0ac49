package domain

import (
	"net/http"
	"strings"
	"time"
)

// CheckoutAttemptStatus описывает стадию повторяемого оформления заказа.
type CheckoutAttemptStatus string

const (
	// CheckoutAttemptInFlight — запрос принят, ответ ещё не готов.
	CheckoutAttemptInFlight CheckoutAttemptStatus = "in_flight"
	// CheckoutAttemptCompleted — заказ создан, ответ сохранён.
	CheckoutAttemptCompleted CheckoutAttemptStatus = "completed"
	// CheckoutAttemptRejected — оформление отклонено, сохранён ответ с ошибкой.
	CheckoutAttemptRejected CheckoutAttemptStatus = "rejected"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s CheckoutAttemptStatus) Valid() bool {
	switch s {
	case CheckoutAttemptInFlight, CheckoutAttemptCompleted, CheckoutAttemptRejected:
		return true
	default:
		return false
	}
}

// Final сообщает, что исход попытки зафиксирован.
func (s CheckoutAttemptStatus) Final() bool {
	return s == CheckoutAttemptCompleted || s == CheckoutAttemptRejected
}

// CheckoutKey — значение Idempotency-Key в пределах сессии. Одинаковые ключи
// разных сессий не пересекаются.
type CheckoutKey struct {
	SessionID string
	Key       string
}

// Normalize обрезает пробелы вокруг обоих полей.
func (k CheckoutKey) Normalize() CheckoutKey {
	return CheckoutKey{SessionID: strings.TrimSpace(k.SessionID), Key: strings.TrimSpace(k.Key)}
}

// Validate проверяет, что ключ и сессия заданы.
func (k CheckoutKey) Validate() error {
	if k.SessionID == "" {
		return ErrSessionRequired
	}
	if k.Key == "" {
		return ErrIdempotencyKeyRequired
	}
	return nil
}

func (k CheckoutKey) String() string {
	return k.SessionID + "/" + k.Key
}

// CheckoutAttempt хранит исход запроса оформления заказа с Idempotency-Key.
type CheckoutAttempt struct {
	CheckoutKey
	RequestHash string
	Status      CheckoutAttemptStatus
	// OrderID заполнен только у завершённой попытки.
	OrderID    string
	HTTPStatus int
	Response   []byte
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Expired сообщает, что ключ можно переиспользовать для нового запроса.
func (a CheckoutAttempt) Expired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}

// Replayable сообщает, что сохранённый ответ можно отдать повторному запросу.
func (a CheckoutAttempt) Replayable() bool {
	return a.Status.Final() && a.HTTPStatus != 0 && len(a.Response) > 0
}

// CheckoutOutcome — ответ, которым закрывается попытка.
type CheckoutOutcome struct {
	OrderID    string
	HTTPStatus int
	Response   []byte
}

// Status выводит итоговый статус попытки из HTTP-кода ответа.
func (o CheckoutOutcome) Status() CheckoutAttemptStatus {
	if o.HTTPStatus >= http.StatusBadRequest {
		return CheckoutAttemptRejected
	}
	return CheckoutAttemptCompleted
}

package domain

import (
	"context"
	"time"
)

// InventoryRepository хранит складские записи. Пакетные операции атомарны:
// либо изменены все строки, либо ни одной.
type InventoryRepository interface {
	// Get возвращает запись или ErrInventoryNotFound.
	Get(ctx context.Context, key InventoryKey) (InventoryRecord, error)
	// Ensure создаёт запись с нулевыми остатками, если её ещё нет.
	Ensure(ctx context.Context, key InventoryKey, weeklyLimit int32) (InventoryRecord, error)
	// Reserve увеличивает reserved_stock для каждой строки при условии current - reserved >= qty.
	// Возвращает ErrInsufficientStock или ErrInventoryNotFound, если хотя бы одна строка не прошла.
	Reserve(ctx context.Context, batch []StockReservation) error
	// Release уменьшает reserved_stock; ниже нуля не опускается (ErrInventoryInvariant).
	Release(ctx context.Context, batch []StockReservation) error
	// Confirm уменьшает current_stock и reserved_stock на одно и то же количество.
	Confirm(ctx context.Context, batch []StockReservation) error
	// Restock увеличивает current_stock и проставляет last_restocked.
	Restock(ctx context.Context, key InventoryKey, additional int32, at time.Time) (InventoryRecord, error)
	// ListLowStock возвращает записи со свободным остатком не выше порога.
	ListLowStock(ctx context.Context, threshold int32, limit int) ([]InventoryRecord, error)
	Stats(ctx context.Context) (InventoryStats, error)
}

// OrderCursor — позиция keyset-пагинации по (payment_due_date, id).
type OrderCursor struct {
	DueDate time.Time
	ID      string
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями. ErrOrderNumberTaken при занятом номере.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	GetByNumber(ctx context.Context, number string) (Order, error)
	// ListByCustomer возвращает заказы клиента, новые первыми.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// SettlePayment атомарно переводит заказ из payment_status=pending и применяет
	// складской эффект перехода к его позициям. Проигравший гонку получает
	// ErrOrderNotPending; неудачное подтверждение склада даёт ErrStockConfirmFailed
	// и ничего не меняет.
	SettlePayment(ctx context.Context, orderID string, transition PaymentTransition, at time.Time) (Order, error)
	// AdvanceStatus меняет статус исполнения при условии текущего статуса from.
	AdvanceStatus(ctx context.Context, orderID string, from, to OrderStatus, at time.Time) (Order, error)
	// ListExpired — pending-заказы с payment_due_date < now, после курсора.
	ListExpired(ctx context.Context, now time.Time, after *OrderCursor, limit int) ([]Order, error)
	// ListApproachingDeadline — pending-заказы, у которых дедлайн в (now, now+window].
	ListApproachingDeadline(ctx context.Context, now time.Time, window time.Duration, limit int) ([]Order, error)
	Stats(ctx context.Context) (OrderStats, error)
}

// OrderNumberSequence выдаёт атомарный дневной счётчик номеров заказов.
type OrderNumberSequence interface {
	// Next возвращает следующее значение для дня в формате YYYYMMDD, начиная с 1.
	Next(ctx context.Context, day string) (int64, error)
}

// CartStore хранит корзины по идентификатору сессии.
type CartStore interface {
	// Get возвращает корзину; отсутствующая корзина — пустая, не ошибка.
	Get(ctx context.Context, sessionID string) (Cart, error)
	// SetLine записывает строку целиком (замещает строку с тем же ключом).
	SetLine(ctx context.Context, sessionID string, line CartLine) error
	RemoveLine(ctx context.Context, sessionID string, key InventoryKey) error
	Clear(ctx context.Context, sessionID string) error
}

// PriceRepository хранит прайс порций.
type PriceRepository interface {
	// Get возвращает цену или ErrPriceNotFound.
	Get(ctx context.Context, key InventoryKey) (PortionPrice, error)
	Set(ctx context.Context, price PortionPrice) (PortionPrice, error)
	List(ctx context.Context) ([]PortionPrice, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository хранит события заказов до публикации в брокер.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullPending возвращает pending-записи в порядке вставки.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	// MarkFailed снимает запись с публикации и сохраняет причину.
	MarkFailed(ctx context.Context, id, reason string) error
	// PurgeSent удаляет отправленные до before записи, не больше limit за вызов.
	PurgeSent(ctx context.Context, before time.Time, limit int) (int, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// CheckoutAttemptRepository хранит попытки оформления заказа по Idempotency-Key.
type CheckoutAttemptRepository interface {
	// Begin регистрирует попытку в статусе in_flight. Занятый ключ возвращает
	// существующую запись вместе с ErrIdempotencyKeyAlreadyExists или
	// ErrIdempotencyHashMismatch. Просроченная к attempt.CreatedAt запись
	// замещается новой.
	Begin(ctx context.Context, attempt CheckoutAttempt) (CheckoutAttempt, error)
	Get(ctx context.Context, key CheckoutKey) (CheckoutAttempt, error)
	// Finish закрывает попытку в статусе in_flight; повторный вызов
	// возвращает ErrCheckoutAttemptFinished.
	Finish(ctx context.Context, key CheckoutKey, outcome CheckoutOutcome) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

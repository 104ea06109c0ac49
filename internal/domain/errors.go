package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия итога позиции произведению цены на количество.
	ErrLineTotalMismatch = errors.New("line total does not match quantity * unit price")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")

	// ErrCartEmpty возвращается при оформлении заказа из пустой корзины.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrAddressRequired — не указан адрес доставки.
	ErrAddressRequired = errors.New("delivery address is required")
	// ErrDeliveryDateRequired — не указана дата доставки.
	ErrDeliveryDateRequired = errors.New("delivery date is required")
	// ErrSessionRequired — запрос без идентификатора сессии.
	ErrSessionRequired = errors.New("session id is required")
	// ErrInsufficientStock — хотя бы одной позиции не хватает свободного остатка.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrProductRequired — в резерве или корзине не указан товар.
	ErrProductRequired = errors.New("product_id is required")
	// ErrPortionSizeRequired — не указан размер порции.
	ErrPortionSizeRequired = errors.New("portion_size_id is required")
	// ErrQuantityInvalid — количество должно быть больше нуля.
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// ErrInventoryNotFound — складская запись для пары товар/порция отсутствует.
	ErrInventoryNotFound = errors.New("inventory record not found")
	// ErrCartLineLimit — строка корзины превысила бы MaxCartLineQuantity.
	ErrCartLineLimit = errors.New("cart line quantity exceeds limit")
	// ErrStockOverflow — счётчик остатка или сумма строк пакета вышли бы за MaxStockQuantity.
	ErrStockOverflow = errors.New("stock quantity exceeds limit")
	// ErrInventoryInvariant — счётчики склада нарушают инвариант 0 <= reserved <= current.
	ErrInventoryInvariant = errors.New("inventory counters violate invariant")
	// ErrPriceNotFound — для порции не задана цена.
	ErrPriceNotFound = errors.New("portion price not found")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNumberTaken — номер заказа уже занят.
	ErrOrderNumberTaken = errors.New("order number already taken")
	// ErrOrderNotPending — статус оплаты уже не pending, переход выполнил кто-то другой.
	ErrOrderNotPending = errors.New("order payment is not pending")
	// ErrStockConfirmFailed — подтверждение резерва не прошло, заказ оставлен без изменений.
	ErrStockConfirmFailed = errors.New("stock confirmation failed")
	// ErrPaymentStatusInvalid — неподдерживаемый целевой статус оплаты.
	ErrPaymentStatusInvalid = errors.New("unsupported payment status")
	// ErrStatusTransitionInvalid — недопустимый шаг по цепочке исполнения заказа.
	ErrStatusTransitionInvalid = errors.New("invalid order status transition")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не передан хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrCheckoutAttemptFinished — исход попытки уже зафиксирован.
	ErrCheckoutAttemptFinished = errors.New("checkout attempt already finished")
)

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsExpectedRejection отличает бизнес-отказ от сбоя хранилища.
func IsExpectedRejection(err error) bool {
	switch {
	case errors.Is(err, ErrCartEmpty),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrAddressRequired),
		errors.Is(err, ErrDeliveryDateRequired),
		errors.Is(err, ErrSessionRequired),
		errors.Is(err, ErrCartLineLimit),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrOrderNotPending),
		errors.Is(err, ErrInventoryNotFound),
		errors.Is(err, ErrPriceNotFound),
		errors.Is(err, ErrStatusTransitionInvalid),
		errors.Is(err, ErrPaymentStatusInvalid):
		return true
	default:
		return false
	}
}

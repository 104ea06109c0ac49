package domain

import "time"

// MaxCartLineQuantity — предел количества в одной строке корзины с учётом
// повторных добавлений.
const MaxCartLineQuantity int32 = 1000

// CartLine — строка корзины с ценой порции на момент добавления.
type CartLine struct {
	ProductID      string
	PortionSizeID  string
	Quantity       int32
	UnitPriceMinor int64
}

// Key возвращает ключ складской записи строки.
func (l CartLine) Key() InventoryKey {
	return InventoryKey{ProductID: l.ProductID, PortionSizeID: l.PortionSizeID}
}

// Cart — корзина, привязанная к сессии покупателя.
type Cart struct {
	SessionID string
	Lines     []CartLine
	UpdatedAt time.Time
}

func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Subtotal — сумма строк без доставки.
func (c Cart) Subtotal() int64 {
	var sum int64
	for _, line := range c.Lines {
		sum += int64(line.Quantity) * line.UnitPriceMinor
	}
	return sum
}

// PortionPrice — цена размера порции товара в минимальных единицах.
type PortionPrice struct {
	ProductID     string
	PortionSizeID string
	PriceMinor    int64
	UpdatedAt     time.Time
}

// Значения доставки по умолчанию: бесплатно от R200, иначе R50.
const (
	DefaultFreeShippingThresholdMinor int64 = 20000
	DefaultShippingFeeMinor           int64 = 5000
)

// ShippingPolicy определяет стоимость доставки по сумме корзины.
type ShippingPolicy struct {
	FreeThresholdMinor int64
	FlatFeeMinor       int64
}

// DefaultShippingPolicy возвращает политику магазина по умолчанию.
func DefaultShippingPolicy() ShippingPolicy {
	return ShippingPolicy{
		FreeThresholdMinor: DefaultFreeShippingThresholdMinor,
		FlatFeeMinor:       DefaultShippingFeeMinor,
	}
}

// Fee возвращает 0, если subtotal достиг порога, иначе фиксированный тариф.
func (p ShippingPolicy) Fee(subtotalMinor int64) int64 {
	if subtotalMinor >= p.FreeThresholdMinor {
		return 0
	}
	return p.FlatFeeMinor
}

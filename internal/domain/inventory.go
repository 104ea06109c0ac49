package domain

import (
	"math"
	"sort"
	"time"
)

// MaxStockQuantity — верхняя граница любого складского счётчика, совпадает с
// INTEGER в Postgres.
const MaxStockQuantity = math.MaxInt32

// AddStock возвращает current+additional или ErrStockOverflow, если сумма не
// помещается в счётчик.
func AddStock(current, additional int32) (int32, error) {
	sum := int64(current) + int64(additional)
	if sum > MaxStockQuantity {
		return current, ErrStockOverflow
	}
	return int32(sum), nil
}

// InventoryKey идентифицирует складскую запись: товар и размер порции.
type InventoryKey struct {
	ProductID     string
	PortionSizeID string
}

func (k InventoryKey) String() string {
	return k.ProductID + "/" + k.PortionSizeID
}

// Less задаёт порядок блокировок строк при пакетных изменениях.
func (k InventoryKey) Less(other InventoryKey) bool {
	if k.ProductID != other.ProductID {
		return k.ProductID < other.ProductID
	}
	return k.PortionSizeID < other.PortionSizeID
}

// InventoryRecord хранит остатки по одной паре товар/порция.
type InventoryRecord struct {
	ProductID     string
	PortionSizeID string
	// CurrentStock — физический остаток на складе.
	CurrentStock int32
	// ReservedStock — часть остатка, удерживаемая неоплаченными заказами.
	ReservedStock int32
	// WeeklyLimit — недельный лимит пополнения.
	WeeklyLimit   int32
	LastRestocked time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Key возвращает ключ записи.
func (r InventoryRecord) Key() InventoryKey {
	return InventoryKey{ProductID: r.ProductID, PortionSizeID: r.PortionSizeID}
}

// AvailableStock — свободный остаток: current - reserved.
func (r InventoryRecord) AvailableStock() int32 {
	return r.CurrentStock - r.ReservedStock
}

// ValidateInvariants проверяет 0 <= reserved <= current и неотрицательность лимита.
func (r InventoryRecord) ValidateInvariants() []error {
	var errs []error
	if r.ProductID == "" {
		errs = append(errs, ErrProductRequired)
	}
	if r.PortionSizeID == "" {
		errs = append(errs, ErrPortionSizeRequired)
	}
	if r.CurrentStock < 0 || r.ReservedStock < 0 || r.WeeklyLimit < 0 || r.ReservedStock > r.CurrentStock {
		errs = append(errs, ErrInventoryInvariant)
	}
	return errs
}

// Availability — ответ на вопрос «хватит ли остатка».
type Availability struct {
	Available      bool
	AvailableStock int32
	ReservedStock  int32
	TotalStock     int32
}

// AvailabilityOf вычисляет доступность записи для запрошенного количества.
func AvailabilityOf(r InventoryRecord, quantity int32) Availability {
	return Availability{
		Available:      quantity > 0 && r.AvailableStock() >= quantity,
		AvailableStock: r.AvailableStock(),
		ReservedStock:  r.ReservedStock,
		TotalStock:     r.CurrentStock,
	}
}

// StockReservation — одна строка корзины или заказа в момент операции со складом.
type StockReservation struct {
	ProductID     string
	PortionSizeID string
	Quantity      int32
}

// Key возвращает ключ складской записи строки.
func (s StockReservation) Key() InventoryKey {
	return InventoryKey{ProductID: s.ProductID, PortionSizeID: s.PortionSizeID}
}

// Validate проверяет заполненность строки резерва.
func (s StockReservation) Validate() error {
	switch {
	case s.ProductID == "":
		return ErrProductRequired
	case s.PortionSizeID == "":
		return ErrPortionSizeRequired
	case s.Quantity <= 0:
		return ErrQuantityInvalid
	}
	return nil
}

// NormalizeReservations объединяет строки с одинаковым ключом и сортирует их
// в порядке блокировок. Возвращает ошибку первой некорректной строки и
// ErrStockOverflow, если сумма по одному ключу больше MaxStockQuantity.
func NormalizeReservations(batch []StockReservation) ([]StockReservation, error) {
	if len(batch) == 0 {
		return nil, ErrItemsRequired
	}

	merged := make(map[InventoryKey]int32, len(batch))
	for _, line := range batch {
		if err := line.Validate(); err != nil {
			return nil, err
		}
		qty, err := AddStock(merged[line.Key()], line.Quantity)
		if err != nil {
			return nil, err
		}
		merged[line.Key()] = qty
	}

	out := make([]StockReservation, 0, len(merged))
	for key, qty := range merged {
		out = append(out, StockReservation{ProductID: key.ProductID, PortionSizeID: key.PortionSizeID, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().Less(out[j].Key())
	})
	return out, nil
}

// InventoryStats — агрегаты для панели администратора.
type InventoryStats struct {
	Records       int
	TotalStock    int64
	ReservedStock int64
	OutOfStock    int
}

// Package cart управляет корзиной сессии и прайсом порций.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

// Summary — корзина с предварительным расчётом суммы к оплате.
type Summary struct {
	Cart          domain.Cart
	SubtotalMinor int64
	ShippingMinor int64
	TotalMinor    int64
}

// Service — операции покупателя с корзиной.
type Service struct {
	carts    domain.CartStore
	prices   domain.PriceRepository
	shipping domain.ShippingPolicy
	logger   *log.Entry
}

// NewService создаёт сервис корзины.
func NewService(carts domain.CartStore, prices domain.PriceRepository, shipping domain.ShippingPolicy, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	return &Service{carts: carts, prices: prices, shipping: shipping, logger: logger}
}

// AddItem добавляет порцию в корзину по текущей цене. Если строка уже есть,
// количество складывается, а цена обновляется до текущей. Сумма больше
// MaxCartLineQuantity отклоняется с ErrCartLineLimit, корзина не меняется.
func (s *Service) AddItem(ctx context.Context, sessionID, productID, portionSizeID string, quantity int32) (Summary, error) {
	if sessionID == "" {
		return Summary{}, domain.ErrSessionRequired
	}
	req := domain.StockReservation{ProductID: productID, PortionSizeID: portionSizeID, Quantity: quantity}
	if err := req.Validate(); err != nil {
		return Summary{}, err
	}
	if quantity > domain.MaxCartLineQuantity {
		return Summary{}, domain.ErrCartLineLimit
	}

	price, err := s.prices.Get(ctx, req.Key())
	if err != nil {
		return Summary{}, err
	}

	current, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return Summary{}, fmt.Errorf("load cart: %w", err)
	}
	for _, existing := range current.Lines {
		if existing.Key() == req.Key() {
			quantity += existing.Quantity
			break
		}
	}
	if quantity > domain.MaxCartLineQuantity {
		return Summary{}, domain.ErrCartLineLimit
	}

	line := domain.CartLine{
		ProductID:      productID,
		PortionSizeID:  portionSizeID,
		Quantity:       quantity,
		UnitPriceMinor: price.PriceMinor,
	}
	if err := s.carts.SetLine(ctx, sessionID, line); err != nil {
		return Summary{}, fmt.Errorf("store cart line: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"session_id": sessionID,
		"key":        req.Key().String(),
		"quantity":   quantity,
	}).Debug("cart line added")
	return s.Get(ctx, sessionID)
}

// SetQuantity задаёт количество строки; 0 удаляет строку.
func (s *Service) SetQuantity(ctx context.Context, sessionID string, key domain.InventoryKey, quantity int32) (Summary, error) {
	if quantity < 0 {
		return Summary{}, domain.ErrQuantityInvalid
	}
	if quantity > domain.MaxCartLineQuantity {
		return Summary{}, domain.ErrCartLineLimit
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, sessionID, key)
	}

	current, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	for _, line := range current.Lines {
		if line.Key() != key {
			continue
		}
		line.Quantity = quantity
		if err := s.carts.SetLine(ctx, sessionID, line); err != nil {
			return Summary{}, fmt.Errorf("store cart line: %w", err)
		}
		return s.Get(ctx, sessionID)
	}
	return s.AddItem(ctx, sessionID, key.ProductID, key.PortionSizeID, quantity)
}

// RemoveItem удаляет строку; отсутствующая строка не ошибка.
func (s *Service) RemoveItem(ctx context.Context, sessionID string, key domain.InventoryKey) (Summary, error) {
	if sessionID == "" {
		return Summary{}, domain.ErrSessionRequired
	}
	if err := s.carts.RemoveLine(ctx, sessionID, key); err != nil {
		return Summary{}, fmt.Errorf("remove cart line: %w", err)
	}
	return s.Get(ctx, sessionID)
}

// Get возвращает корзину и расчёт доставки.
func (s *Service) Get(ctx context.Context, sessionID string) (Summary, error) {
	current, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	return s.summarize(current), nil
}

func (s *Service) Clear(ctx context.Context, sessionID string) error {
	return s.carts.Clear(ctx, sessionID)
}

func (s *Service) summarize(c domain.Cart) Summary {
	subtotal := c.Subtotal()
	var shipping int64
	if !c.IsEmpty() {
		shipping = s.shipping.Fee(subtotal)
	}
	return Summary{
		Cart:          c,
		SubtotalMinor: subtotal,
		ShippingMinor: shipping,
		TotalMinor:    subtotal + shipping,
	}
}

// RecordEnsurer создаёт складскую запись при первой установке цены.
type RecordEnsurer interface {
	EnsureRecord(ctx context.Context, key domain.InventoryKey, weeklyLimit int32) bool
}

// ErrInventoryRecordUnavailable — не удалось создать складскую запись для порции.
var ErrInventoryRecordUnavailable = errors.New("inventory record could not be created")

// Prices — операции администратора с прайсом.
type Prices struct {
	prices    domain.PriceRepository
	inventory RecordEnsurer
	now       func() time.Time
}

// NewPrices создаёт сервис прайса.
func NewPrices(prices domain.PriceRepository, inventory RecordEnsurer) *Prices {
	return &Prices{prices: prices, inventory: inventory, now: func() time.Time { return time.Now().UTC() }}
}

// SetPrice сохраняет цену порции. Складская запись создаётся раньше цены,
// поэтому у любой продаваемой порции она есть.
func (p *Prices) SetPrice(ctx context.Context, price domain.PortionPrice, weeklyLimit int32) (domain.PortionPrice, error) {
	key := domain.InventoryKey{ProductID: price.ProductID, PortionSizeID: price.PortionSizeID}
	switch {
	case key.ProductID == "":
		return domain.PortionPrice{}, domain.ErrProductRequired
	case key.PortionSizeID == "":
		return domain.PortionPrice{}, domain.ErrPortionSizeRequired
	case price.PriceMinor < 0:
		return domain.PortionPrice{}, domain.ErrItemPriceInvalid
	}

	if !p.inventory.EnsureRecord(ctx, key, weeklyLimit) {
		return domain.PortionPrice{}, ErrInventoryRecordUnavailable
	}

	price.UpdatedAt = p.now()
	return p.prices.Set(ctx, price)
}

func (p *Prices) List(ctx context.Context) ([]domain.PortionPrice, error) {
	return p.prices.List(ctx)
}

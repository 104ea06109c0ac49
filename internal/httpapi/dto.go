package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/service/cart"
	"github.com/vladislavdragonenkov/babyfood/internal/service/expiry"
)

const dateLayout = "2006-01-02"

// Money отдаёт сумму в центах и строкой в рандах с двумя знаками.
type Money struct {
	Minor    int64  `json:"minor"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func money(minor int64) Money {
	return Money{
		Minor:    minor,
		Amount:   decimal.New(minor, -2).StringFixed(2),
		Currency: domain.CurrencyZAR,
	}
}

// --- requests ---

type addCartItemRequest struct {
	ProductID     string `json:"product_id" validate:"required,max=64"`
	PortionSizeID string `json:"portion_size_id" validate:"required,max=64"`
	Quantity      int32  `json:"quantity" validate:"gt=0,lte=1000"`
}

type setQuantityRequest struct {
	Quantity int32 `json:"quantity" validate:"gte=0,lte=1000"`
}

// checkoutRequest: адрес и дата проверяются в lifecycle, чтобы отказы
// отдавались доменными ошибками.
type checkoutRequest struct {
	AddressID    string `json:"address_id" validate:"max=64"`
	DeliveryDate string `json:"delivery_date" validate:"omitempty,datetime=2006-01-02"`
	Notes        string `json:"notes" validate:"max=500"`
}

type paymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" validate:"required"`
}

type advanceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=preparing ready out_for_delivery delivered"`
}

type restockRequest struct {
	ProductID     string `json:"product_id" validate:"required,max=64"`
	PortionSizeID string `json:"portion_size_id" validate:"required,max=64"`
	Quantity      int32  `json:"quantity" validate:"gt=0,lte=1000000"`
}

type setPriceRequest struct {
	ProductID     string `json:"product_id" validate:"required,max=64"`
	PortionSizeID string `json:"portion_size_id" validate:"required,max=64"`
	PriceMinor    int64  `json:"price_minor" validate:"gte=0"`
	WeeklyLimit   int32  `json:"weekly_limit" validate:"gte=0"`
}

// --- responses ---

type cartLineResponse struct {
	ProductID     string `json:"product_id"`
	PortionSizeID string `json:"portion_size_id"`
	Quantity      int32  `json:"quantity"`
	UnitPrice     Money  `json:"unit_price"`
	LineTotal     Money  `json:"line_total"`
}

type cartResponse struct {
	SessionID string             `json:"session_id"`
	Lines     []cartLineResponse `json:"lines"`
	Subtotal  Money              `json:"subtotal"`
	Shipping  Money              `json:"shipping"`
	Total     Money              `json:"total"`
}

func toCartResponse(sessionID string, s cart.Summary) cartResponse {
	lines := make([]cartLineResponse, 0, len(s.Cart.Lines))
	for _, line := range s.Cart.Lines {
		lines = append(lines, cartLineResponse{
			ProductID:     line.ProductID,
			PortionSizeID: line.PortionSizeID,
			Quantity:      line.Quantity,
			UnitPrice:     money(line.UnitPriceMinor),
			LineTotal:     money(int64(line.Quantity) * line.UnitPriceMinor),
		})
	}
	return cartResponse{
		SessionID: sessionID,
		Lines:     lines,
		Subtotal:  money(s.SubtotalMinor),
		Shipping:  money(s.ShippingMinor),
		Total:     money(s.TotalMinor),
	}
}

type orderItemResponse struct {
	ProductID     string `json:"product_id"`
	PortionSizeID string `json:"portion_size_id"`
	Quantity      int32  `json:"quantity"`
	UnitPrice     Money  `json:"unit_price"`
	LineTotal     Money  `json:"line_total"`
}

type orderResponse struct {
	ID             string              `json:"id"`
	OrderNumber    string              `json:"order_number"`
	CustomerID     string              `json:"customer_id"`
	AddressID      string              `json:"address_id"`
	DeliveryDate   string              `json:"delivery_date"`
	Notes          string              `json:"notes,omitempty"`
	Status         string              `json:"status"`
	PaymentStatus  string              `json:"payment_status"`
	Subtotal       Money               `json:"subtotal"`
	Shipping       Money               `json:"shipping"`
	Total          Money               `json:"total"`
	PaymentDueDate time.Time           `json:"payment_due_date"`
	PaidAt         *time.Time          `json:"paid_at,omitempty"`
	Items          []orderItemResponse `json:"items"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ProductID:     item.ProductID,
			PortionSizeID: item.PortionSizeID,
			Quantity:      item.Quantity,
			UnitPrice:     money(item.UnitPriceMinor),
			LineTotal:     money(item.LineTotalMinor),
		})
	}
	return orderResponse{
		ID:             o.ID,
		OrderNumber:    o.Number,
		CustomerID:     o.CustomerID,
		AddressID:      o.AddressID,
		DeliveryDate:   o.DeliveryDate.Format(dateLayout),
		Notes:          o.Notes,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		Subtotal:       money(o.SubtotalMinor),
		Shipping:       money(o.ShippingMinor),
		Total:          money(o.TotalMinor),
		PaymentDueDate: o.PaymentDueDate,
		PaidAt:         o.PaidAt,
		Items:          items,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func toOrderList(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

type timelineEventResponse struct {
	Type          string    `json:"type"`
	Status        string    `json:"status,omitempty"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Occurred      time.Time `json:"occurred"`
}

func toTimeline(events []domain.TimelineEvent) []timelineEventResponse {
	out := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventResponse{
			Type:          e.Type,
			Status:        string(e.Status),
			PaymentStatus: string(e.PaymentStatus),
			Reason:        e.Reason,
			Occurred:      e.Occurred,
		})
	}
	return out
}

type availabilityResponse struct {
	ProductID      string `json:"product_id"`
	PortionSizeID  string `json:"portion_size_id"`
	Quantity       int32  `json:"quantity"`
	Available      bool   `json:"available"`
	AvailableStock int32  `json:"available_stock"`
	ReservedStock  int32  `json:"reserved_stock"`
	TotalStock     int32  `json:"total_stock"`
}

type inventoryRecordResponse struct {
	ProductID      string     `json:"product_id"`
	PortionSizeID  string     `json:"portion_size_id"`
	CurrentStock   int32      `json:"current_stock"`
	ReservedStock  int32      `json:"reserved_stock"`
	AvailableStock int32      `json:"available_stock"`
	WeeklyLimit    int32      `json:"weekly_limit"`
	LastRestocked  *time.Time `json:"last_restocked,omitempty"`
}

func toInventoryRecord(r domain.InventoryRecord) inventoryRecordResponse {
	resp := inventoryRecordResponse{
		ProductID:      r.ProductID,
		PortionSizeID:  r.PortionSizeID,
		CurrentStock:   r.CurrentStock,
		ReservedStock:  r.ReservedStock,
		AvailableStock: r.AvailableStock(),
		WeeklyLimit:    r.WeeklyLimit,
	}
	if !r.LastRestocked.IsZero() {
		restocked := r.LastRestocked
		resp.LastRestocked = &restocked
	}
	return resp
}

type inventoryStatsResponse struct {
	Records       int   `json:"records"`
	TotalStock    int64 `json:"total_stock"`
	ReservedStock int64 `json:"reserved_stock"`
	OutOfStock    int   `json:"out_of_stock"`
}

type orderStatsResponse struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	ByPaymentStatus map[string]int `json:"by_payment_status"`
	PaidRevenue     Money          `json:"paid_revenue"`
}

func toOrderStats(s domain.OrderStats) orderStatsResponse {
	resp := orderStatsResponse{
		Total:           s.Total,
		ByStatus:        make(map[string]int, len(s.ByStatus)),
		ByPaymentStatus: make(map[string]int, len(s.ByPaymentStatus)),
		PaidRevenue:     money(s.PaidRevenue),
	}
	for k, v := range s.ByStatus {
		resp.ByStatus[string(k)] = v
	}
	for k, v := range s.ByPaymentStatus {
		resp.ByPaymentStatus[string(k)] = v
	}
	return resp
}

type priceResponse struct {
	ProductID     string    `json:"product_id"`
	PortionSizeID string    `json:"portion_size_id"`
	Price         Money     `json:"price"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toPrice(p domain.PortionPrice) priceResponse {
	return priceResponse{
		ProductID:     p.ProductID,
		PortionSizeID: p.PortionSizeID,
		Price:         money(p.PriceMinor),
		UpdatedAt:     p.UpdatedAt,
	}
}

type sweepResponse struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

func toSweep(r expiry.Result) sweepResponse {
	return sweepResponse{Processed: r.Processed, Skipped: r.Skipped, Errors: r.Errors}
}

package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/service/lifecycle"
)

// HeaderSessionID — идентификатор анонимной сессии покупателя.
const HeaderSessionID = "X-Session-ID"

const defaultOrdersLimit = 50

type sessionKey struct{}

func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := strings.TrimSpace(r.Header.Get(HeaderSessionID))
		if session == "" {
			writeAPIError(w, badRequest(domain.ErrSessionRequired.Error()))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func sessionFrom(ctx context.Context) string {
	session, _ := ctx.Value(sessionKey{}).(string)
	return session
}

func inventoryKeyFrom(r *http.Request) domain.InventoryKey {
	return domain.InventoryKey{
		ProductID:     chi.URLParam(r, "productID"),
		PortionSizeID: chi.URLParam(r, "portionSizeID"),
	}
}

func (h *Handler) listPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.prices.List(r.Context())
	if err != nil {
		h.writeError(w, r, err, "failed to list prices")
		return
	}
	out := make([]priceResponse, 0, len(prices))
	for _, p := range prices {
		out = append(out, toPrice(p))
	}
	writeData(w, http.StatusOK, out)
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	key := inventoryKeyFrom(r)
	quantity := int64(1)
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 {
			writeAPIError(w, badRequest("quantity must be a positive integer"))
			return
		}
		quantity = parsed
	}

	availability := h.ledger.CheckAvailability(r.Context(), key.ProductID, key.PortionSizeID, int32(quantity))
	writeData(w, http.StatusOK, availabilityResponse{
		ProductID:      key.ProductID,
		PortionSizeID:  key.PortionSizeID,
		Quantity:       int32(quantity),
		Available:      availability.Available,
		AvailableStock: availability.AvailableStock,
		ReservedStock:  availability.ReservedStock,
		TotalStock:     availability.TotalStock,
	})
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	summary, err := h.cart.Get(r.Context(), session)
	if err != nil {
		h.writeError(w, r, err, "failed to load cart")
		return
	}
	writeData(w, http.StatusOK, toCartResponse(session, summary))
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	var req addCartItemRequest
	if err := decodeAndValidate(body, &req); err != nil {
		h.writeError(w, r, err, "")
		return
	}

	session := sessionFrom(r.Context())
	summary, err := h.cart.AddItem(r.Context(), session, req.ProductID, req.PortionSizeID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err, "failed to update cart")
		return
	}
	writeData(w, http.StatusOK, toCartResponse(session, summary))
}

func (h *Handler) setCartItemQuantity(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	var req setQuantityRequest
	if err := decodeAndValidate(body, &req); err != nil {
		h.writeError(w, r, err, "")
		return
	}

	session := sessionFrom(r.Context())
	summary, err := h.cart.SetQuantity(r.Context(), session, inventoryKeyFrom(r), req.Quantity)
	if err != nil {
		h.writeError(w, r, err, "failed to update cart")
		return
	}
	writeData(w, http.StatusOK, toCartResponse(session, summary))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	summary, err := h.cart.RemoveItem(r.Context(), session, inventoryKeyFrom(r))
	if err != nil {
		h.writeError(w, r, err, "failed to update cart")
		return
	}
	writeData(w, http.StatusOK, toCartResponse(session, summary))
}

// checkout оформляет заказ из корзины сессии. С заголовком Idempotency-Key
// повторный запрос получает сохранённый ответ первого.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	session := sessionFrom(r.Context())

	h.withCheckoutAttempt(w, r, session, body, func(ctx context.Context) (int, envelope) {
		var req checkoutRequest
		if err := decodeAndValidate(body, &req); err != nil {
			return failure(h.logRejection(r, err, ""))
		}

		var deliveryDate time.Time
		if req.DeliveryDate != "" {
			// формат уже проверен тегом datetime
			deliveryDate, _ = time.Parse(dateLayout, req.DeliveryDate)
		}

		order, err := h.orders.CreateOrder(ctx, lifecycle.CreateOrderInput{
			SessionID:    session,
			AddressID:    req.AddressID,
			DeliveryDate: deliveryDate,
			Notes:        req.Notes,
		})
		if err != nil {
			return failure(h.logRejection(r, err, "failed to create order"))
		}
		return http.StatusCreated, envelope{Data: toOrderResponse(order)}
	})
}

func (h *Handler) listSessionOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultOrdersLimit)
	if !ok {
		return
	}
	orders, err := h.orders.ListCustomerOrders(r.Context(), sessionFrom(r.Context()), limit)
	if err != nil {
		h.writeError(w, r, err, "failed to list orders")
		return
	}
	writeData(w, http.StatusOK, toOrderList(orders))
}

// sessionOrder загружает заказ и скрывает чужие заказы за 404.
func (h *Handler) sessionOrder(w http.ResponseWriter, r *http.Request) (domain.Order, bool) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err == nil && order.CustomerID != sessionFrom(r.Context()) {
		err = domain.ErrOrderNotFound
	}
	if err != nil {
		h.writeError(w, r, err, "failed to load order")
		return domain.Order{}, false
	}
	return order, true
}

func (h *Handler) getSessionOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.sessionOrder(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) getSessionOrderTimeline(w http.ResponseWriter, r *http.Request) {
	order, ok := h.sessionOrder(w, r)
	if !ok {
		return
	}
	events, err := h.orders.Timeline(r.Context(), order.ID)
	if err != nil {
		h.writeError(w, r, err, "failed to load timeline")
		return
	}
	writeData(w, http.StatusOK, toTimeline(events))
}

func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		writeAPIError(w, badRequest("limit must be between 1 and 500"))
		return 0, false
	}
	return limit, true
}

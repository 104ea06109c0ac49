package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

const defaultLowStockLimit = 50

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err, "failed to load order")
		return
	}
	writeData(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrderByNumber(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		h.writeError(w, r, err, "failed to load order")
		return
	}
	writeData(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) getOrderTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.orders.Timeline(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err, "failed to load timeline")
		return
	}
	writeData(w, http.StatusOK, toTimeline(events))
}

// updatePaymentStatus — ручная отметка оплаты администратором (PAID/UNPAID/EXPIRED).
func (h *Handler) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	var req paymentStatusRequest
	if err := decodeAndValidate(body, &req); err != nil {
		h.writeError(w, r, err, "")
		return
	}

	status, err := domain.ParsePaymentStatus(req.PaymentStatus)
	if err == nil && status == domain.PaymentStatusPending {
		err = domain.ErrPaymentStatusInvalid
	}
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	order, err := h.orders.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "orderID"), status)
	if err != nil {
		h.writeError(w, r, err, "failed to update payment status")
		return
	}
	writeData(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) advanceStatus(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	var req advanceStatusRequest
	if err := decodeAndValidate(body, &req); err != nil {
		h.writeError(w, r, err, "")
		return
	}

	order, err := h.orders.AdvanceStatus(r.Context(), chi.URLParam(r, "orderID"), domain.OrderStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err, "failed to update order status")
		return
	}
	writeData(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) approachingDeadline(w http.ResponseWriter, r *http.Request) {
	orders, err := h.sweeper.ApproachingDeadline(r.Context())
	if err != nil {
		h.writeError(w, r, err, "failed to list orders")
		return
	}
	writeData(w, http.StatusOK, toOrderList(orders))
}

func (h *Handler) orderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orders.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err, "failed to load order stats")
		return
	}
	writeData(w, http.StatusOK, toOrderStats(stats))
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	var req restockRequest
	if err := decodeAndValidate(body, &req); err != nil {
		h.writeError(w, r, err, "")
		return
	}

	key := domain.InventoryKey{ProductID: req.ProductID, PortionSizeID: req.PortionSizeID}
	if !h.ledger.Restock(r.Context(), req.ProductID, req.PortionSizeID, req.Quantity) {
		// ledger сообщает только успех; причину уточняем чтением записи
		rec, err := h.ledger.Get(r.Context(), key)
		if errors.Is(err, domain.ErrInventoryNotFound) {
			h.writeError(w, r, err, "")
			return
		}
		if err == nil {
			if _, overflow := domain.AddStock(rec.CurrentStock, req.Quantity); overflow != nil {
				h.writeError(w, r, overflow, "")
				return
			}
		}
		writeAPIError(w, apiError{status: http.StatusInternalServerError, body: errorBody{Code: codeInternal, Message: "failed to restock"}})
		return
	}

	rec, err := h.ledger.Get(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err, "failed to load inventory record")
		return
	}
	h.logger.WithFields(log.Fields{"key": key.String(), "quantity": req.Quantity}).Info("restock via admin api")
	writeData(w, http.StatusOK, toInventoryRecord(rec))
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	var threshold int64
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 0 {
			writeAPIError(w, badRequest("threshold must be a non-negative integer"))
			return
		}
		threshold = parsed
	}
	limit, ok := parseLimit(w, r, defaultLowStockLimit)
	if !ok {
		return
	}

	records, err := h.ledger.LowStock(r.Context(), int32(threshold), limit)
	if err != nil {
		h.writeError(w, r, err, "failed to list inventory")
		return
	}
	out := make([]inventoryRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toInventoryRecord(rec))
	}
	writeData(w, http.StatusOK, out)
}

func (h *Handler) inventoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err, "failed to load inventory stats")
		return
	}
	writeData(w, http.StatusOK, inventoryStatsResponse{
		Records:       stats.Records,
		TotalStock:    stats.TotalStock,
		ReservedStock: stats.ReservedStock,
		OutOfStock:    stats.OutOfStock,
	})
}

func (h *Handler) getInventoryRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledger.Get(r.Context(), inventoryKeyFrom(r))
	if err != nil {
		h.writeError(w, r, err, "failed to load inventory record")
		return
	}
	writeData(w, http.StatusOK, toInventoryRecord(rec))
}

func (h *Handler) setPrice(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	var req setPriceRequest
	if err := decodeAndValidate(body, &req); err != nil {
		h.writeError(w, r, err, "")
		return
	}

	price, err := h.prices.SetPrice(r.Context(), domain.PortionPrice{
		ProductID:     req.ProductID,
		PortionSizeID: req.PortionSizeID,
		PriceMinor:    req.PriceMinor,
	}, req.WeeklyLimit)
	if err != nil {
		h.writeError(w, r, err, "failed to set price")
		return
	}
	writeData(w, http.StatusOK, toPrice(price))
}

// runSweep запускает проход по просроченным заказам вне расписания.
func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request) {
	result := h.sweeper.Sweep(r.Context())
	status := http.StatusOK
	if result.Errors > 0 {
		status = http.StatusMultiStatus
	}
	writeData(w, status, toSweep(result))
}

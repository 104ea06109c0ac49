package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

// Коды ошибок в теле ответа.
const (
	codeInvalidArgument   = "INVALID_ARGUMENT"
	codeValidation        = "VALIDATION_FAILED"
	codeCartEmpty         = "CART_EMPTY"
	codeInsufficientStock = "INSUFFICIENT_STOCK"
	codeNotFound          = "NOT_FOUND"
	codeOrderNotPending   = "ORDER_NOT_PENDING"
	codeInvalidTransition = "INVALID_TRANSITION"
	codeIdempotency       = "IDEMPOTENCY_CONFLICT"
	codeInProgress        = "REQUEST_IN_PROGRESS"
	codeInternal          = "INTERNAL_ERROR"
)

type envelope struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// apiError — уже сопоставленный с HTTP ответ-ошибка.
type apiError struct {
	status int
	body   errorBody
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func writeAPIError(w http.ResponseWriter, e apiError) {
	body := e.body
	writeJSON(w, e.status, envelope{Error: &body})
}

// classify сопоставляет доменную ошибку со статусом. fallback — сообщение
// для непредвиденных сбоев: наружу подробности хранилища не отдаются.
func classify(err error, fallback string) apiError {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return apiError{status: http.StatusBadRequest, body: errorBody{Code: codeValidation, Message: verr.Error(), Fields: verr.Fields()}}
	case errors.Is(err, errInvalidJSON):
		return badRequest(err.Error())
	case errors.Is(err, domain.ErrCartEmpty):
		return apiError{status: http.StatusUnprocessableEntity, body: errorBody{Code: codeCartEmpty, Message: "cart is empty"}}
	case errors.Is(err, domain.ErrInsufficientStock):
		return apiError{status: http.StatusConflict, body: errorBody{Code: codeInsufficientStock, Message: "insufficient stock"}}
	case errors.Is(err, domain.ErrOrderNotPending):
		return apiError{status: http.StatusConflict, body: errorBody{Code: codeOrderNotPending, Message: err.Error()}}
	case errors.Is(err, domain.ErrStatusTransitionInvalid):
		return apiError{status: http.StatusConflict, body: errorBody{Code: codeInvalidTransition, Message: err.Error()}}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return apiError{status: http.StatusConflict, body: errorBody{Code: codeIdempotency, Message: "idempotency key is already used with different request payload"}}
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrInventoryNotFound),
		errors.Is(err, domain.ErrPriceNotFound):
		return apiError{status: http.StatusNotFound, body: errorBody{Code: codeNotFound, Message: err.Error()}}
	case errors.Is(err, domain.ErrAddressRequired),
		errors.Is(err, domain.ErrDeliveryDateRequired),
		errors.Is(err, domain.ErrSessionRequired),
		errors.Is(err, domain.ErrCustomerRequired),
		errors.Is(err, domain.ErrProductRequired),
		errors.Is(err, domain.ErrPortionSizeRequired),
		errors.Is(err, domain.ErrQuantityInvalid),
		errors.Is(err, domain.ErrStockOverflow),
		errors.Is(err, domain.ErrCartLineLimit),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrPaymentStatusInvalid),
		errors.Is(err, domain.ErrOrderIDRequired):
		return apiError{status: http.StatusBadRequest, body: errorBody{Code: codeInvalidArgument, Message: err.Error()}}
	default:
		if fallback == "" {
			fallback = "internal error"
		}
		return apiError{status: http.StatusInternalServerError, body: errorBody{Code: codeInternal, Message: fallback}}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	writeAPIError(w, h.logRejection(r, err, fallback))
}

// logRejection классифицирует ошибку и пишет её в лог: сбои на Error, отказы на Debug.
func (h *Handler) logRejection(r *http.Request, err error, fallback string) apiError {
	e := classify(err, fallback)
	entry := h.logger.WithError(err).WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": e.status,
	})
	if e.status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	return e
}

func failure(e apiError) (int, envelope) {
	body := e.body
	return e.status, envelope{Error: &body}
}

func badRequest(message string) apiError {
	return apiError{status: http.StatusBadRequest, body: errorBody{Code: codeInvalidArgument, Message: message}}
}

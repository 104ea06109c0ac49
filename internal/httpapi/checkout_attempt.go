package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
)

const (
	// HeaderIdempotencyKey — ключ повторяемого запроса оформления заказа.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ взят из сохранённой попытки.
	HeaderIdempotentReplay = "Idempotent-Replay"

	checkoutAttemptTTL   = 24 * time.Hour
	maxIdempotencyKeyLen = 128
)

// withCheckoutAttempt выполняет run не более одного раза на ключ сессии.
// Исход (заказ или отказ) сохраняется и отдаётся повторным запросам с тем же телом.
func (h *Handler) withCheckoutAttempt(
	w http.ResponseWriter,
	r *http.Request,
	session string,
	body []byte,
	run func(context.Context) (int, envelope),
) {
	raw := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if h.attempts == nil || raw == "" {
		status, resp := run(r.Context())
		writeJSON(w, status, resp)
		return
	}
	if len(raw) > maxIdempotencyKeyLen {
		writeAPIError(w, badRequest("idempotency key is too long"))
		return
	}

	key := domain.CheckoutKey{SessionID: session, Key: raw}
	fields := log.Fields{"idempotency_key": raw, "session_id": session}
	now := h.now()

	attempt, err := h.attempts.Begin(r.Context(), domain.CheckoutAttempt{
		CheckoutKey: key,
		RequestHash: checkoutRequestHash(r.Method+" "+r.URL.Path, body),
		CreatedAt:   now,
		ExpiresAt:   now.Add(checkoutAttemptTTL),
	})
	if err != nil {
		h.replayCheckoutAttempt(w, r, err, attempt, fields)
		return
	}
	h.metrics.RecordCheckoutAttempt(metrics.AttemptStarted)

	status, resp := run(r.Context())
	payload, err := json.Marshal(resp)
	if err != nil {
		h.logger.WithError(err).WithFields(fields).Error("failed to encode response")
		writeAPIError(w, apiError{status: http.StatusInternalServerError, body: errorBody{Code: codeInternal, Message: "internal error"}})
		return
	}

	outcome := domain.CheckoutOutcome{HTTPStatus: status, Response: payload}
	if order, ok := resp.Data.(orderResponse); ok {
		outcome.OrderID = order.ID
	}

	// заказ уже создан, поэтому исход сохраняется и после отмены запроса клиентом
	if err := h.attempts.Finish(context.WithoutCancel(r.Context()), key, outcome); err != nil {
		h.logger.WithError(err).WithFields(fields).Warn("failed to store checkout outcome")
	}

	writeRaw(w, status, payload)
}

func (h *Handler) replayCheckoutAttempt(w http.ResponseWriter, r *http.Request, beginErr error, attempt domain.CheckoutAttempt, fields log.Fields) {
	switch {
	case errors.Is(beginErr, domain.ErrIdempotencyHashMismatch):
		h.metrics.RecordCheckoutAttempt(metrics.AttemptMismatch)
		h.writeError(w, r, beginErr, "")
	case errors.Is(beginErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case attempt.Replayable():
			h.metrics.RecordCheckoutAttempt(metrics.AttemptReplayed)
			w.Header().Set(HeaderIdempotentReplay, "true")
			writeRaw(w, attempt.HTTPStatus, attempt.Response)
		case attempt.Status == domain.CheckoutAttemptInFlight:
			h.metrics.RecordCheckoutAttempt(metrics.AttemptInFlight)
			writeAPIError(w, apiError{status: http.StatusConflict, body: errorBody{Code: codeInProgress, Message: "request with the same idempotency key is already processing"}})
		default:
			h.logger.WithFields(fields).WithField("status", attempt.Status).Warn("checkout attempt has no stored response")
			writeAPIError(w, apiError{status: http.StatusInternalServerError, body: errorBody{Code: codeInternal, Message: "stored checkout response is empty"}})
		}
	default:
		h.logger.WithError(beginErr).WithFields(fields).Error("failed to begin checkout attempt")
		writeAPIError(w, apiError{status: http.StatusInternalServerError, body: errorBody{Code: codeInternal, Message: "failed to initialize idempotent request"}})
	}
}

func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// checkoutRequestHash связывает попытку с маршрутом и телом запроса. Сессия
// уже входит в ключ попытки.
func checkoutRequestHash(route string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(route))
	sum.Write([]byte{'\n'})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// Package httpapi — HTTP API витрины и back-office поверх chi.
package httpapi

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
	"github.com/vladislavdragonenkov/babyfood/internal/service/cart"
	"github.com/vladislavdragonenkov/babyfood/internal/service/expiry"
	"github.com/vladislavdragonenkov/babyfood/internal/service/ledger"
	"github.com/vladislavdragonenkov/babyfood/internal/service/lifecycle"
)

// Dependencies собирает сервисы, которые обслуживает API.
type Dependencies struct {
	Cart    *cart.Service
	Prices  *cart.Prices
	Ledger  *ledger.Ledger
	Orders  *lifecycle.Driver
	Sweeper *expiry.Sweeper
	// CheckoutAttempts хранит исходы по Idempotency-Key; без него checkout не дедуплицируется.
	CheckoutAttempts domain.CheckoutAttemptRepository
	Metrics          *metrics.Metrics
	Logger           *log.Entry
	// Now по умолчанию time.Now в UTC.
	Now func() time.Time
}

// Handler реализует все HTTP-обработчики.
type Handler struct {
	cart     *cart.Service
	prices   *cart.Prices
	ledger   *ledger.Ledger
	orders   *lifecycle.Driver
	sweeper  *expiry.Sweeper
	attempts domain.CheckoutAttemptRepository
	metrics  *metrics.Metrics
	logger   *log.Entry
	now      func() time.Time
}

// NewHandler создаёт обработчики поверх зависимостей.
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		cart:     deps.Cart,
		prices:   deps.Prices,
		ledger:   deps.Ledger,
		orders:   deps.Orders,
		sweeper:  deps.Sweeper,
		attempts: deps.CheckoutAttempts,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      now,
	}
}

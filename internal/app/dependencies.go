package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/httpapi"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
	"github.com/vladislavdragonenkov/babyfood/internal/service/cart"
	"github.com/vladislavdragonenkov/babyfood/internal/service/expiry"
	"github.com/vladislavdragonenkov/babyfood/internal/service/ledger"
	"github.com/vladislavdragonenkov/babyfood/internal/service/lifecycle"
)

// Dependencies содержит сервисы магазина поверх выбранных хранилищ.
type Dependencies struct {
	Ledger  *ledger.Ledger
	Cart    *cart.Service
	Prices  *cart.Prices
	Orders  *lifecycle.Driver
	Sweeper *expiry.Sweeper
	Metrics *metrics.Metrics
	Logger  *log.Entry

	runtime *runtimeDependencies
}

// newDependencies собирает сервисы. m может быть nil: метрики тогда не пишутся.
func newDependencies(cfg Config, runtime *runtimeDependencies, m *metrics.Metrics, logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	stock := ledger.New(runtime.inventory,
		ledger.WithLogger(logger.WithField("component", "inventory-ledger")),
		ledger.WithMetrics(m),
	)

	driver := lifecycle.NewDriver(lifecycle.Dependencies{
		Orders:   runtime.orders,
		Carts:    runtime.carts,
		Ledger:   stock,
		Sequence: runtime.sequence,
		Outbox:   runtime.outboxRepo,
		Timeline: runtime.timelineRepo,
	},
		lifecycle.WithLogger(logger.WithField("component", "order-lifecycle")),
		lifecycle.WithMetrics(m),
		lifecycle.WithShippingPolicy(cfg.ShippingPolicy()),
		lifecycle.WithNumberPrefix(cfg.OrderNumberPrefix),
	)

	sweeper := expiry.NewSweeper(runtime.orders, driver,
		expiry.WithLogger(logger.WithField("component", "expiry-sweeper")),
		expiry.WithMetrics(m),
		expiry.WithBatchSize(cfg.SweepBatchSize),
		expiry.WithInterval(cfg.SweepInterval),
	)

	return &Dependencies{
		Ledger:  stock,
		Cart:    cart.NewService(runtime.carts, runtime.prices, cfg.ShippingPolicy(), logger.WithField("component", "cart")),
		Prices:  cart.NewPrices(runtime.prices, stock),
		Orders:  driver,
		Sweeper: sweeper,
		Metrics: m,
		Logger:  logger,
		runtime: runtime,
	}
}

// HTTPHandler собирает REST API поверх сервисов.
func (d *Dependencies) HTTPHandler() *httpapi.Handler {
	return httpapi.NewHandler(httpapi.Dependencies{
		Cart:             d.Cart,
		Prices:           d.Prices,
		Ledger:           d.Ledger,
		Orders:           d.Orders,
		Sweeper:          d.Sweeper,
		CheckoutAttempts: d.runtime.checkoutAttempts,
		Metrics:          d.Metrics,
		Logger:           d.Logger.WithField("component", "httpapi"),
	})
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const requestTimeout = 30 * time.Second

// NewRouter регистрирует маршруты витрины и администратора.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.recoverer)
	r.Use(requestLogging(h.logger))
	r.Use(h.prometheusMetrics)
	r.Use(chimw.Timeout(requestTimeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(contentTypeJSON)

		r.Get("/prices", h.listPrices)
		r.Get("/inventory/{productID}/{portionSizeID}/availability", h.checkAvailability)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)

			r.Get("/cart", h.getCart)
			r.Post("/cart/items", h.addCartItem)
			r.Put("/cart/items/{productID}/{portionSizeID}", h.setCartItemQuantity)
			r.Delete("/cart/items/{productID}/{portionSizeID}", h.removeCartItem)

			r.Post("/checkout", h.checkout)
			r.Get("/orders", h.listSessionOrders)
			r.Get("/orders/{orderID}", h.getSessionOrder)
			r.Get("/orders/{orderID}/timeline", h.getSessionOrderTimeline)
		})

		r.Route("/admin", func(r chi.Router) {
			// статические пути регистрируются раньше /orders/{orderID}
			r.Get("/orders/approaching-deadline", h.approachingDeadline)
			r.Get("/orders/stats", h.orderStats)
			r.Get("/orders/by-number/{orderNumber}", h.getOrderByNumber)
			r.Get("/orders/{orderID}", h.getOrder)
			r.Get("/orders/{orderID}/timeline", h.getOrderTimeline)
			r.Post("/orders/{orderID}/payment-status", h.updatePaymentStatus)
			r.Post("/orders/{orderID}/status", h.advanceStatus)

			r.Post("/inventory/restock", h.restock)
			r.Get("/inventory/low-stock", h.lowStock)
			r.Get("/inventory/stats", h.inventoryStats)
			r.Get("/inventory/{productID}/{portionSizeID}", h.getInventoryRecord)

			r.Put("/prices", h.setPrice)
			r.Post("/sweeps", h.runSweep)
		})
	})

	return r
}

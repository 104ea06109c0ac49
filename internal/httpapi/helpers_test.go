package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
	"github.com/vladislavdragonenkov/babyfood/internal/service/cart"
	"github.com/vladislavdragonenkov/babyfood/internal/service/expiry"
	"github.com/vladislavdragonenkov/babyfood/internal/service/ledger"
	"github.com/vladislavdragonenkov/babyfood/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/babyfood/internal/storage/memory"
)

const (
	pearProduct = "pear-puree"
	pearPortion = "jar-120g"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

type testServer struct {
	t         *testing.T
	router    http.Handler
	clock     *testClock
	inventory domain.InventoryRepository
	registry  *prometheus.Registry
	attempts  *memory.CheckoutAttemptRepository
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "httpapi-test")
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)}
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegisterer(registry)
	logger := quietLogger()

	store := memory.NewStore()
	carts := memory.NewCartStore()
	prices := memory.NewPriceRepository()
	stock := ledger.New(store.Inventory(), ledger.WithLogger(logger), ledger.WithClock(clock.Now))

	driver := lifecycle.NewDriver(lifecycle.Dependencies{
		Orders:   store.Orders(),
		Carts:    carts,
		Ledger:   stock,
		Sequence: store.Sequence(),
		Outbox:   memory.NewOutboxRepository(),
		Timeline: memory.NewTimelineRepository(),
	}, lifecycle.WithLogger(logger), lifecycle.WithClock(clock.Now), lifecycle.WithMetrics(m))

	sweeper := expiry.NewSweeper(store.Orders(), driver,
		expiry.WithLogger(logger), expiry.WithClock(clock.Now), expiry.WithMetrics(m))

	attempts := memory.NewCheckoutAttemptRepository()
	handler := NewHandler(Dependencies{
		Cart:             cart.NewService(carts, prices, domain.DefaultShippingPolicy(), logger),
		Prices:           cart.NewPrices(prices, stock),
		Ledger:           stock,
		Orders:           driver,
		Sweeper:          sweeper,
		CheckoutAttempts: attempts,
		Metrics:          m,
		Logger:           logger,
		Now:              clock.Now,
	})

	return &testServer{
		t:         t,
		router:    NewRouter(handler),
		clock:     clock,
		inventory: store.Inventory(),
		registry:  registry,
		attempts:  attempts,
	}
}

type request struct {
	method  string
	path    string
	session string
	body    any
	headers map[string]string
}

func (s *testServer) do(req request) *httptest.ResponseRecorder {
	s.t.Helper()

	var body bytes.Buffer
	switch v := req.body.(type) {
	case nil:
	case string:
		body.WriteString(v)
	default:
		require.NoError(s.t, json.NewEncoder(&body).Encode(v))
	}

	r := httptest.NewRequest(req.method, req.path, &body)
	if req.session != "" {
		r.Header.Set(HeaderSessionID, req.session)
	}
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

type testEnvelope[T any] struct {
	Data  T          `json:"data"`
	Error *errorBody `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) testEnvelope[T] {
	t.Helper()
	var env testEnvelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

// seedPear задаёт цену R90 за баночку и кладёт stock единиц на склад.
func (s *testServer) seedPear(stock int32) {
	s.t.Helper()

	w := s.do(request{method: http.MethodPut, path: "/api/v1/admin/prices", body: setPriceRequest{
		ProductID: pearProduct, PortionSizeID: pearPortion, PriceMinor: 9000, WeeklyLimit: 40,
	}})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	if stock > 0 {
		w = s.do(request{method: http.MethodPost, path: "/api/v1/admin/inventory/restock", body: restockRequest{
			ProductID: pearProduct, PortionSizeID: pearPortion, Quantity: stock,
		}})
		require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	}
}

func (s *testServer) addPear(session string, qty int32) {
	s.t.Helper()
	w := s.do(request{method: http.MethodPost, path: "/api/v1/cart/items", session: session, body: addCartItemRequest{
		ProductID: pearProduct, PortionSizeID: pearPortion, Quantity: qty,
	}})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
}

var defaultCheckout = checkoutRequest{AddressID: "address-1", DeliveryDate: "2026-10-16", Notes: "leave at the gate"}

func (s *testServer) checkout(session string, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	return s.do(request{method: http.MethodPost, path: "/api/v1/checkout", session: session, headers: headers, body: defaultCheckout})
}

// checkoutBody возвращает тело, которое checkout отправляет на сервер.
func (s *testServer) checkoutBody() []byte {
	s.t.Helper()
	var body bytes.Buffer
	require.NoError(s.t, json.NewEncoder(&body).Encode(defaultCheckout))
	return body.Bytes()
}

func (s *testServer) pearRecord() domain.InventoryRecord {
	s.t.Helper()
	rec, err := s.inventory.Get(context.Background(), domain.InventoryKey{ProductID: pearProduct, PortionSizeID: pearPortion})
	require.NoError(s.t, err)
	return rec
}

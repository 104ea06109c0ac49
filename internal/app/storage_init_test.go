package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/babyfood/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.inventory == nil || deps.orders == nil || deps.sequence == nil {
		t.Fatal("inventory, orders and sequence must be initialized for memory storage")
	}
	if deps.prices == nil || deps.carts == nil {
		t.Fatal("prices and carts must be initialized for memory storage")
	}
	if deps.outboxRepo == nil || deps.timelineRepo == nil || deps.checkoutAttempts == nil {
		t.Fatal("outbox, timeline and checkout attempts must be initialized for memory storage")
	}
	if deps.storageChecker != nil || deps.cacheChecker != nil {
		t.Fatal("memory storage has no health checkers")
	}
	if err := deps.close(); err != nil {
		t.Fatalf("close memory deps: %v", err)
	}
}

func TestInitRuntimeDependencies_DriverIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	if _, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: " Memory ",
	}, log.WithField("test", "memory-case")); err != nil {
		t.Fatalf("expected memory driver to be accepted, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_RedisCartsAndSequence(t *testing.T) {
	server := miniredis.RunT(t)

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		RedisAddr:     server.Addr(),
	}, log.WithField("test", "redis"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(redis) failed: %v", err)
	}

	ctx := context.Background()
	line := domain.CartLine{ProductID: "pear-puree", PortionSizeID: "jar-120g", Quantity: 2, UnitPriceMinor: 9000}
	if err := deps.carts.SetLine(ctx, "session-1", line); err != nil {
		t.Fatalf("SetLine: %v", err)
	}
	if !server.Exists("cart:session-1") {
		t.Fatalf("expected cart hash in redis, keys: %v", server.Keys())
	}

	first, err := deps.sequence.Next(ctx, "20261014")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	second, _ := deps.sequence.Next(ctx, "20261014")
	if first != 1 || second != 2 {
		t.Fatalf("expected sequence 1, 2 from redis, got %d, %d", first, second)
	}

	if deps.cacheChecker == nil {
		t.Fatal("expected redis health checker")
	}
	if check := deps.cacheChecker.Check(ctx); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy redis, got %+v", check)
	}

	server.Close()
	if check := deps.cacheChecker.Check(ctx); check.Status != healthcheck.StatusUnhealthy {
		t.Fatalf("expected unhealthy redis after shutdown, got %+v", check)
	}
	_ = deps.close()
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	if _, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		RedisAddr:     addr,
	}, log.WithField("test", "redis-down")); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestRegisterCheckers(t *testing.T) {
	handler := healthcheck.NewHandler("test")
	deps := &runtimeDependencies{
		storageChecker: healthcheck.NewSimpleChecker("postgres", func(context.Context) error { return nil }),
		cacheChecker: healthcheck.NewSimpleChecker("redis", func(context.Context) error {
			return errors.New("connection refused")
		}),
	}
	deps.registerCheckers(handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when redis is down, got %d", rec.Code)
	}

	var body healthcheck.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if body.Checks["postgres"].Status != healthcheck.StatusHealthy {
		t.Errorf("expected healthy postgres, got %+v", body.Checks["postgres"])
	}
	if body.Checks["redis"].Status != healthcheck.StatusUnhealthy {
		t.Errorf("expected unhealthy redis, got %+v", body.Checks["redis"])
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("BF_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer func() { _ = deps.close() }()

	if deps.orders == nil || deps.inventory == nil || deps.outboxRepo == nil || deps.checkoutAttempts == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	if deps.storageChecker == nil {
		t.Fatal("expected non-nil storage checker for postgres")
	}
	if check := deps.storageChecker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

// Package health отдаёт /healthz, /readyz и /livez по набору проверок компонентов.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultCheckTimeout ограничивает время одного прогона проверок.
const DefaultCheckTimeout = 2 * time.Second

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check — результат проверки одного компонента.
type Check struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Message    string        `json:"message,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
}

// Response — тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Failing возвращает отсортированные имена компонентов в состоянии unhealthy.
func (r Response) Failing() []string {
	names := make([]string, 0)
	for name, check := range r.Checks {
		if check.Status == StatusUnhealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// HandlerOptions задаёт параметры Handler.
type HandlerOptions struct {
	Timeout time.Duration
	Clock   func() time.Time
	Logger  *log.Entry
}

// HandlerOption настраивает Handler.
type HandlerOption func(*HandlerOptions)

// WithCheckTimeout задаёт общий таймаут прогона проверок.
func WithCheckTimeout(timeout time.Duration) HandlerOption {
	return func(opts *HandlerOptions) {
		opts.Timeout = timeout
	}
}

// WithClock подменяет часы для timestamp и uptime.
func WithClock(clock func() time.Time) HandlerOption {
	return func(opts *HandlerOptions) {
		opts.Clock = clock
	}
}

// WithLogger задаёт logger для смены общего статуса.
func WithLogger(logger *log.Entry) HandlerOption {
	return func(opts *HandlerOptions) {
		opts.Logger = logger
	}
}

// Handler собирает зарегистрированные проверки.
type Handler struct {
	version string
	opts    HandlerOptions
	started time.Time

	mu       sync.RWMutex
	checkers map[string]Checker
	last     Status
}

// NewHandler создаёт handler, version попадает в ответ /healthz.
func NewHandler(version string, options ...HandlerOption) *Handler {
	opts := HandlerOptions{Timeout: DefaultCheckTimeout}
	for _, option := range options {
		option(&opts)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCheckTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "health")
	}

	return &Handler{
		version:  version,
		opts:     opts,
		started:  opts.Clock(),
		checkers: make(map[string]Checker),
		last:     StatusHealthy,
	}
}

// RegisterChecker добавляет или заменяет проверку с именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Report прогоняет все проверки параллельно под общим таймаутом. Общий
// статус равен худшему из статусов компонентов.
func (h *Handler) Report(ctx context.Context) Response {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.opts.Timeout)
	defer cancel()

	type result struct {
		name  string
		check Check
	}
	results := make(chan result, len(checkers))
	for name, checker := range checkers {
		name, checker := name, checker
		go func() {
			results <- result{name: name, check: checker.Check(ctx)}
		}()
	}

	now := h.opts.Clock()
	resp := Response{
		Status:        StatusHealthy,
		Timestamp:     now,
		Checks:        make(map[string]Check, len(checkers)),
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
	}
	for range checkers {
		r := <-results
		resp.Checks[r.name] = r.check
		if r.check.Status.severity() > resp.Status.severity() {
			resp.Status = r.check.Status
		}
	}

	h.observe(resp)
	return resp
}

func (h *Handler) observe(resp Response) {
	h.mu.Lock()
	previous := h.last
	h.last = resp.Status
	h.mu.Unlock()

	if previous == resp.Status {
		return
	}
	entry := h.opts.Logger.WithFields(log.Fields{"from": previous, "to": resp.Status})
	if failing := resp.Failing(); len(failing) > 0 {
		entry = entry.WithField("failing", failing)
	}
	entry.Warn("service health changed")
}

// ServeHTTP отдаёт Response. 503 только при unhealthy, degraded отвечает 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Report(r.Context())

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler отвечает 503 и списком упавших компонентов, если хоть один unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	resp := h.Report(r.Context())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if failing := resp.Failing(); len(failing) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready: " + strings.Join(failing, ",")))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler всегда отвечает 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// SimpleChecker превращает функцию вида Store.Ping в Checker.
type SimpleChecker struct {
	name  string
	probe func(ctx context.Context) error
}

// NewSimpleChecker подходит для Store.Ping, redis.Checker.Check и kafka.BrokerCheck.
func NewSimpleChecker(name string, probe func(ctx context.Context) error) *SimpleChecker {
	return &SimpleChecker{name: name, probe: probe}
}

func (c *SimpleChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.probe(ctx)
	elapsed := time.Since(start)

	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// DegradedChecker понижает unhealthy до degraded для некритичного компонента
// (Kafka): сервис остаётся в балансировке.
type DegradedChecker struct {
	inner Checker
}

func NewDegradedChecker(inner Checker) *DegradedChecker {
	return &DegradedChecker{inner: inner}
}

func (c *DegradedChecker) Check(ctx context.Context) Check {
	check := c.inner.Check(ctx)
	if check.Status == StatusUnhealthy {
		check.Status = StatusDegraded
	}
	return check
}

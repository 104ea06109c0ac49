package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

// CheckoutAttemptRepository хранит попытки оформления в памяти процесса.
type CheckoutAttemptRepository struct {
	mu       sync.Mutex
	attempts map[domain.CheckoutKey]domain.CheckoutAttempt
}

// NewCheckoutAttemptRepository создаёт пустое хранилище попыток.
func NewCheckoutAttemptRepository() *CheckoutAttemptRepository {
	return &CheckoutAttemptRepository{attempts: make(map[domain.CheckoutKey]domain.CheckoutAttempt)}
}

func (r *CheckoutAttemptRepository) Begin(_ context.Context, attempt domain.CheckoutAttempt) (domain.CheckoutAttempt, error) {
	attempt.CheckoutKey = attempt.CheckoutKey.Normalize()
	attempt.RequestHash = strings.TrimSpace(attempt.RequestHash)
	if err := attempt.CheckoutKey.Validate(); err != nil {
		return domain.CheckoutAttempt{}, err
	}
	if attempt.RequestHash == "" {
		return domain.CheckoutAttempt{}, domain.ErrIdempotencyRequestHashRequired
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.attempts[attempt.CheckoutKey]; ok && !existing.Expired(attempt.CreatedAt) {
		if existing.RequestHash != attempt.RequestHash {
			return cloneAttempt(existing), domain.ErrIdempotencyHashMismatch
		}
		return cloneAttempt(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	fresh := domain.CheckoutAttempt{
		CheckoutKey: attempt.CheckoutKey,
		RequestHash: attempt.RequestHash,
		Status:      domain.CheckoutAttemptInFlight,
		ExpiresAt:   attempt.ExpiresAt,
		CreatedAt:   attempt.CreatedAt,
		UpdatedAt:   attempt.CreatedAt,
	}
	r.attempts[fresh.CheckoutKey] = fresh
	return fresh, nil
}

func (r *CheckoutAttemptRepository) Get(_ context.Context, key domain.CheckoutKey) (domain.CheckoutAttempt, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return domain.CheckoutAttempt{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, ok := r.attempts[key]
	if !ok {
		return domain.CheckoutAttempt{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneAttempt(attempt), nil
}

func (r *CheckoutAttemptRepository) Finish(_ context.Context, key domain.CheckoutKey, outcome domain.CheckoutOutcome) error {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, ok := r.attempts[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	if attempt.Status.Final() {
		return domain.ErrCheckoutAttemptFinished
	}

	attempt.Status = outcome.Status()
	attempt.OrderID = outcome.OrderID
	attempt.HTTPStatus = outcome.HTTPStatus
	attempt.Response = append([]byte(nil), outcome.Response...)
	attempt.UpdatedAt = time.Now().UTC()
	r.attempts[key] = attempt
	return nil
}

// DeleteExpired удаляет попытки, истёкшие к before, начиная с самых старых.
func (r *CheckoutAttemptRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.CheckoutAttempt, 0)
	for _, attempt := range r.attempts {
		if attempt.Expired(before) {
			expired = append(expired, attempt)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, attempt := range expired {
		delete(r.attempts, attempt.CheckoutKey)
	}
	return len(expired), nil
}

func cloneAttempt(src domain.CheckoutAttempt) domain.CheckoutAttempt {
	dst := src
	dst.Response = append([]byte(nil), src.Response...)
	return dst
}

var _ domain.CheckoutAttemptRepository = (*CheckoutAttemptRepository)(nil)

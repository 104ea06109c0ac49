package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

const selectCheckoutAttempt = `
	SELECT session_id, idempotency_key, request_hash, status, order_id,
	       http_status, response_body, expires_at, created_at, updated_at
	FROM checkout_attempts
`

// CheckoutAttemptRepository хранит попытки оформления в таблице checkout_attempts.
type CheckoutAttemptRepository struct {
	db *sql.DB
}

// NewCheckoutAttemptRepository создаёт репозиторий попыток оформления.
func NewCheckoutAttemptRepository(store *Store) *CheckoutAttemptRepository {
	return &CheckoutAttemptRepository{db: store.DB()}
}

// Begin вставляет попытку или замещает просроченную одним запросом: строка с
// живым ключом не меняется, и RETURNING ничего не возвращает.
func (r *CheckoutAttemptRepository) Begin(ctx context.Context, attempt domain.CheckoutAttempt) (domain.CheckoutAttempt, error) {
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

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO checkout_attempts (
			session_id, idempotency_key, request_hash, status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (session_id, idempotency_key) DO UPDATE
		SET request_hash  = EXCLUDED.request_hash,
		    status        = EXCLUDED.status,
		    order_id      = '',
		    http_status   = 0,
		    response_body = NULL,
		    expires_at    = EXCLUDED.expires_at,
		    created_at    = EXCLUDED.created_at,
		    updated_at    = EXCLUDED.updated_at
		WHERE checkout_attempts.expires_at <= EXCLUDED.created_at
		RETURNING created_at
	`,
		attempt.SessionID,
		attempt.Key,
		attempt.RequestHash,
		string(domain.CheckoutAttemptInFlight),
		attempt.ExpiresAt,
		attempt.CreatedAt,
	).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing, getErr := r.Get(ctx, attempt.CheckoutKey)
		if getErr != nil {
			// запись успели удалить между запросами; клиент повторит
			return domain.CheckoutAttempt{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != attempt.RequestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	case err != nil:
		return domain.CheckoutAttempt{}, fmt.Errorf("begin checkout attempt %s: %w", attempt.CheckoutKey, err)
	}

	return domain.CheckoutAttempt{
		CheckoutKey: attempt.CheckoutKey,
		RequestHash: attempt.RequestHash,
		Status:      domain.CheckoutAttemptInFlight,
		ExpiresAt:   attempt.ExpiresAt,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

func (r *CheckoutAttemptRepository) Get(ctx context.Context, key domain.CheckoutKey) (domain.CheckoutAttempt, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return domain.CheckoutAttempt{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, selectCheckoutAttempt+`WHERE session_id = $1 AND idempotency_key = $2`, key.SessionID, key.Key)
	attempt, err := scanCheckoutAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CheckoutAttempt{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.CheckoutAttempt{}, fmt.Errorf("get checkout attempt %s: %w", key, err)
	}
	return attempt, nil
}

func (r *CheckoutAttemptRepository) Finish(ctx context.Context, key domain.CheckoutKey, outcome domain.CheckoutOutcome) error {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE checkout_attempts
		SET status        = $3,
		    order_id      = $4,
		    http_status   = $5,
		    response_body = $6,
		    updated_at    = $7
		WHERE session_id = $1 AND idempotency_key = $2 AND status = $8
	`,
		key.SessionID,
		key.Key,
		string(outcome.Status()),
		outcome.OrderID,
		outcome.HTTPStatus,
		outcome.Response,
		time.Now().UTC(),
		string(domain.CheckoutAttemptInFlight),
	)
	if err != nil {
		return fmt.Errorf("finish checkout attempt %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checkout attempt rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.Get(ctx, key); err != nil {
		return err
	}
	return domain.ErrCheckoutAttemptFinished
}

// DeleteExpired удаляет попытки, истёкшие к before; limit <= 0 снимает ограничение.
func (r *CheckoutAttemptRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM checkout_attempts
			WHERE (session_id, idempotency_key) IN (
				SELECT session_id, idempotency_key
				FROM checkout_attempts
				WHERE expires_at <= $1
				ORDER BY expires_at
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `DELETE FROM checkout_attempts WHERE expires_at <= $1`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired checkout attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checkout attempt rows affected: %w", err)
	}
	return int(affected), nil
}

func scanCheckoutAttempt(row *sql.Row) (domain.CheckoutAttempt, error) {
	var (
		attempt   domain.CheckoutAttempt
		statusRaw string
	)
	err := row.Scan(
		&attempt.SessionID,
		&attempt.Key,
		&attempt.RequestHash,
		&statusRaw,
		&attempt.OrderID,
		&attempt.HTTPStatus,
		&attempt.Response,
		&attempt.ExpiresAt,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if err != nil {
		return domain.CheckoutAttempt{}, err
	}

	attempt.Status = domain.CheckoutAttemptStatus(statusRaw)
	if !attempt.Status.Valid() {
		return domain.CheckoutAttempt{}, fmt.Errorf("unknown checkout attempt status %q", statusRaw)
	}
	return attempt, nil
}

var _ domain.CheckoutAttemptRepository = (*CheckoutAttemptRepository)(nil)

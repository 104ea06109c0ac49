package outbox

import (
	"context"
	"time"
)

// maxRetryDelay ограничивает рост паузы между попытками публикации.
const maxRetryDelay = 30 * time.Second

// backoff удваивает паузу после каждой неудачной попытки: base, 2*base, 4*base.
type backoff struct {
	base time.Duration
	max  time.Duration
}

// delay возвращает паузу после попытки с номером attempt (с единицы).
func (b backoff) delay(attempt int) time.Duration {
	if b.base <= 0 || attempt < 1 {
		return 0
	}
	limit := b.max
	if limit <= 0 {
		limit = maxRetryDelay
	}

	d := b.base
	for i := 1; i < attempt; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}

// wait засыпает на d или возвращает ошибку контекста, если его отменили раньше.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

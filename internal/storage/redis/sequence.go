package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

const (
	sequenceKeyPrefix = "order_seq:"
	// Счётчик дня нужен только до конца суток; 48 часов покрывают сдвиг часовых поясов.
	sequenceTTL = 48 * time.Hour
)

// OrderNumberSequence — дневной счётчик номеров заказов на INCR.
type OrderNumberSequence struct {
	client *goredis.Client
}

// NewOrderNumberSequence создаёт счётчик поверх клиента.
func NewOrderNumberSequence(client *goredis.Client) *OrderNumberSequence {
	return &OrderNumberSequence{client: client}
}

// Next атомарно увеличивает счётчик дня.
func (s *OrderNumberSequence) Next(ctx context.Context, day string) (int64, error) {
	key := sequenceKeyPrefix + day

	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, sequenceTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr order sequence: %w", err)
	}
	return incr.Val(), nil
}

var _ domain.OrderNumberSequence = (*OrderNumberSequence)(nil)

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

const (
	cartKeyPrefix = "cart:"
	// Поле метаданных не пересекается с полями строк: те всегда содержат "/".
	cartUpdatedField = "@updated_at"
	// DefaultCartTTL — корзина живёт неделю с последнего изменения.
	DefaultCartTTL = 7 * 24 * time.Hour
)

type cartLineValue struct {
	ProductID      string `json:"product_id"`
	PortionSizeID  string `json:"portion_size_id"`
	Quantity       int32  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// CartStore хранит корзину сессии в одном hash, поле на строку.
type CartStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewCartStore создаёт хранилище корзин. ttl <= 0 заменяется на DefaultCartTTL.
func NewCartStore(client *goredis.Client, ttl time.Duration) *CartStore {
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	return &CartStore{client: client, ttl: ttl}
}

func cartKey(sessionID string) string {
	return cartKeyPrefix + sessionID
}

// Get возвращает корзину; отсутствующий ключ даёт пустую корзину.
func (s *CartStore) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	if sessionID == "" {
		return domain.Cart{}, domain.ErrSessionRequired
	}

	fields, err := s.client.HGetAll(ctx, cartKey(sessionID)).Result()
	if err != nil {
		return domain.Cart{}, fmt.Errorf("redis hgetall cart: %w", err)
	}

	cart := domain.Cart{SessionID: sessionID}
	for field, raw := range fields {
		if field == cartUpdatedField {
			if ts, parseErr := time.Parse(time.RFC3339Nano, raw); parseErr == nil {
				cart.UpdatedAt = ts
			}
			continue
		}
		var value cartLineValue
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return domain.Cart{}, fmt.Errorf("unmarshal cart line %s: %w", field, err)
		}
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID:      value.ProductID,
			PortionSizeID:  value.PortionSizeID,
			Quantity:       value.Quantity,
			UnitPriceMinor: value.UnitPriceMinor,
		})
	}
	sort.Slice(cart.Lines, func(i, j int) bool {
		return cart.Lines[i].Key().Less(cart.Lines[j].Key())
	})
	return cart, nil
}

// SetLine записывает строку и продлевает TTL корзины.
func (s *CartStore) SetLine(ctx context.Context, sessionID string, line domain.CartLine) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}

	data, err := json.Marshal(cartLineValue{
		ProductID:      line.ProductID,
		PortionSizeID:  line.PortionSizeID,
		Quantity:       line.Quantity,
		UnitPriceMinor: line.UnitPriceMinor,
	})
	if err != nil {
		return fmt.Errorf("marshal cart line: %w", err)
	}

	key := cartKey(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, line.Key().String(), data, cartUpdatedField, time.Now().UTC().Format(time.RFC3339Nano))
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set cart line: %w", err)
	}
	return nil
}

// RemoveLine удаляет строку. Если строк не осталось, ключ удаляется целиком.
func (s *CartStore) RemoveLine(ctx context.Context, sessionID string, key domain.InventoryKey) error {
	hashKey := cartKey(sessionID)
	if err := s.client.HDel(ctx, hashKey, key.String()).Err(); err != nil {
		return fmt.Errorf("redis hdel cart line: %w", err)
	}

	n, err := s.client.HLen(ctx, hashKey).Result()
	if err != nil {
		return fmt.Errorf("redis hlen cart: %w", err)
	}
	if n <= 1 {
		if err := s.client.Del(ctx, hashKey).Err(); err != nil {
			return fmt.Errorf("redis del cart: %w", err)
		}
	}
	return nil
}

func (s *CartStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del cart: %w", err)
	}
	return nil
}

var _ domain.CartStore = (*CartStore)(nil)

// Package redis содержит хранилища корзин и счётчика номеров заказов на Redis.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Open создаёт клиента и проверяет соединение.
func Open(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Checker проверяет доступность Redis для /healthz.
type Checker struct {
	client *goredis.Client
}

// NewChecker создаёт проверку здоровья поверх клиента.
func NewChecker(client *goredis.Client) *Checker {
	return &Checker{client: client}
}

// Check выполняет PING.
func (c *Checker) Check(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

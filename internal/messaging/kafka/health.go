package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

const brokerDialTimeout = 2 * time.Second

// ErrNoBrokers — список брокеров пуст.
var ErrNoBrokers = errors.New("no kafka brokers configured")

// BrokerCheck возвращает проверку, успешную при соединении хотя бы с одним брокером.
func BrokerCheck(brokers []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return ErrNoBrokers
		}

		var errs []error
		for _, addr := range brokers {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := pingBroker(addr); err != nil {
				errs = append(errs, err)
				continue
			}
			return nil
		}
		return errors.Join(errs...)
	}
}

func pingBroker(addr string) error {
	config := sarama.NewConfig()
	config.ClientID = "babyfood-health"
	config.Net.DialTimeout = brokerDialTimeout

	broker := sarama.NewBroker(addr)
	if err := broker.Open(config); err != nil {
		return fmt.Errorf("open broker %s: %w", addr, err)
	}
	defer func() { _ = broker.Close() }()

	connected, err := broker.Connected()
	if err != nil {
		return fmt.Errorf("connect broker %s: %w", addr, err)
	}
	if !connected {
		return fmt.Errorf("broker %s is not connected", addr)
	}
	return nil
}

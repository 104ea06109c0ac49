package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
)

// ErrPermanent помечает ошибку, которую бессмысленно повторять: сообщение
// сразу уходит в DLQ.
var ErrPermanent = errors.New("permanent message failure")

// Permanent оборачивает err в ErrPermanent.
func Permanent(err error) error {
	return errors.Join(ErrPermanent, err)
}

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// DeadLetterSink принимает сообщения, которые не удалось обработать. *Producer
// подходит как есть.
type DeadLetterSink interface {
	PublishEvent(topic string, key string, event interface{}, headers ...sarama.RecordHeader) error
}

const (
	// DefaultRetryDelay — пауза между повторными попытками внутри процесса.
	DefaultRetryDelay = 200 * time.Millisecond

	defaultMaxAttempts = 3
)

// ConsumerOptions задаёт параметры Consumer.
type ConsumerOptions struct {
	Logger      *log.Entry
	Metrics     *metrics.Metrics
	DeadLetters DeadLetterSink
	MaxAttempts int
	RetryDelay  time.Duration
	Clock       func() time.Time
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*ConsumerOptions)

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Logger = logger
	}
}

// WithConsumerMetrics подключает счётчик исходов обработки.
func WithConsumerMetrics(m *metrics.Metrics) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Metrics = m
	}
}

// WithDeadLetters включает DLQ. Без него необработанное сообщение остаётся
// непомеченным и будет перечитано.
func WithDeadLetters(sink DeadLetterSink) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.DeadLetters = sink
	}
}

// WithMaxAttempts задаёт общее число попыток с учётом заголовка x-retry-count.
func WithMaxAttempts(attempts int) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.MaxAttempts = attempts
	}
}

// WithRetryDelay задаёт паузу между попытками.
func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.RetryDelay = delay
	}
}

// Consumer читает топики через consumer group и отдаёт сообщения handler'у.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	opts    ConsumerOptions
	wg      sync.WaitGroup
}

// NewConsumer подключается к брокерам и создаёт consumer group groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, topics, handler, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	opts := ConsumerOptions{
		MaxAttempts: defaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "kafka-consumer")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}

	return &Consumer{group: group, topics: topics, handler: handler, opts: opts}
}

// Start запускает чтение в фоне и сразу возвращается.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при каждом rebalance
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.opts.Logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.opts.Logger.WithError(err).Error("consumer error")
		}
	}()

	c.opts.Logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.opts.Logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения partition по одному. Offset двигается
// только для обработанных сообщений и сообщений, ушедших в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			outcome, err := c.process(session.Context(), message)
			c.opts.Metrics.RecordConsumedMessage(message.Topic, outcome)
			if err != nil {
				c.opts.Logger.WithError(err).WithFields(messageFields(message)).Error("message processing failed")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process делает до MaxAttempts-x-retry-count попыток (минимум одну) и
// отправляет сообщение в DLQ, если они исчерпаны или ошибка постоянная.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) (string, error) {
	previous := retryCount(message)
	attempts := c.opts.MaxAttempts - previous
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.opts.Metrics.RecordConsumedMessage(message.Topic, metrics.ConsumeRetried)
			if waitErr := sleepCtx(ctx, c.opts.RetryDelay); waitErr != nil {
				return metrics.ConsumeFailed, waitErr
			}
		}

		if err = c.handler(ctx, message); err == nil {
			return metrics.ConsumeHandled, nil
		}
		if errors.Is(err, ErrPermanent) {
			break
		}
		c.opts.Logger.WithError(err).WithFields(messageFields(message)).
			WithField("attempt", previous+attempt+1).Warn("message processing failed, will retry")
	}

	if c.opts.DeadLetters == nil {
		return metrics.ConsumeFailed, err
	}
	if dlqErr := c.deadLetter(message, err, previous); dlqErr != nil {
		return metrics.ConsumeFailed, fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.opts.Logger.WithFields(messageFields(message)).Info("message sent to DLQ")
	return metrics.ConsumeDeadLettered, nil
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, cause error, retries int) error {
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          c.opts.Clock().Format(time.RFC3339),
		RetryCount:        retries,
	}

	return c.opts.DeadLetters.PublishEvent(
		TopicDeadLetterQueue,
		letter.OriginalKey,
		letter,
		header(HeaderOriginalTopic, letter.OriginalTopic),
		header(HeaderErrorMessage, letter.ErrorMessage),
		header(HeaderFailedAt, letter.FailedAt),
		header(HeaderRetryCount, strconv.Itoa(retries)),
	)
}

// retryCount читает x-retry-count. Отсутствующий или битый заголовок — ноль.
func retryCount(message *sarama.ConsumerMessage) int {
	for _, h := range message.Headers {
		if h == nil || string(h.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(h.Value)); err == nil && count > 0 {
			return count
		}
	}
	return 0
}

func header(key, value string) sarama.RecordHeader {
	return sarama.RecordHeader{Key: []byte(key), Value: []byte(value)}
}

func messageFields(message *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

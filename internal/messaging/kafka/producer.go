package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// DefaultClientID — client.id, с которым сервис подключается к брокерам.
const DefaultClientID = "babyfood"

// SplitBrokers разбирает список брокеров через запятую, пропуская пустые элементы.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// ProducerOptions задаёт параметры Producer.
type ProducerOptions struct {
	ClientID string
	Logger   *log.Entry
	Clock    func() time.Time
}

// ProducerOption настраивает Producer.
type ProducerOption func(*ProducerOptions)

// WithClientID переопределяет client.id, например для cmd/dlq-reprocess.
func WithClientID(id string) ProducerOption {
	return func(opts *ProducerOptions) {
		opts.ClientID = id
	}
}

// WithProducerLogger задаёт logger.
func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(opts *ProducerOptions) {
		opts.Logger = logger
	}
}

// WithProducerClock задаёт источник timestamp сообщений.
func WithProducerClock(clock func() time.Time) ProducerOption {
	return func(opts *ProducerOptions) {
		opts.Clock = clock
	}
}

// Producer синхронно публикует сообщения. Каждое сообщение подтверждается
// всеми ISR до возврата из Publish*.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

func producerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	// идемпотентный producer требует ровно один in-flight запрос
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, options ...ProducerOption) (*Producer, error) {
	opts := resolveProducerOptions(options)

	sync, err := sarama.NewSyncProducer(brokers, producerConfig(opts.ClientID))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newProducer(sync, options...), nil
}

func newProducer(sync sarama.SyncProducer, options ...ProducerOption) *Producer {
	opts := resolveProducerOptions(options)
	return &Producer{sync: sync, logger: opts.Logger, now: opts.Clock}
}

func resolveProducerOptions(options []ProducerOption) ProducerOptions {
	opts := ProducerOptions{ClientID: DefaultClientID}
	for _, option := range options {
		option(&opts)
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "kafka-producer")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return opts
}

// PublishEvent кодирует event в JSON и отправляет в topic.
func (p *Producer) PublishEvent(topic string, key string, event interface{}, headers ...sarama.RecordHeader) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.PublishRaw(topic, key, value, headers...)
}

// PublishRaw отправляет value как есть. Так переотправляются сообщения из DLQ.
func (p *Producer) PublishRaw(topic string, key string, value []byte, headers ...sarama.RecordHeader) error {
	fields := log.Fields{"topic": topic, "key": key}

	partition, offset, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: p.now(),
	})
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message to %s: %w", topic, err)
	}

	p.logger.WithFields(fields).WithFields(log.Fields{
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")
	return nil
}

// Close дожидается отправки и закрывает соединения.
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/babyfood/internal/metrics"
)

// paymentConsumerRetries — попыток обработки платёжного события до отправки в DLQ.
const paymentConsumerRetries = 3

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := kafka.SplitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// startPaymentConsumer подписывает обработчик платёжных событий на babyfood.payment.events.
// Неразобранные и исчерпавшие повторы сообщения уходят в DLQ через producer.
func startPaymentConsumer(
	ctx context.Context,
	cfg Config,
	producer *kafka.Producer,
	updater kafka.PaymentStatusUpdater,
	m *metrics.Metrics,
	logger *log.Entry,
) (*kafka.Consumer, error) {
	group := cfg.PaymentEventsGroup
	if group == "" {
		group = DefaultPaymentEventsGroup
	}

	options := []kafka.ConsumerOption{
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
		kafka.WithConsumerMetrics(m),
		kafka.WithMaxAttempts(paymentConsumerRetries),
	}
	if producer != nil {
		options = append(options, kafka.WithDeadLetters(producer))
	}

	handler := kafka.NewPaymentEventHandler(updater, logger.WithField("component", "payment-events"))
	consumer, err := kafka.NewConsumer(
		kafka.SplitBrokers(cfg.KafkaBrokers),
		group,
		[]string{kafka.TopicPaymentEvents},
		handler,
		options...,
	)
	if err != nil {
		return nil, err
	}

	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, err
	}

	logger.WithFields(log.Fields{
		"topic": kafka.TopicPaymentEvents,
		"group": group,
	}).Info("payment events consumer started")
	return consumer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop payment events consumer")
	}
}

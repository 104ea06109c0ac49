package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/babyfood/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/babyfood/internal/service/outbox"
)

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

// skipReason объясняет, почему сообщение из DLQ не переотправляется.
type skipReason string

const (
	replayable       skipReason = ""
	skipUnrecognized skipReason = "unrecognized"
	skipPermanent    skipReason = "permanent"
	skipFiltered     skipReason = "filtered"
)

// planReplay распознаёт два формата DLQ: kafka.DeadLetter от consumer'а
// платёжных событий и OutboxEnvelope от outbox worker'а.
func planReplay(msg *sarama.ConsumerMessage, cfg config) (replayMessage, skipReason, error) {
	var letter kafka.DeadLetter
	if err := json.Unmarshal(msg.Value, &letter); err == nil && letter.OriginalValue != "" {
		return planConsumerReplay(msg, letter, cfg)
	}

	var envelope kafka.OutboxEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, skipUnrecognized, nil
	}
	return planOutboxReplay(msg, envelope, cfg)
}

func planConsumerReplay(msg *sarama.ConsumerMessage, letter kafka.DeadLetter, cfg config) (replayMessage, skipReason, error) {
	topic := strings.TrimSpace(letter.OriginalTopic)
	if topic == "" {
		topic = kafka.TopicPaymentEvents
	}
	if cfg.onlyTopic != "" && topic != cfg.onlyTopic {
		return replayMessage{}, skipFiltered, nil
	}
	// Битый JSON или неизвестный заказ повтор не исправит.
	if !cfg.includePermanent && isPermanentFailure(letter.ErrorMessage) {
		return replayMessage{}, skipPermanent, nil
	}

	return replayMessage{
		topic:   topic,
		key:     letter.OriginalKey,
		value:   []byte(letter.OriginalValue),
		headers: replayHeaders(msg),
	}, replayable, nil
}

func planOutboxReplay(msg *sarama.ConsumerMessage, envelope kafka.OutboxEnvelope, cfg config) (replayMessage, skipReason, error) {
	if cfg.onlyTopic != "" && cfg.targetTopic != cfg.onlyTopic {
		return replayMessage{}, skipFiltered, nil
	}

	letter, err := outbox.DecodeDeadLetter(envelope.Payload)
	if err != nil {
		return replayMessage{}, skipUnrecognized, fmt.Errorf("outbox dead letter %s: %w", envelope.ID, err)
	}

	original := letter.Original()
	replay := kafka.OutboxEnvelope{
		ID:            firstNonEmpty(original.ID, envelope.ID),
		AggregateType: firstNonEmpty(original.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(original.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(original.EventType, envelope.EventType),
		Payload:       original.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, skipUnrecognized, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		topic:   cfg.targetTopic,
		key:     firstNonEmpty(replay.AggregateID, replay.ID),
		value:   encoded,
		headers: replayHeaders(msg),
	}, replayable, nil
}

func isPermanentFailure(errorMessage string) bool {
	return strings.Contains(errorMessage, kafka.ErrPermanent.Error())
}

func replayHeaders(msg *sarama.ConsumerMessage) []sarama.RecordHeader {
	origin := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	return []sarama.RecordHeader{{Key: []byte(kafka.HeaderReplayedFrom), Value: []byte(origin)}}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

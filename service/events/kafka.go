package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kylycht/valutatrade/model"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "rates.updated"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher announces every freshly committed rate as one message
// keyed by its pair.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration // bound of one batch write
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("kafka publisher initialized")

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		timeout: 30 * time.Second,
	}
}

// Publish implements service.Publisher.
func (k *KafkaPublisher) Publish(ctx context.Context, records []model.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		v, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal rate %s: %w", r.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(model.PairKey(r.FromCurrency, r.ToCurrency)),
			Value: v,
			Time:  r.Timestamp.Time,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write rate messages: %w", err)
	}

	log.Debug().Int("messages", len(msgs)).Msg("published rate updates")
	return nil
}

func (k *KafkaPublisher) Close() error {
	log.Info().Msg("closing kafka publisher")
	return k.writer.Close()
}

package bus

import (
	"context"

	"github.com/rezaul-kabir/gridbase/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// KafkaBus publishes messages through a shared kafka.Writer with a hash
// balancer so messages with the same key land on the same partition.
type KafkaBus struct {
	writer *kafka.Writer
}

func NewKafkaBus(brokers []string) *KafkaBus {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.Hash{},
	})
	return &KafkaBus{writer: writer}
}

func (b *KafkaBus) Publish(ctx context.Context, msg Message) error {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		headers = append(headers, kafka.Header{Key: h.Key, Value: h.Value})
	}
	headers = kafkax.InjectTraceHeaders(ctx, headers)

	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}

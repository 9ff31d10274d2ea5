package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rezaul-kabir/gridbase/libs/kafkax"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/bus"
)

// KafkaRunner reads event topics with a consumer group and feeds the
// Consumer. Offsets are committed only after HandleMessage returns nil, so
// transient failures are redelivered.
type KafkaRunner struct {
	reader   *kafka.Reader
	consumer *Consumer
	logger   *slog.Logger
}

type KafkaConfig struct {
	Brokers string
	GroupID string
	Topics  []string
}

func NewKafkaRunner(logger *slog.Logger, consumer *Consumer, cfg KafkaConfig) *KafkaRunner {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &KafkaRunner{
		reader:   reader,
		consumer: consumer,
		logger:   logger,
	}
}

func (r *KafkaRunner) Run(ctx context.Context) {
	defer r.reader.Close()

	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("kafka fetch error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("ingest").Start(ctxMsg, "ingest.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		if err := r.consumer.HandleMessage(ctxSpan, toBusMessage(msg)); err != nil {
			// Not committed; the group redelivers after rebalance
			// or restart.
			r.logger.Error("handler error, message will be redelivered",
				"topic", msg.Topic, "err", err)
			span.RecordError(err)
			span.End()
			continue
		}

		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			r.logger.Error("commit failed", "topic", msg.Topic, "err", err)
			span.RecordError(err)
		}
		span.End()
	}
}

func toBusMessage(msg kafka.Message) bus.Message {
	headers := make([]bus.Header, len(msg.Headers))
	for i, h := range msg.Headers {
		headers[i] = bus.Header{Key: h.Key, Value: h.Value}
	}
	return bus.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

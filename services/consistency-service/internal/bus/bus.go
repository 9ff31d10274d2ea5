// Package bus abstracts the message bus between the outbox publisher and
// downstream consumers. The Kafka implementation is the production path;
// the in-memory implementation backs tests and local single-process runs.
package bus

import "context"

type Header struct {
	Key   string
	Value []byte
}

// Message is a bus-agnostic message. Topic carries the event type and Key
// the aggregate id, so a hash balancer keeps each aggregate on one partition.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers []Header
}

func HeaderValue(headers []Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

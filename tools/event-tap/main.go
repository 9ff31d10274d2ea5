// event-tap tails event topics and prints each message, either as the raw
// payload or as a one-line summary. Handy for verifying what the outbox
// publisher actually put on the wire.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rezaul-kabir/gridbase/libs/kafkax"
)

func main() {
	var (
		brokers = flag.String("brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "comma-separated kafka brokers")
		topics  = flag.String("topics", getenv("EVENT_TOPICS", ""), "comma-separated event topics to tail")
		group   = flag.String("group", "", "consumer group id; empty reads without committing")
		raw     = flag.Bool("raw", false, "print raw message payloads instead of summaries")
	)
	flag.Parse()

	topicList := splitList(*topics)
	if len(topicList) == 0 {
		fatal("EVENT_TOPICS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(*brokers),
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if *group != "" {
		cfg.GroupID = *group
		cfg.GroupTopics = topicList
	} else {
		// Without a group kafka-go reads a single topic; tail the first
		// and tell the user.
		cfg.Topic = topicList[0]
		cfg.StartOffset = kafka.LastOffset
		if len(topicList) > 1 {
			fmt.Fprintf(os.Stderr, "no -group set, tailing only %s\n", topicList[0])
		}
	}

	reader := kafka.NewReader(cfg)
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			time.Sleep(time.Second)
			continue
		}
		if *raw {
			fmt.Printf("%s\n", msg.Value)
			continue
		}
		fmt.Println(summarize(msg))
	}
}

func summarize(msg kafka.Message) string {
	var evt struct {
		ID           string `json:"id"`
		AggregateID  string `json:"aggregate_id"`
		EventType    string `json:"event_type"`
		EventVersion int64  `json:"event_version"`
		Timestamp    string `json:"timestamp"`
	}
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Sprintf("%s key=%s (%d bytes, not a domain event)",
			msg.Topic, msg.Key, len(msg.Value))
	}
	return fmt.Sprintf("%s %s aggregate=%s v%d id=%s",
		evt.Timestamp, evt.EventType, evt.AggregateID, evt.EventVersion, evt.ID)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}

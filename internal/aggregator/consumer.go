package aggregator

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/yashkuceriya/EventIQ-Platform/internal/bus"
	"github.com/yashkuceriya/EventIQ-Platform/internal/counter"
	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
)

// Consumer fans consumed messages out to realtime subscribers and maintains
// the per-source counters.
type Consumer struct {
	registry Registry
	counters counter.Store
}

// NewConsumer wires the aggregation consumer.
func NewConsumer(registry Registry, counters counter.Store) *Consumer {
	return &Consumer{registry: registry, counters: counters}
}

// Handle broadcasts one consumed message and, for validated events, bumps
// the source's live counter. It always acknowledges: counters tolerate
// over-counting on redelivery and a dropped broadcast is not worth a replay.
func (c *Consumer) Handle(ctx context.Context, msg bus.Inbound) error {
	if !json.Valid(msg.Value) {
		log.Printf("[aggregate] skipping non-JSON payload on %s", msg.Topic)
		return nil
	}

	c.registry.Broadcast(frame(msg))

	if msg.Topic == bus.TopicEventsValidated {
		if src := sourceOf(msg); src != "" {
			if err := c.counters.HIncrBy(ctx, counter.MetricsBySourceKey, src, 1); err != nil {
				log.Printf("[aggregate] source counter update failed for %s: %v", src, err)
			}
		}
	}
	return nil
}

// frame wraps the verbatim payload in the subscriber envelope, typed by the
// source topic.
func frame(msg bus.Inbound) model.Frame {
	return model.Frame{
		Type:      msg.Topic,
		Data:      json.RawMessage(msg.Value),
		Timestamp: time.Now().UTC(),
	}
}

// sourceOf extracts the event source, falling back to the partition key
// (events are keyed by source) when the payload does not carry one.
func sourceOf(msg bus.Inbound) string {
	var ev struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(msg.Value, &ev); err == nil && ev.Source != "" {
		return ev.Source
	}
	return string(msg.Key)
}

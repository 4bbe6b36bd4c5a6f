package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Message is one keyed payload bound for a topic.
type Message struct {
	Key   []byte
	Value []byte
}

// Producer publishes keyed JSON payloads onto the bus. A single writer is
// shared across topics; the hash balancer routes every message with the same
// key to the same partition, which is what preserves per-source and
// per-event ordering downstream.
type Producer struct {
	writer *kafkago.Writer
}

// NewProducer builds a Producer against the given brokers.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("bus: missing brokers")
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: w}, nil
}

// Publish writes a single message. An error means the write did not complete
// and the caller must treat the operation as not having happened.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	msg := kafkago.Message{Topic: topic, Key: key, Value: value}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", topic, err)
	}
	return nil
}

// PublishBatch writes all messages in one call. kafka-go reports a single
// error for the batch, so either the whole batch is accepted or the caller
// sees a failure with no partial state it has to reason about.
func (p *Producer) PublishBatch(ctx context.Context, topic string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := make([]kafkago.Message, 0, len(msgs))
	for _, m := range msgs {
		batch = append(batch, kafkago.Message{Topic: topic, Key: m.Key, Value: m.Value})
	}
	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		return fmt.Errorf("bus: publish batch of %d to %s: %w", len(msgs), topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		log.Printf("[bus] writer close error: %v", err)
		return err
	}
	return nil
}

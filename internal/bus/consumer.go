package bus

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Inbound is a consumed bus message handed to a Handler.
type Inbound struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Handler processes one consumed message. A nil return acknowledges the
// message and commits its offset. A non-nil return marks a retriable
// infrastructure fault: the consumer re-invokes the handler on the SAME
// message with backoff and fetches nothing further until it succeeds, so a
// later commit can never skip past a failed offset. Poison messages are the
// handler's business: it is expected to dead-letter them itself and return
// nil so the partition keeps moving.
type Handler func(ctx context.Context, msg Inbound) error

// reader is the slice of kafka-go's Reader the consumer uses. It exists so
// the consume loop is testable without a broker.
type reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Config() kafkago.ReaderConfig
	Close() error
}

// Consumer pulls messages for one consumer group from one or more topics and
// commits each offset only after the handler has succeeded on it. A crash
// mid-handle causes redelivery, never loss.
type Consumer struct {
	reader reader
	label  string
}

const (
	retryBackoff    = 500 * time.Millisecond
	maxRetryBackoff = 10 * time.Second
)

// NewConsumer builds a group consumer over the given topics.
func NewConsumer(brokers []string, group string, topics ...string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("bus: missing brokers")
	}
	if strings.TrimSpace(group) == "" {
		return nil, errors.New("bus: missing consumer group")
	}
	if len(topics) == 0 {
		return nil, errors.New("bus: missing topics")
	}
	cfg := kafkago.ReaderConfig{
		Brokers:  brokers,
		GroupID:  group,
		MaxBytes: 10 * 1024 * 1024,
	}
	if len(topics) == 1 {
		cfg.Topic = topics[0]
	} else {
		cfg.GroupTopics = topics
	}
	return &Consumer{
		reader: kafkago.NewReader(cfg),
		label:  group,
	}, nil
}

// Run consumes until ctx is canceled. Fetch errors are retried with a short
// pause. Handler errors block the partition: the same message is retried
// with backoff until the handler accepts it, because a group commit stores a
// per-partition position and committing any later offset would silently drop
// the failed message.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	defer func() { _ = c.reader.Close() }()

	log.Printf("[bus/%s] consuming %s", c.label, strings.Join(c.topics(), ","))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Printf("[bus/%s] fetch error: %v", c.label, err)
				time.Sleep(retryBackoff)
				continue
			}
		}

		in := Inbound{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Time:      msg.Time,
		}
		if !c.handleUntilAck(ctx, in, handle) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			// The message will be redelivered; downstream tolerates duplicates.
			log.Printf("[bus/%s] commit error at %s/%d@%d: %v", c.label, in.Topic, in.Partition, in.Offset, err)
		}
	}
}

// handleUntilAck invokes the handler on one message until it returns nil,
// backing off between attempts. It reports false only when ctx ended before
// the message was accepted.
func (c *Consumer) handleUntilAck(ctx context.Context, in Inbound, handle Handler) bool {
	backoff := retryBackoff
	for attempt := 1; ; attempt++ {
		err := handle(ctx, in)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Printf("[bus/%s] handler error at %s/%d@%d (attempt %d), retrying in %s: %v",
			c.label, in.Topic, in.Partition, in.Offset, attempt, backoff, err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

func (c *Consumer) topics() []string {
	cfg := c.reader.Config()
	if cfg.Topic != "" {
		return []string{cfg.Topic}
	}
	return cfg.GroupTopics
}

package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(nil); err == nil {
		t.Fatal("expected error for missing brokers")
	}
}

func TestNewConsumerValidation(t *testing.T) {
	cases := []struct {
		name    string
		brokers []string
		group   string
		topics  []string
	}{
		{"no brokers", nil, "g", []string{TopicEventsValidated}},
		{"no group", []string{"b1"}, "  ", []string{TopicEventsValidated}},
		{"no topics", []string{"b1"}, "g", nil},
	}
	for _, tc := range cases {
		if _, err := NewConsumer(tc.brokers, tc.group, tc.topics...); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestConsumerTopicsSingleAndGroup(t *testing.T) {
	c, err := NewConsumer([]string{"localhost:1"}, "g", TopicEventsValidated)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if got := c.topics(); len(got) != 1 || got[0] != TopicEventsValidated {
		t.Fatalf("unexpected topics: %v", got)
	}

	c2, err := NewConsumer([]string{"localhost:1"}, "g", TopicEventsValidated, TopicInsightsGenerated)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if got := c2.topics(); len(got) != 2 {
		t.Fatalf("unexpected group topics: %v", got)
	}
}

func TestConsumerRunStopsOnCancelledContext(t *testing.T) {
	c, err := NewConsumer([]string{"localhost:1"}, "g", TopicEventsValidated)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Run(ctx, func(context.Context, Inbound) error { return nil }); err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

// scriptedReader feeds a fixed message sequence and records commits.
type scriptedReader struct {
	mu      sync.Mutex
	msgs    []kafkago.Message
	commits []int64
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if len(r.msgs) == 0 {
		r.mu.Unlock()
		<-ctx.Done()
		return kafkago.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	r.mu.Unlock()
	return m, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.commits = append(r.commits, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Config() kafkago.ReaderConfig {
	return kafkago.ReaderConfig{Topic: TopicEventsValidated}
}

func (r *scriptedReader) Close() error { return nil }

func (r *scriptedReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.commits...)
}

// A handler failure must hold the partition: the same message is retried and
// no later offset is fetched or committed until it succeeds. Committing past
// a failed offset would mark it consumed for the whole group.
func TestRunRetriesFailedMessageBeforeAdvancing(t *testing.T) {
	rd := &scriptedReader{msgs: []kafkago.Message{
		{Topic: TopicEventsValidated, Offset: 7, Value: []byte("a")},
		{Topic: TopicEventsValidated, Offset: 8, Value: []byte("b")},
	}}
	c := &Consumer{reader: rd, label: "g"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu         sync.Mutex
		handled    []int64
		failedOnce bool
	)
	handle := func(_ context.Context, msg Inbound) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, msg.Offset)
		if msg.Offset == 7 && !failedOnce {
			failedOnce = true
			return errors.New("store down")
		}
		if msg.Offset == 8 {
			cancel()
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Run(ctx, handle); err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop")
	}

	mu.Lock()
	gotHandled := append([]int64(nil), handled...)
	mu.Unlock()
	wantHandled := []int64{7, 7, 8}
	if len(gotHandled) != len(wantHandled) {
		t.Fatalf("handled offsets %v, want %v", gotHandled, wantHandled)
	}
	for i, off := range wantHandled {
		if gotHandled[i] != off {
			t.Fatalf("handled offsets %v, want %v", gotHandled, wantHandled)
		}
	}

	commits := rd.committed()
	if len(commits) != 2 || commits[0] != 7 || commits[1] != 8 {
		t.Fatalf("committed offsets %v, want [7 8]", commits)
	}
}

func TestRunStopsDuringRetryBackoff(t *testing.T) {
	rd := &scriptedReader{msgs: []kafkago.Message{
		{Topic: TopicEventsValidated, Offset: 3, Value: []byte("a")},
	}}
	c := &Consumer{reader: rd, label: "g"}

	ctx, cancel := context.WithCancel(context.Background())
	handle := func(context.Context, Inbound) error {
		return errors.New("store down")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx, handle)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop while retrying")
	}
	if commits := rd.committed(); len(commits) != 0 {
		t.Fatalf("failed message was committed: %v", commits)
	}
}

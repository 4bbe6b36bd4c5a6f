// Package gateway implements the ingestion gateway: it validates, rate
// limits and admits raw events onto the bus.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/yashkuceriya/EventIQ-Platform/internal/bus"
	"github.com/yashkuceriya/EventIQ-Platform/internal/counter"
	"github.com/yashkuceriya/EventIQ-Platform/internal/metrics"
	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
)

// RejectKind names the terminal client-side rejection categories.
type RejectKind string

const (
	RejectValidation   RejectKind = "validation_failed"
	RejectRateLimited  RejectKind = "rate_limited"
	RejectBatchEmpty   RejectKind = "batch_empty"
	RejectBatchTooBig  RejectKind = "batch_too_large"
	RejectBatchInvalid RejectKind = "batch_invalid"
)

// Rejection is a terminal admission refusal. It is client-correctable:
// the gateway performed no side effect and will not retry on the client's
// behalf.
type Rejection struct {
	Kind    RejectKind
	Details string
	// Limit and Window are set for rate-limit rejections so clients can
	// schedule their retry.
	Limit  int
	Window time.Duration
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected (%s): %s", r.Kind, r.Details)
}

// ErrPublish marks an admission that could not complete because the bus
// write failed. The event was NOT admitted; callers must retry or fail.
var ErrPublish = errors.New("gateway: publish failed")

// Publisher is the slice of the bus producer the gateway needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	PublishBatch(ctx context.Context, topic string, msgs []bus.Message) error
}

// Options tune admission behavior.
type Options struct {
	RateLimit  int
	RateWindow time.Duration
	BatchMax   int
	RecentTTL  time.Duration
}

// Service admits raw events. It depends on the bus producer and the shared
// counter store; both are required.
type Service struct {
	producer Publisher
	counters counter.Store
	opts     Options
}

// NewService builds the gateway service.
func NewService(producer Publisher, counters counter.Store, opts Options) *Service {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 100
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.BatchMax <= 0 {
		opts.BatchMax = 100
	}
	if opts.RecentTTL <= 0 {
		opts.RecentTTL = 5 * time.Minute
	}
	return &Service{producer: producer, counters: counters, opts: opts}
}

// Submit validates, rate limits and publishes one raw event. On success the
// returned AdmittedEvent has a unique id and an admission timestamp; any
// error means nothing was published.
func (s *Service) Submit(ctx context.Context, raw model.RawEvent) (model.AdmittedEvent, error) {
	if err := raw.Validate(); err != nil {
		metrics.EventsRejected.WithLabelValues(string(RejectValidation)).Inc()
		return model.AdmittedEvent{}, &Rejection{Kind: RejectValidation, Details: err.Error()}
	}

	if err := s.checkRateLimit(ctx, raw.Source); err != nil {
		return model.AdmittedEvent{}, err
	}

	ev := s.admit(raw)
	payload, err := json.Marshal(ev)
	if err != nil {
		return model.AdmittedEvent{}, fmt.Errorf("gateway: marshal event: %w", err)
	}
	if err := s.producer.Publish(ctx, bus.TopicEventsRaw, []byte(ev.Source), payload); err != nil {
		metrics.PublishFailures.WithLabelValues(bus.TopicEventsRaw).Inc()
		return model.AdmittedEvent{}, fmt.Errorf("%w: %v", ErrPublish, err)
	}

	s.recordAdmission(ctx, ev)
	return ev, nil
}

// SubmitBatch admits a whole batch or nothing. The batch is rejected when it
// is empty, exceeds the size ceiling, or any member fails validation; no
// partial publish state is observable.
func (s *Service) SubmitBatch(ctx context.Context, raws []model.RawEvent) (int, error) {
	if len(raws) == 0 {
		metrics.EventsRejected.WithLabelValues(string(RejectBatchEmpty)).Inc()
		return 0, &Rejection{Kind: RejectBatchEmpty, Details: "batch must contain at least one event"}
	}
	if len(raws) > s.opts.BatchMax {
		metrics.EventsRejected.WithLabelValues(string(RejectBatchTooBig)).Inc()
		return 0, &Rejection{
			Kind:    RejectBatchTooBig,
			Details: fmt.Sprintf("batch of %d exceeds the limit of %d", len(raws), s.opts.BatchMax),
			Limit:   s.opts.BatchMax,
		}
	}
	for i, raw := range raws {
		if err := raw.Validate(); err != nil {
			metrics.EventsRejected.WithLabelValues(string(RejectBatchInvalid)).Inc()
			return 0, &Rejection{Kind: RejectBatchInvalid, Details: fmt.Sprintf("event %d: %v", i, err)}
		}
	}

	msgs := make([]bus.Message, 0, len(raws))
	admitted := make([]model.AdmittedEvent, 0, len(raws))
	for _, raw := range raws {
		ev := s.admit(raw)
		payload, err := json.Marshal(ev)
		if err != nil {
			return 0, fmt.Errorf("gateway: marshal event: %w", err)
		}
		admitted = append(admitted, ev)
		msgs = append(msgs, bus.Message{Key: []byte(ev.Source), Value: payload})
	}
	if err := s.producer.PublishBatch(ctx, bus.TopicEventsRaw, msgs); err != nil {
		metrics.PublishFailures.WithLabelValues(bus.TopicEventsRaw).Inc()
		return 0, fmt.Errorf("%w: %v", ErrPublish, err)
	}

	for _, ev := range admitted {
		s.recordAdmission(ctx, ev)
	}
	return len(admitted), nil
}

// Metrics returns the live counter snapshot.
func (s *Service) Metrics(ctx context.Context) (model.MetricsSnapshot, error) {
	return counter.Snapshot(ctx, s.counters, false)
}

// Healthy reports whether the counter store is reachable.
func (s *Service) Healthy(ctx context.Context) bool {
	return s.counters.Ping(ctx) == nil
}

// admit stamps identity and admission time onto a validated raw event.
func (s *Service) admit(raw model.RawEvent) model.AdmittedEvent {
	now := time.Now().UTC()
	return model.AdmittedEvent{
		RawEvent:    raw,
		ID:          uuid.NewString(),
		Timestamp:   now,
		ValidatedAt: now,
	}
}

// checkRateLimit increments the per-source window counter. The first
// increment in a window arms the expiry; exceeding the ceiling rejects the
// request. A counter store failure is an infrastructure fault: without the
// counter the gateway cannot admit safely.
func (s *Service) checkRateLimit(ctx context.Context, source string) error {
	key := counter.RateLimitKeyPrefix + source
	n, err := s.counters.Incr(ctx, key)
	if err != nil {
		return fmt.Errorf("gateway: rate limit check: %w", err)
	}
	if n == 1 {
		if err := s.counters.Expire(ctx, key, s.opts.RateWindow); err != nil {
			return fmt.Errorf("gateway: arm rate limit window: %w", err)
		}
	}
	if n > int64(s.opts.RateLimit) {
		metrics.EventsRejected.WithLabelValues(string(RejectRateLimited)).Inc()
		return &Rejection{
			Kind:    RejectRateLimited,
			Details: fmt.Sprintf("source %q exceeded %d events per %s", source, s.opts.RateLimit, s.opts.RateWindow),
			Limit:   s.opts.RateLimit,
			Window:  s.opts.RateWindow,
		}
	}
	return nil
}

// recordAdmission updates live counters and the recent-event cache. All of
// it is best effort: counters are observability, not correctness, and must
// never fail an admission that already published.
func (s *Service) recordAdmission(ctx context.Context, ev model.AdmittedEvent) {
	metrics.EventsAdmitted.Inc()

	if err := s.counters.HIncrBy(ctx, counter.MetricsTotalKey, counter.MetricsTotalField, 1); err != nil {
		log.Printf("[gateway] counter update failed: %v", err)
		return
	}
	_ = s.counters.HIncrBy(ctx, counter.MetricsByTypeKey, ev.Type, 1)
	_ = s.counters.HIncrBy(ctx, counter.MetricsBySeverityKey, string(ev.Severity), 1)

	if err := s.counters.SetJSON(ctx, counter.RecentEventPrefix+ev.Source, ev, s.opts.RecentTTL); err != nil {
		log.Printf("[gateway] recent-event cache failed: %v", err)
	}
}

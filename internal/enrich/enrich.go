// Package enrich implements the enrichment consumer: for every validated
// event it assembles a recent-history window, invokes the enrichment oracle
// capabilities concurrently, persists the resulting insights and republishes
// them for downstream consumers.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yashkuceriya/EventIQ-Platform/internal/bus"
	"github.com/yashkuceriya/EventIQ-Platform/internal/counter"
	"github.com/yashkuceriya/EventIQ-Platform/internal/metrics"
	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
	"github.com/yashkuceriya/EventIQ-Platform/internal/oracle"
	"github.com/yashkuceriya/EventIQ-Platform/internal/store"
)

// Publisher is the slice of the bus producer the consumer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Options tune windowing and capability policy.
type Options struct {
	// WindowLimit caps the recent-history window (prior events of the same
	// type).
	WindowLimit int
	// WindowAge bounds how far back the window reaches.
	WindowAge time.Duration
	// TrendMinPoints is the minimum window size below which no trend is
	// computed.
	TrendMinPoints int
	// SummaryRecent is how many of the most recent window members join the
	// triggering event in a summarization call.
	SummaryRecent int
	// OracleTimeout bounds each capability invocation. Zero means no
	// timeout beyond the consumer's context.
	OracleTimeout time.Duration
	// InsightCacheTTL is how long generated insights stay in the shared
	// cache. Zero disables caching.
	InsightCacheTTL time.Duration
}

func (o *Options) applyDefaults() {
	if o.WindowLimit <= 0 {
		o.WindowLimit = 50
	}
	if o.WindowAge <= 0 {
		o.WindowAge = time.Hour
	}
	if o.TrendMinPoints <= 0 {
		o.TrendMinPoints = 5
	}
	if o.SummaryRecent <= 0 {
		o.SummaryRecent = 5
	}
}

// Consumer processes validated events into insights.
type Consumer struct {
	records  store.RecordStore
	oracle   oracle.Oracle
	producer Publisher
	cache    counter.Store // optional; nil disables insight caching
	opts     Options
}

// NewConsumer wires the enrichment consumer. cache may be nil.
func NewConsumer(records store.RecordStore, orc oracle.Oracle, producer Publisher, cache counter.Store, opts Options) *Consumer {
	opts.applyDefaults()
	return &Consumer{
		records:  records,
		oracle:   orc,
		producer: producer,
		cache:    cache,
		opts:     opts,
	}
}

// Handle processes one consumed message end to end. Returning nil commits
// the offset; returning an error leaves it uncommitted for redelivery.
// Poison messages (payloads that cannot be decoded or windowed) are routed
// verbatim to the dead-letter topic and acknowledged so they never stall the
// partition.
func (c *Consumer) Handle(ctx context.Context, msg bus.Inbound) error {
	var ev model.AdmittedEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.ID == "" {
		if err == nil {
			err = errors.New("event has no id")
		}
		log.Printf("[enrich] poison message on %s: %v", msg.Topic, err)
		return c.deadLetter(ctx, msg)
	}

	if err := c.records.SaveEvent(ctx, ev); err != nil {
		log.Printf("[enrich] persist event %s failed: %v", ev.ID, err)
		return c.deadLetter(ctx, msg)
	}

	window, err := c.records.QueryRecent(ctx, ev.Type, ev.Timestamp.Add(-c.opts.WindowAge), c.opts.WindowLimit)
	if err != nil {
		log.Printf("[enrich] window assembly failed for %s: %v", ev.ID, err)
		return c.deadLetter(ctx, msg)
	}
	// The triggering event may already be persisted; keep it out of its own
	// history window.
	window = excludeEvent(window, ev.ID)

	settled := c.invokeAll(ctx, ev, window)

	insights := c.buildInsights(ev, settled)
	if len(insights) == 0 {
		log.Printf("[enrich] no insights for event %s (%s)", ev.ID, ev.Type)
		return nil
	}

	// Persist the group. A store failure here is an infrastructure fault:
	// surface it so the offset stays uncommitted and the message is retried.
	for _, in := range insights {
		if _, err := c.records.CreateInsight(ctx, in); err != nil {
			return fmt.Errorf("enrich: persist insight %s for event %s: %w", in.ID, ev.ID, err)
		}
	}

	// Publish each insight keyed by the triggering event id so per-event
	// insight order is preserved downstream.
	for _, in := range insights {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("enrich: marshal insight %s: %w", in.ID, err)
		}
		if err := c.producer.Publish(ctx, bus.TopicInsightsGenerated, []byte(in.EventID), payload); err != nil {
			metrics.PublishFailures.WithLabelValues(bus.TopicInsightsGenerated).Inc()
			return fmt.Errorf("enrich: publish insight %s: %w", in.ID, err)
		}
		metrics.InsightsGenerated.WithLabelValues(string(in.Type)).Inc()
	}

	c.cacheInsights(ctx, ev.ID, insights)
	log.Printf("[enrich] generated %d insight(s) for event %s", len(insights), ev.ID)
	return nil
}

// invokeAll runs the applicable capabilities concurrently and joins them.
// Each call is isolated: an internal failure degrades that capability to a
// neutral result and never aborts the others.
func (c *Consumer) invokeAll(ctx context.Context, ev model.AdmittedEvent, window []model.AdmittedEvent) []oracle.CapabilityResult {
	type slot struct {
		capability oracle.Capability
		window     []model.AdmittedEvent
	}

	slots := []slot{{oracle.CapabilityAnomaly, window}}
	if len(window) >= c.opts.TrendMinPoints {
		slots = append(slots, slot{oracle.CapabilityTrend, window})
	}
	if ev.Severity == model.SeverityHigh || ev.Severity == model.SeverityCritical {
		recent := window
		if len(recent) > c.opts.SummaryRecent {
			recent = recent[:c.opts.SummaryRecent]
		}
		slots = append(slots, slot{oracle.CapabilitySummary, recent})
	}

	results := make([]oracle.CapabilityResult, len(slots))
	var wg sync.WaitGroup
	for i, sl := range slots {
		wg.Add(1)
		go func(i int, sl slot) {
			defer wg.Done()
			results[i] = c.invokeOne(ctx, sl.capability, ev, sl.window)
		}(i, sl)
	}
	wg.Wait()
	return results
}

func (c *Consumer) invokeOne(ctx context.Context, capability oracle.Capability, ev model.AdmittedEvent, window []model.AdmittedEvent) oracle.CapabilityResult {
	if c.opts.OracleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.OracleTimeout)
		defer cancel()
	}
	res, err := c.oracle.Invoke(ctx, capability, ev, window)
	if err != nil {
		metrics.CapabilityDegraded.WithLabelValues(string(capability)).Inc()
		log.Printf("[enrich] capability %s degraded for event %s: %v", capability, ev.ID, err)
	}
	return oracle.Settle(capability, res, err)
}

// buildInsights turns settled capability results into insights. Degraded and
// empty results contribute nothing.
func (c *Consumer) buildInsights(ev model.AdmittedEvent, settled []oracle.CapabilityResult) []model.Insight {
	now := time.Now().UTC()
	var out []model.Insight
	for _, cr := range settled {
		if cr.Degraded || cr.Result.Empty() {
			continue
		}
		switch cr.Capability {
		case oracle.CapabilityAnomaly:
			a := cr.Result.Anomaly
			out = append(out, model.Insight{
				ID:             uuid.NewString(),
				EventID:        ev.ID,
				Type:           model.InsightAnomaly,
				Confidence:     a.Confidence,
				Title:          fmt.Sprintf("Anomaly detected in %s", ev.Type),
				Description:    a.Description,
				ProducingModel: c.oracle.Model(),
				Metadata: map[string]any{
					"severity":       a.Severity,
					"affectedEvents": a.AffectedEvents,
				},
				CreatedAt: now,
			})
		case oracle.CapabilityTrend:
			tr := cr.Result.Trend
			out = append(out, model.Insight{
				ID:             uuid.NewString(),
				EventID:        ev.ID,
				Type:           model.InsightTrend,
				Confidence:     tr.Confidence,
				Title:          fmt.Sprintf("Trend: %s activity", tr.Trend),
				Description:    tr.Description,
				ProducingModel: c.oracle.Model(),
				Metadata: map[string]any{
					"trend":      tr.Trend,
					"dataPoints": tr.DataPoints,
				},
				CreatedAt: now,
			})
		case oracle.CapabilitySummary:
			out = append(out, model.Insight{
				ID:             uuid.NewString(),
				EventID:        ev.ID,
				Type:           model.InsightSummary,
				Confidence:     0.9,
				Title:          "Event cluster summary",
				Description:    cr.Result.Summary,
				ProducingModel: c.oracle.Model(),
				CreatedAt:      now,
			})
		}
	}
	return out
}

// deadLetter routes the original payload, unmodified, to the dead-letter
// topic. A nil return acknowledges the poison message.
func (c *Consumer) deadLetter(ctx context.Context, msg bus.Inbound) error {
	if err := c.producer.Publish(ctx, bus.TopicEventsDLQ, msg.Key, msg.Value); err != nil {
		metrics.PublishFailures.WithLabelValues(bus.TopicEventsDLQ).Inc()
		return fmt.Errorf("enrich: dead-letter from %s: %w", msg.Topic, err)
	}
	metrics.DeadLettered.Inc()
	return nil
}

// cacheInsights stores the generated group in the shared cache, best
// effort.
func (c *Consumer) cacheInsights(ctx context.Context, eventID string, insights []model.Insight) {
	if c.cache == nil || c.opts.InsightCacheTTL <= 0 {
		return
	}
	if err := c.cache.SetJSON(ctx, counter.InsightCachePrefix+eventID, insights, c.opts.InsightCacheTTL); err != nil {
		log.Printf("[enrich] insight cache failed for %s: %v", eventID, err)
	}
}

func excludeEvent(window []model.AdmittedEvent, id string) []model.AdmittedEvent {
	out := window[:0]
	for _, ev := range window {
		if ev.ID != id {
			out = append(out, ev)
		}
	}
	return out
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
)

// Memory is an in-process RecordStore for tests and development runs.
type Memory struct {
	mu       sync.Mutex
	events   []model.AdmittedEvent
	insights []model.Insight

	// FailInsights makes CreateInsight return this error when set, so tests
	// can exercise the partial-persistence fault path.
	FailInsights error
}

// NewMemory builds an empty in-memory record store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) SaveEvent(_ context.Context, ev model.AdmittedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) QueryRecent(_ context.Context, eventType string, since time.Time, limit int) ([]model.AdmittedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AdmittedEvent
	for _, ev := range m.events {
		if ev.Type == eventType && !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateInsight(_ context.Context, in model.Insight) (model.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInsights != nil {
		return model.Insight{}, m.FailInsights
	}
	m.insights = append(m.insights, in)
	return in, nil
}

func (m *Memory) ListEvents(_ context.Context, offset, limit int) ([]model.EventWithInsights, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := make([]model.AdmittedEvent, len(m.events))
	copy(sorted, m.events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })
	total := int64(len(sorted))

	var page []model.AdmittedEvent
	if offset < len(sorted) {
		page = sorted[offset:]
		if limit > 0 && len(page) > limit {
			page = page[:limit]
		}
	}
	out := make([]model.EventWithInsights, 0, len(page))
	for _, ev := range page {
		insights := []model.Insight{}
		for _, in := range m.insights {
			if in.EventID == ev.ID {
				insights = append(insights, in)
			}
		}
		out = append(out, model.EventWithInsights{AdmittedEvent: ev, Insights: insights})
	}
	return out, total, nil
}

func (m *Memory) ListInsights(_ context.Context, insightType string, offset, limit int) ([]model.InsightWithEvent, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var filtered []model.Insight
	for _, in := range m.insights {
		if insightType == "" || string(in.Type) == insightType {
			filtered = append(filtered, in)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.After(filtered[j].CreatedAt) })
	total := int64(len(filtered))

	var page []model.Insight
	if offset < len(filtered) {
		page = filtered[offset:]
		if limit > 0 && len(page) > limit {
			page = page[:limit]
		}
	}
	out := make([]model.InsightWithEvent, 0, len(page))
	for _, in := range page {
		item := model.InsightWithEvent{Insight: in}
		for _, ev := range m.events {
			if ev.ID == in.EventID {
				evCopy := ev
				item.Event = &evCopy
				break
			}
		}
		out = append(out, item)
	}
	return out, total, nil
}

func (m *Memory) Dashboard(_ context.Context, since time.Time) (model.DashboardStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := model.DashboardStats{Timestamp: time.Now().UTC()}
	stats.TotalEvents = int64(len(m.events))

	type bucketKey struct {
		hour     time.Time
		severity model.Severity
	}
	buckets := map[bucketKey]int64{}
	for _, ev := range m.events {
		if ev.Timestamp.Before(since) {
			continue
		}
		stats.RecentEvents++
		if ev.Severity == model.SeverityCritical {
			stats.CriticalEvents++
		}
		buckets[bucketKey{ev.Timestamp.Truncate(time.Hour), ev.Severity}]++
	}
	for _, in := range m.insights {
		if in.Type == model.InsightAnomaly && !in.CreatedAt.Before(since) {
			stats.AnomalyCount++
		}
	}

	for k, n := range buckets {
		stats.EventTimeline = append(stats.EventTimeline, model.TimelineBucket{
			Hour: k.hour, Severity: k.severity, Count: n,
		})
	}
	sort.Slice(stats.EventTimeline, func(i, j int) bool {
		a, b := stats.EventTimeline[i], stats.EventTimeline[j]
		if !a.Hour.Equal(b.Hour) {
			return a.Hour.Before(b.Hour)
		}
		return a.Severity < b.Severity
	})
	return stats, nil
}

// Insights returns a copy of everything persisted so far.
func (m *Memory) Insights() []model.Insight {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Insight, len(m.insights))
	copy(out, m.insights)
	return out
}

// Events returns a copy of everything saved so far.
func (m *Memory) Events() []model.AdmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AdmittedEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Memory) Close() error { return nil }

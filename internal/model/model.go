package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies how urgent an event is. The summarization capability
// only fires for SeverityHigh and SeverityCritical events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// RawEvent is the shape producers submit to the ingestion gateway.
// It is never persisted or published directly; the gateway wraps it into an
// AdmittedEvent during admission.
type RawEvent struct {
	Type     string         `json:"type"`
	Source   string         `json:"source"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	UserID   string         `json:"userId,omitempty"`
}

// Validate checks the RawEvent shape. It returns a joined description of
// every violated field so clients can fix the payload in one round trip.
func (e RawEvent) Validate() error {
	var problems []string
	if strings.TrimSpace(e.Type) == "" {
		problems = append(problems, "type must be a non-empty string")
	}
	if strings.TrimSpace(e.Source) == "" {
		problems = append(problems, "source must be a non-empty string")
	}
	if !e.Severity.Valid() {
		problems = append(problems, fmt.Sprintf("severity %q is not one of low|medium|high|critical", e.Severity))
	}
	if strings.TrimSpace(e.Message) == "" {
		problems = append(problems, "message must be a non-empty string")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid event: %s", strings.Join(problems, "; "))
	}
	return nil
}

// AdmittedEvent is a RawEvent that passed validation and rate limiting.
// ID is gateway-assigned, globally unique and stable for the event's
// lifetime; once published the event is treated as immutable.
type AdmittedEvent struct {
	RawEvent

	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ValidatedAt time.Time `json:"validatedAt"`
}

// InsightType labels the kind of derived artifact an oracle capability
// produced.
type InsightType string

const (
	InsightAnomaly        InsightType = "anomaly"
	InsightTrend          InsightType = "trend"
	InsightSummary        InsightType = "summary"
	InsightRecommendation InsightType = "recommendation"
)

// Insight is a derived artifact built from exactly one capability result.
// EventID is a weak reference to the triggering AdmittedEvent; the event may
// be retained or pruned independently. Insights are created only by the
// enrichment consumer and never mutated after creation.
type Insight struct {
	ID             string         `json:"id"`
	EventID        string         `json:"eventId"`
	Type           InsightType    `json:"type"`
	Confidence     float64        `json:"confidence"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	ProducingModel string         `json:"producingModel"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// AnomalyResult is a transient oracle output; it is consumed to build zero
// or one anomaly Insight and never persisted as-is.
type AnomalyResult struct {
	IsAnomaly      bool     `json:"isAnomaly"`
	Confidence     float64  `json:"confidence"`
	Description    string   `json:"description"`
	Severity       Severity `json:"severity"`
	AffectedEvents []string `json:"affectedEvents"`
}

// Trend is the direction a trend analysis settled on.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendVolatile   Trend = "volatile"
)

// TrendPoint is one (timestamp, value) sample backing a TrendResult.
type TrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// TrendResult is a transient oracle output. A trend is only computed when
// the history window holds at least the configured minimum of samples.
type TrendResult struct {
	Trend       Trend        `json:"trend"`
	Confidence  float64      `json:"confidence"`
	Description string       `json:"description"`
	DataPoints  []TrendPoint `json:"dataPoints"`
}

// EventWithInsights is the read-API projection of an event joined with
// every insight derived from it.
type EventWithInsights struct {
	AdmittedEvent

	Insights []Insight `json:"insights"`
}

// InsightWithEvent is the read-API projection of an insight joined with its
// triggering event. Event is nil when the event has been pruned; the insight
// only holds a weak reference.
type InsightWithEvent struct {
	Insight

	Event *AdmittedEvent `json:"event,omitempty"`
}

// TimelineBucket is one (hour, severity) cell of the dashboard timeline.
type TimelineBucket struct {
	Hour     time.Time `json:"hour"`
	Severity Severity  `json:"severity"`
	Count    int64     `json:"count"`
}

// DashboardStats is the aggregate view behind the analytics dashboard:
// all-time totals plus activity over a trailing window, typically 24 hours.
type DashboardStats struct {
	TotalEvents    int64            `json:"totalEvents"`
	RecentEvents   int64            `json:"recentEvents"`
	CriticalEvents int64            `json:"criticalEvents"`
	AnomalyCount   int64            `json:"anomalyCount"`
	EventTimeline  []TimelineBucket `json:"eventTimeline"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Frame is the JSON envelope pushed to every realtime subscriber for each
// consumed bus message. Type carries the source topic name and Data the
// verbatim payload.
type Frame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricsSnapshot is a point-in-time read of the live counters maintained in
// the counter store. Counters are monotonic for their retention period;
// redelivery may over-count and that is a documented limitation.
type MetricsSnapshot struct {
	Total      int64             `json:"total"`
	ByType     map[string]string `json:"byType"`
	BySeverity map[string]string `json:"bySeverity"`
	BySource   map[string]string `json:"bySource,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

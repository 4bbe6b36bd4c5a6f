package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yashkuceriya/EventIQ-Platform/internal/bus"
	"github.com/yashkuceriya/EventIQ-Platform/internal/counter"
	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
	"github.com/yashkuceriya/EventIQ-Platform/internal/store"
)

// ---- registry and subscriber fakes ----

type recordingRegistry struct {
	mu     sync.Mutex
	frames []model.Frame
}

func (r *recordingRegistry) Register(Subscriber)   {}
func (r *recordingRegistry) Unregister(Subscriber) {}
func (r *recordingRegistry) Len() int              { return 0 }

func (r *recordingRegistry) Broadcast(f model.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recordingRegistry) all() []model.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Frame(nil), r.frames...)
}

type chanSubscriber struct {
	frames chan model.Frame
}

func (s *chanSubscriber) Send(f model.Frame) bool {
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// ---- hub ----

func TestHubBroadcastDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	fast := &chanSubscriber{frames: make(chan model.Frame, 4)}
	slow := &chanSubscriber{frames: make(chan model.Frame, 1)}
	h.Register(fast)
	h.Register(slow)
	if h.Len() != 2 {
		t.Fatalf("Len = %d, want 2", h.Len())
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			h.Broadcast(model.Frame{Type: bus.TopicEventsValidated})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber queue")
	}

	if got := len(fast.frames); got != 3 {
		t.Errorf("fast subscriber received %d frames, want 3", got)
	}
	if got := len(slow.frames); got != 1 {
		t.Errorf("slow subscriber holds %d frames, want 1 (rest dropped)", got)
	}

	h.Unregister(slow)
	if h.Len() != 1 {
		t.Errorf("Len after unregister = %d, want 1", h.Len())
	}
	// Unregistering twice is a no-op.
	h.Unregister(slow)
	if h.Len() != 1 {
		t.Errorf("Len after double unregister = %d, want 1", h.Len())
	}
}

func TestHubWebSocketDelivery(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return h.Len() == 1 })

	sent := model.Frame{
		Type:      bus.TopicInsightsGenerated,
		Data:      json.RawMessage(`{"id":"in-1"}`),
		Timestamp: time.Now().UTC(),
	}
	h.Broadcast(sent)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.Frame
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if got.Type != bus.TopicInsightsGenerated {
		t.Errorf("frame type = %q, want %q", got.Type, bus.TopicInsightsGenerated)
	}
	data, ok := got.Data.(map[string]any)
	if !ok || data["id"] != "in-1" {
		t.Errorf("frame data = %#v, want the verbatim payload", got.Data)
	}

	conn.Close()
	waitFor(t, func() bool { return h.Len() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// ---- consumer ----

func validatedEvent(t *testing.T, source string) []byte {
	t.Helper()
	payload, err := json.Marshal(model.AdmittedEvent{
		RawEvent: model.RawEvent{
			Type:     "login",
			Source:   source,
			Severity: model.SeverityLow,
			Message:  "m",
		},
		ID:        "ev-1",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func TestConsumerBroadcastsAndCountsValidatedEvents(t *testing.T) {
	reg := &recordingRegistry{}
	counters := counter.NewMemory()
	c := NewConsumer(reg, counters)

	payload := validatedEvent(t, "auth")
	msg := bus.Inbound{Topic: bus.TopicEventsValidated, Key: []byte("auth"), Value: payload}
	if err := c.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	frames := reg.all()
	if len(frames) != 1 {
		t.Fatalf("broadcast %d frames, want 1", len(frames))
	}
	if frames[0].Type != bus.TopicEventsValidated {
		t.Errorf("frame type = %q", frames[0].Type)
	}
	if string(frames[0].Data.(json.RawMessage)) != string(payload) {
		t.Error("frame data is not the verbatim payload")
	}

	bySource, err := counters.HGetAll(context.Background(), counter.MetricsBySourceKey)
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if bySource["auth"] != "1" {
		t.Errorf("by-source[auth] = %q, want 1", bySource["auth"])
	}
}

func TestConsumerDoesNotCountInsights(t *testing.T) {
	reg := &recordingRegistry{}
	counters := counter.NewMemory()
	c := NewConsumer(reg, counters)

	msg := bus.Inbound{Topic: bus.TopicInsightsGenerated, Key: []byte("ev-1"), Value: []byte(`{"id":"in-1"}`)}
	if err := c.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(reg.all()) != 1 {
		t.Fatal("insight message was not broadcast")
	}
	bySource, _ := counters.HGetAll(context.Background(), counter.MetricsBySourceKey)
	if len(bySource) != 0 {
		t.Errorf("by-source counters updated for an insight: %v", bySource)
	}
}

func TestConsumerSkipsNonJSONPayload(t *testing.T) {
	reg := &recordingRegistry{}
	c := NewConsumer(reg, counter.NewMemory())

	msg := bus.Inbound{Topic: bus.TopicEventsValidated, Value: []byte("not json")}
	if err := c.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(reg.all()) != 0 {
		t.Error("non-JSON payload was broadcast")
	}
}

func TestConsumerFallsBackToPartitionKey(t *testing.T) {
	counters := counter.NewMemory()
	c := NewConsumer(&recordingRegistry{}, counters)

	msg := bus.Inbound{Topic: bus.TopicEventsValidated, Key: []byte("payments"), Value: []byte(`{}`)}
	if err := c.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	bySource, _ := counters.HGetAll(context.Background(), counter.MetricsBySourceKey)
	if bySource["payments"] != "1" {
		t.Errorf("by-source[payments] = %q, want 1", bySource["payments"])
	}
}

// ---- http surface ----

func TestRealtimeMetricsEndpoint(t *testing.T) {
	counters := counter.NewMemory()
	ctx := context.Background()
	if err := counters.HIncrBy(ctx, counter.MetricsTotalKey, "count", 7); err != nil {
		t.Fatal(err)
	}
	if err := counters.HIncrBy(ctx, counter.MetricsBySourceKey, "auth", 3); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(NewHub(), counters, store.NewMemory())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/realtime", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap model.MetricsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Total != 7 {
		t.Errorf("total = %d, want 7", snap.Total)
	}
	if snap.BySource["auth"] != "3" {
		t.Errorf("bySource[auth] = %q, want 3", snap.BySource["auth"])
	}
}

func seedEvent(t *testing.T, records *store.Memory, id, source string, severity model.Severity, ts time.Time) {
	t.Helper()
	err := records.SaveEvent(context.Background(), model.AdmittedEvent{
		RawEvent: model.RawEvent{
			Type:     "login",
			Source:   source,
			Severity: severity,
			Message:  "m",
		},
		ID:          id,
		Timestamp:   ts,
		ValidatedAt: ts,
	})
	if err != nil {
		t.Fatalf("seed event %s: %v", id, err)
	}
}

func seedInsight(t *testing.T, records *store.Memory, id, eventID string, typ model.InsightType, ts time.Time) {
	t.Helper()
	_, err := records.CreateInsight(context.Background(), model.Insight{
		ID:             id,
		EventID:        eventID,
		Type:           typ,
		Confidence:     0.8,
		Title:          "t",
		Description:    "d",
		ProducingModel: "stat-v1",
		CreatedAt:      ts,
	})
	if err != nil {
		t.Fatalf("seed insight %s: %v", id, err)
	}
}

func TestListEventsPaginatesNewestFirst(t *testing.T) {
	records := store.NewMemory()
	now := time.Now().UTC()
	seedEvent(t, records, "ev-1", "auth", model.SeverityLow, now.Add(-2*time.Hour))
	seedEvent(t, records, "ev-2", "auth", model.SeverityLow, now.Add(-time.Hour))
	seedEvent(t, records, "ev-3", "auth", model.SeverityLow, now)
	seedInsight(t, records, "in-1", "ev-3", model.InsightAnomaly, now)

	srv := NewServer(NewHub(), counter.NewMemory(), records)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?page=1&limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Items   []model.EventWithInsights `json:"items"`
		Total   int64                     `json:"total"`
		Page    int                       `json:"page"`
		Limit   int                       `json:"limit"`
		HasNext bool                      `json:"hasNext"`
		HasPrev bool                      `json:"hasPrev"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode events page: %v", err)
	}
	if body.Total != 3 || body.Page != 1 || body.Limit != 2 {
		t.Errorf("page meta = total %d page %d limit %d", body.Total, body.Page, body.Limit)
	}
	if !body.HasNext || body.HasPrev {
		t.Errorf("hasNext = %v, hasPrev = %v", body.HasNext, body.HasPrev)
	}
	if len(body.Items) != 2 {
		t.Fatalf("page holds %d events, want 2", len(body.Items))
	}
	if body.Items[0].ID != "ev-3" || body.Items[1].ID != "ev-2" {
		t.Errorf("page order = [%s %s], want newest first", body.Items[0].ID, body.Items[1].ID)
	}
	if len(body.Items[0].Insights) != 1 || body.Items[0].Insights[0].ID != "in-1" {
		t.Errorf("ev-3 insights = %+v, want in-1 joined", body.Items[0].Insights)
	}
	if body.Items[1].Insights == nil || len(body.Items[1].Insights) != 0 {
		t.Errorf("ev-2 insights = %#v, want empty slice", body.Items[1].Insights)
	}
}

func TestListInsightsFiltersByType(t *testing.T) {
	records := store.NewMemory()
	now := time.Now().UTC()
	seedEvent(t, records, "ev-1", "auth", model.SeverityHigh, now)
	seedInsight(t, records, "in-1", "ev-1", model.InsightAnomaly, now.Add(-time.Minute))
	seedInsight(t, records, "in-2", "ev-1", model.InsightTrend, now)
	seedInsight(t, records, "in-3", "ev-gone", model.InsightAnomaly, now)

	srv := NewServer(NewHub(), counter.NewMemory(), records)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/insights?type=anomaly", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Items []model.InsightWithEvent `json:"items"`
		Total int64                    `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode insights page: %v", err)
	}
	if body.Total != 2 || len(body.Items) != 2 {
		t.Fatalf("got %d items, total %d, want 2 anomalies", len(body.Items), body.Total)
	}
	for _, item := range body.Items {
		if item.Type != model.InsightAnomaly {
			t.Errorf("insight %s has type %q after filtering", item.Insight.ID, item.Type)
		}
	}
	if body.Items[0].Insight.ID != "in-3" {
		t.Errorf("first insight = %s, want in-3 (newest first)", body.Items[0].Insight.ID)
	}
	if body.Items[0].Event != nil {
		t.Error("insight for a pruned event carried a non-nil event")
	}
	if body.Items[1].Event == nil || body.Items[1].Event.ID != "ev-1" {
		t.Errorf("in-1 event join = %+v, want ev-1", body.Items[1].Event)
	}
}

func TestDashboardTotalsAndTimeline(t *testing.T) {
	records := store.NewMemory()
	now := time.Now().UTC()
	seedEvent(t, records, "ev-old", "auth", model.SeverityCritical, now.Add(-48*time.Hour))
	seedEvent(t, records, "ev-1", "auth", model.SeverityCritical, now.Add(-time.Hour))
	seedEvent(t, records, "ev-2", "auth", model.SeverityLow, now)
	seedInsight(t, records, "in-1", "ev-1", model.InsightAnomaly, now)
	seedInsight(t, records, "in-2", "ev-1", model.InsightTrend, now)
	seedInsight(t, records, "in-old", "ev-old", model.InsightAnomaly, now.Add(-48*time.Hour))

	srv := NewServer(NewHub(), counter.NewMemory(), records)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/dashboard", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats model.DashboardStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if stats.TotalEvents != 3 {
		t.Errorf("totalEvents = %d, want 3 (all time)", stats.TotalEvents)
	}
	if stats.RecentEvents != 2 {
		t.Errorf("recentEvents = %d, want 2 (24h window)", stats.RecentEvents)
	}
	if stats.CriticalEvents != 1 {
		t.Errorf("criticalEvents = %d, want 1", stats.CriticalEvents)
	}
	if stats.AnomalyCount != 1 {
		t.Errorf("anomalyCount = %d, want 1", stats.AnomalyCount)
	}
	if len(stats.EventTimeline) != 2 {
		t.Fatalf("timeline holds %d buckets, want 2", len(stats.EventTimeline))
	}
	if !stats.EventTimeline[0].Hour.Before(stats.EventTimeline[1].Hour) {
		t.Error("timeline buckets are not in ascending hour order")
	}
	if stats.Timestamp.IsZero() {
		t.Error("dashboard timestamp is zero")
	}
}

func TestRealtimeHealthReportsSubscribers(t *testing.T) {
	hub := NewHub()
	hub.Register(&chanSubscriber{frames: make(chan model.Frame, 1)})
	srv := NewServer(hub, counter.NewMemory(), store.NewMemory())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status      string `json:"status"`
		Subscribers int    `json:"subscribers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "healthy" || body.Subscribers != 1 {
		t.Errorf("health = %+v", body)
	}
}

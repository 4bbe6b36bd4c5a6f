package aggregator

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yashkuceriya/EventIQ-Platform/internal/counter"
	"github.com/yashkuceriya/EventIQ-Platform/internal/metrics"
	"github.com/yashkuceriya/EventIQ-Platform/internal/store"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

// Server is the realtime HTTP surface: the WebSocket endpoint, the counter
// snapshot, and the read API over persisted events and insights.
type Server struct {
	hub      *Hub
	counters counter.Store
	records  store.RecordStore
}

// NewServer wires the realtime surface around a hub, the counter store and
// the record store.
func NewServer(hub *Hub, counters counter.Store, records store.RecordStore) *Server {
	return &Server{hub: hub, counters: counters, records: records}
}

// Router builds the realtime service's HTTP surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.hub.ServeWS)
	r.HandleFunc("/api/metrics/realtime", s.handleRealtimeMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/insights", s.handleListInsights).Methods(http.MethodGet)
	r.HandleFunc("/api/analytics/dashboard", s.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *Server) handleRealtimeMetrics(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/metrics/realtime", r.Method))
	defer timer.ObserveDuration()

	snap, err := counter.Snapshot(r.Context(), s.counters, true)
	if err != nil {
		log.Printf("[realtime] metrics snapshot failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to fetch metrics"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/events", r.Method))
	defer timer.ObserveDuration()

	page, limit := pageParams(r)
	items, total, err := s.records.ListEvents(r.Context(), (page-1)*limit, limit)
	if err != nil {
		log.Printf("[realtime] list events failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to fetch events"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":   items,
		"total":   total,
		"page":    page,
		"limit":   limit,
		"hasNext": int64(page*limit) < total,
		"hasPrev": page > 1,
	})
}

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/insights", r.Method))
	defer timer.ObserveDuration()

	page, limit := pageParams(r)
	items, total, err := s.records.ListInsights(r.Context(), r.URL.Query().Get("type"), (page-1)*limit, limit)
	if err != nil {
		log.Printf("[realtime] list insights failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to fetch insights"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/analytics/dashboard", r.Method))
	defer timer.ObserveDuration()

	since := time.Now().UTC().Add(-24 * time.Hour)
	stats, err := s.records.Dashboard(r.Context(), since)
	if err != nil {
		log.Printf("[realtime] dashboard query failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to fetch dashboard stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"service":     "realtime-aggregation",
		"subscribers": s.hub.Len(),
		"timestamp":   time.Now().UTC(),
	})
}

// pageParams reads page and limit from the query string, falling back to the
// defaults on anything missing or non-positive.
func pageParams(r *http.Request) (page, limit int) {
	page, limit = defaultPage, defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	return page, limit
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yashkuceriya/EventIQ-Platform/internal/metrics"
	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
)

const maxBodyBytes = 10 * 1024 * 1024

// Router builds the gateway's HTTP surface.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLog)
	r.HandleFunc("/events", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/events/batch", s.handleSubmitBatch).Methods(http.MethodPost)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/events", r.Method))
	defer timer.ObserveDuration()

	var raw model.RawEvent
	if err := decodeJSON(r, &raw); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Validation failed",
			"details": err.Error(),
		})
		return
	}

	ev, err := s.Submit(r.Context(), raw)
	if err != nil {
		respondRejection(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"success":   true,
		"message":   "Event queued for processing",
		"eventType": ev.Type,
		"source":    ev.Source,
	})
}

func (s *Service) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/events/batch", r.Method))
	defer timer.ObserveDuration()

	var body struct {
		Events []model.RawEvent `json:"events"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Invalid batch format",
			"details": err.Error(),
		})
		return
	}

	n, err := s.SubmitBatch(r.Context(), body.Events)
	if err != nil {
		respondRejection(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"success":   true,
		"processed": n,
	})
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/metrics", r.Method))
	defer timer.ObserveDuration()

	snap, err := s.Metrics(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to fetch metrics"})
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	counterStatus := "connected"
	if !s.Healthy(r.Context()) {
		counterStatus = "disconnected"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"service":   "event-ingestion",
		"counters":  counterStatus,
		"timestamp": time.Now().UTC(),
	})
}

// respondRejection maps admission errors onto the HTTP error contract:
// structured JSON bodies with a stable "error" field, no internals leaked.
func respondRejection(w http.ResponseWriter, err error) {
	var rej *Rejection
	if errors.As(err, &rej) {
		switch rej.Kind {
		case RejectRateLimited:
			respondJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":  "Rate limit exceeded",
				"limit":  rej.Limit,
				"window": windowLabel(rej.Window),
			})
		case RejectBatchTooBig:
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"error": "Batch size exceeds limit",
				"limit": rej.Limit,
			})
		case RejectBatchEmpty, RejectBatchInvalid:
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "Invalid batch format",
				"details": rej.Details,
			})
		default:
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "Validation failed",
				"details": rej.Details,
			})
		}
		return
	}

	// Infrastructure fault: surfaced for retry, never silently dropped.
	log.Printf("[gateway] admission failed: %v", err)
	respondJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
}

func decodeJSON(r *http.Request, dest any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// windowLabel renders a rate-limit window the way clients expect it in the
// 429 body, e.g. "1 minute".
func windowLabel(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}

// requestLog logs each request line the way the ingestion service always
// has.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[gateway] %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

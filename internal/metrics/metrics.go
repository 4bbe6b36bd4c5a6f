// Package metrics exports the pipeline's operational Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsAdmitted counts events accepted by the ingestion gateway.
	EventsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventiq_events_admitted_total",
		Help: "Total number of events admitted by the gateway",
	})

	// EventsRejected counts gateway rejections by reason.
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventiq_events_rejected_total",
		Help: "Total number of events rejected by the gateway",
	}, []string{"reason"})

	// PublishFailures counts bus writes that did not complete.
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventiq_publish_failures_total",
		Help: "Total number of failed bus publishes",
	}, []string{"topic"})

	// RequestDuration measures HTTP handler latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventiq_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"endpoint", "method"})

	// InsightsGenerated counts persisted insights by type.
	InsightsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventiq_insights_generated_total",
		Help: "Total number of insights generated",
	}, []string{"type"})

	// CapabilityDegraded counts enrichment capability calls that failed
	// internally and degraded to a neutral result.
	CapabilityDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventiq_capability_degraded_total",
		Help: "Total number of degraded enrichment capability invocations",
	}, []string{"capability"})

	// DeadLettered counts messages routed to the dead-letter topic.
	DeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventiq_dead_lettered_total",
		Help: "Total number of messages routed to the dead-letter topic",
	})

	// FramesBroadcast counts frames delivered to realtime subscribers.
	FramesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventiq_frames_broadcast_total",
		Help: "Total number of frames delivered to subscribers",
	})

	// FramesDropped counts frames dropped because a subscriber queue was full.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventiq_frames_dropped_total",
		Help: "Total number of frames dropped for slow subscribers",
	})

	// Subscribers tracks currently connected realtime subscribers.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventiq_realtime_subscribers",
		Help: "Number of currently connected realtime subscribers",
	})
)

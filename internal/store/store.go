// Package store holds the durable record store capability: canonical
// admitted events and the insights derived from them, queryable by type and
// time window.
package store

import (
	"context"
	"time"

	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
)

// RecordStore is the durable store contract the pipeline is written against.
type RecordStore interface {
	// SaveEvent persists one admitted event.
	SaveEvent(ctx context.Context, ev model.AdmittedEvent) error
	// QueryRecent returns up to limit events of the given type admitted at
	// or after since, newest first.
	QueryRecent(ctx context.Context, eventType string, since time.Time, limit int) ([]model.AdmittedEvent, error)
	// CreateInsight persists one insight and returns it as stored.
	CreateInsight(ctx context.Context, in model.Insight) (model.Insight, error)
	// ListEvents returns one page of events, newest first, each joined with
	// its insights, plus the total event count.
	ListEvents(ctx context.Context, offset, limit int) ([]model.EventWithInsights, int64, error)
	// ListInsights returns one page of insights, newest first, each joined
	// with its triggering event, plus the total count. An empty insightType
	// matches all types.
	ListInsights(ctx context.Context, insightType string, offset, limit int) ([]model.InsightWithEvent, int64, error)
	// Dashboard aggregates all-time and trailing-window activity: event
	// totals, critical events, anomaly insights and the hourly timeline
	// since the given time.
	Dashboard(ctx context.Context, since time.Time) (model.DashboardStats, error)
	Close() error
}

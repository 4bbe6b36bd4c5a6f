package counter

import (
	"context"
	"strconv"
	"time"

	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
)

// Snapshot reads the live metric counters into a MetricsSnapshot. Missing
// hashes read as empty; a snapshot is observability, never a failure path
// worth surfacing to event producers.
func Snapshot(ctx context.Context, store Store, includeSource bool) (model.MetricsSnapshot, error) {
	totalStr, err := store.HGet(ctx, MetricsTotalKey, MetricsTotalField)
	if err != nil {
		return model.MetricsSnapshot{}, err
	}
	total, _ := strconv.ParseInt(totalStr, 10, 64)

	byType, err := store.HGetAll(ctx, MetricsByTypeKey)
	if err != nil {
		return model.MetricsSnapshot{}, err
	}
	bySeverity, err := store.HGetAll(ctx, MetricsBySeverityKey)
	if err != nil {
		return model.MetricsSnapshot{}, err
	}

	snap := model.MetricsSnapshot{
		Total:      total,
		ByType:     byType,
		BySeverity: bySeverity,
		Timestamp:  time.Now().UTC(),
	}
	if includeSource {
		bySource, err := store.HGetAll(ctx, MetricsBySourceKey)
		if err != nil {
			return model.MetricsSnapshot{}, err
		}
		snap.BySource = bySource
	}
	return snap, nil
}

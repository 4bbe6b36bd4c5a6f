package oracle

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
)

const (
	// zScoreThreshold marks the latest activity bucket anomalous when its
	// event count deviates from the window mean by more than this many
	// standard deviations.
	zScoreThreshold = 2.0

	// bucketSize is the activity-rate bucket used for both anomaly scoring
	// and trend samples.
	bucketSize = time.Minute
)

// Stat is a local statistical oracle. It scores anomalies with a z-score
// over per-minute event counts, fits trends with a least-squares slope and
// renders summaries from the raw events. It needs no network and no model
// weights, which makes it the default oracle for deployments that have not
// wired an external one.
type Stat struct {
	model string
}

// NewStat builds the statistical oracle. The model name ends up in
// Insight.ProducingModel.
func NewStat(modelName string) *Stat {
	if modelName == "" {
		modelName = "stat-v1"
	}
	return &Stat{model: modelName}
}

func (s *Stat) Model() string { return s.model }

func (s *Stat) Invoke(ctx context.Context, capability Capability, event model.AdmittedEvent, window []model.AdmittedEvent) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	switch capability {
	case CapabilityAnomaly:
		return s.detectAnomaly(event, window), nil
	case CapabilityTrend:
		return s.analyzeTrend(event, window), nil
	case CapabilitySummary:
		return s.summarize(event, window), nil
	default:
		return Result{}, fmt.Errorf("oracle: unknown capability %q", capability)
	}
}

// ---------------------------- anomaly ----------------------------

func (s *Stat) detectAnomaly(event model.AdmittedEvent, window []model.AdmittedEvent) Result {
	buckets := bucketCounts(append([]model.AdmittedEvent{event}, window...))
	if len(buckets) < 3 {
		// Not enough history to call anything anomalous.
		return Result{Anomaly: &model.AnomalyResult{Severity: model.SeverityLow}}
	}

	latest := buckets[len(buckets)-1]
	history := buckets[:len(buckets)-1]

	mean, stddev := meanStddev(history)
	// A flat history has zero variance; floor the deviation at one event per
	// bucket so a burst over a quiet baseline still registers.
	if stddev < 1 {
		stddev = 1
	}
	z := (latest - mean) / stddev
	if math.Abs(z) <= zScoreThreshold {
		return Result{Anomaly: &model.AnomalyResult{Severity: model.SeverityLow}}
	}

	confidence := math.Min(1, math.Abs(z)/(2*zScoreThreshold))
	severity := model.SeverityMedium
	if math.Abs(z) > 2*zScoreThreshold {
		severity = model.SeverityHigh
	}
	if event.Severity == model.SeverityCritical {
		severity = model.SeverityCritical
	}

	affected := make([]string, 0, 8)
	cutoff := event.Timestamp.Truncate(bucketSize)
	for _, ev := range window {
		if !ev.Timestamp.Before(cutoff) {
			affected = append(affected, ev.ID)
		}
	}
	affected = append(affected, event.ID)

	return Result{Anomaly: &model.AnomalyResult{
		IsAnomaly:  true,
		Confidence: confidence,
		Description: fmt.Sprintf("event rate for %q spiked to %.0f/min against a mean of %.1f/min (z=%.2f)",
			event.Type, latest, mean, z),
		Severity:       severity,
		AffectedEvents: affected,
	}}
}

// ---------------------------- trend ----------------------------

func (s *Stat) analyzeTrend(event model.AdmittedEvent, window []model.AdmittedEvent) Result {
	if len(window) == 0 {
		return Result{}
	}

	points := make([]model.TrendPoint, 0, len(window))
	for _, ev := range window {
		points = append(points, model.TrendPoint{Timestamp: ev.Timestamp, Value: 1})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	counts := bucketCounts(window)
	slope, r2 := fitSlope(counts)
	mean, stddev := meanStddev(counts)

	var trend model.Trend
	switch {
	case mean > 0 && stddev/mean > 1:
		trend = model.TrendVolatile
	case slope > 0.1:
		trend = model.TrendIncreasing
	case slope < -0.1:
		trend = model.TrendDecreasing
	default:
		trend = model.TrendStable
	}

	confidence := 0.5
	if trend == model.TrendVolatile {
		confidence = 0.6
	} else if r2 > 0 {
		confidence = math.Min(1, 0.5+r2/2)
	}

	return Result{Trend: &model.TrendResult{
		Trend:      trend,
		Confidence: confidence,
		Description: fmt.Sprintf("%q activity is %s over the last %d events (slope %.2f/min)",
			event.Type, trend, len(window), slope),
		DataPoints: points,
	}}
}

// ---------------------------- summary ----------------------------

func (s *Stat) summarize(event model.AdmittedEvent, recents []model.AdmittedEvent) Result {
	bySeverity := map[model.Severity]int{}
	sources := map[string]struct{}{}
	all := append([]model.AdmittedEvent{event}, recents...)
	for _, ev := range all {
		bySeverity[ev.Severity]++
		sources[ev.Source] = struct{}{}
	}

	var sevParts []string
	for _, sev := range []model.Severity{model.SeverityCritical, model.SeverityHigh, model.SeverityMedium, model.SeverityLow} {
		if n := bySeverity[sev]; n > 0 {
			sevParts = append(sevParts, fmt.Sprintf("%d %s", n, sev))
		}
	}

	summary := fmt.Sprintf("%d %q events from %d source(s) (%s); latest: %s",
		len(all), event.Type, len(sources), strings.Join(sevParts, ", "), event.Message)
	return Result{Summary: summary}
}

// ---------------------------- helpers ----------------------------

// bucketCounts groups events into per-minute buckets and returns the counts
// ordered oldest to newest. Empty buckets between occupied ones count as
// zero so gaps lower the mean instead of disappearing.
func bucketCounts(events []model.AdmittedEvent) []float64 {
	if len(events) == 0 {
		return nil
	}
	counts := map[int64]float64{}
	minB, maxB := int64(math.MaxInt64), int64(math.MinInt64)
	for _, ev := range events {
		b := ev.Timestamp.Truncate(bucketSize).Unix()
		counts[b]++
		if b < minB {
			minB = b
		}
		if b > maxB {
			maxB = b
		}
	}
	step := int64(bucketSize / time.Second)
	out := make([]float64, 0, (maxB-minB)/step+1)
	for b := minB; b <= maxB; b += step {
		out = append(out, counts[b])
	}
	return out
}

func meanStddev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)-1))
}

// fitSlope fits y = a + b*x over the bucket index and returns the slope b
// (events per bucket) and the fit's R².
func fitSlope(ys []float64) (slope, r2 float64) {
	n := float64(len(ys))
	if n < 2 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, 0
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i, y := range ys {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		return slope, 0
	}
	return slope, 1 - ssRes/ssTot
}

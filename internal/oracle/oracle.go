// Package oracle defines the enrichment oracle capability: an externally
// supplied analyzer that turns an event plus its recent-history window into
// a capability-specific result. The pipeline only depends on the contract in
// this file; Stat is one implementation, an LLM-backed one would be another.
package oracle

import (
	"context"

	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
)

// Capability selects which analysis an Invoke call performs.
type Capability string

const (
	CapabilityAnomaly Capability = "anomaly"
	CapabilityTrend   Capability = "trend"
	CapabilitySummary Capability = "summary"
)

// Result carries the payload of a successful invocation. Exactly one field
// is populated, matching the requested capability; a capability that has
// nothing to report returns an empty Result with no error.
type Result struct {
	Anomaly *model.AnomalyResult
	Trend   *model.TrendResult
	Summary string
}

// Empty reports whether the result carries nothing an insight could be
// built from.
func (r Result) Empty() bool {
	if r.Anomaly != nil && r.Anomaly.IsAnomaly {
		return false
	}
	if r.Trend != nil {
		return false
	}
	return r.Summary == ""
}

// Oracle is the enrichment capability contract. Invoke must return within a
// bounded time or honor ctx cancellation; an error marks the invocation as
// failed and the caller degrades it to a neutral result.
type Oracle interface {
	// Model identifies the oracle variant, recorded on every insight it
	// produced.
	Model() string
	Invoke(ctx context.Context, capability Capability, event model.AdmittedEvent, window []model.AdmittedEvent) (Result, error)
}

// CapabilityResult is the explicit settled outcome of one capability call:
// either a success carrying a Result, or a degraded marker carrying the
// internal error. Degraded results never abort the surrounding message's
// processing; they just produce no insight.
type CapabilityResult struct {
	Capability Capability
	Result     Result
	Degraded   bool
	Err        error
}

// Settle wraps an Invoke outcome into a CapabilityResult.
func Settle(capability Capability, res Result, err error) CapabilityResult {
	if err != nil {
		return CapabilityResult{Capability: capability, Degraded: true, Err: err}
	}
	return CapabilityResult{Capability: capability, Result: res}
}

// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational visibility:
//   - dispatches/successes: total and successful tool calls
//   - vendor_calls:         outbound HTTP attempts
//   - rate_limited:         calls rejected by a window limiter
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	dispatches  atomic.Int64
	successes   atomic.Int64
	vendorCalls atomic.Int64
	rateLimited atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordDispatch records one dispatched tool call.
func (mc *MetricsCollector) RecordDispatch(success bool, _ time.Duration) {
	mc.dispatches.Add(1)
	if success {
		mc.successes.Add(1)
	}
}

// RecordVendorCall records one outbound HTTP attempt.
func (mc *MetricsCollector) RecordVendorCall() { mc.vendorCalls.Add(1) }

// RecordRateLimited records a call rejected by a self-imposed limiter.
func (mc *MetricsCollector) RecordRateLimited() { mc.rateLimited.Add(1) }

// Stats returns current metrics.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"dispatches":   mc.dispatches.Load(),
		"successes":    mc.successes.Load(),
		"vendor_calls": mc.vendorCalls.Load(),
		"rate_limited": mc.rateLimited.Load(),
	}
}

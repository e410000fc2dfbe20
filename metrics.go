package govern

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/govern/retry"
)

// Outcome is the result of an admitted call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "success"
	}
}

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    rejections *prometheus.CounterVec
//	    durations  *prometheus.HistogramVec
//	}
//
//	func (p *PrometheusCollector) RecordRejection(tool string, reason govern.Reason) {
//	    p.rejections.WithLabelValues(tool, string(reason)).Inc()
//	}
type MetricsCollector interface {
	// RecordAdmission is called when a call takes a slot.
	RecordAdmission(tool string)

	// RecordRejection is called when a call is refused before it starts.
	RecordRejection(tool string, reason Reason)

	// RecordRetry is called before each retry sleep.
	RecordRetry(tool string, a retry.Attempt)

	// RecordOutcome is called once per admitted call, after its slot is released.
	RecordOutcome(tool string, duration time.Duration, outcome Outcome)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdmission(string)                       {}
func (NoopMetricsCollector) RecordRejection(string, Reason)               {}
func (NoopMetricsCollector) RecordRetry(string, retry.Attempt)            {}
func (NoopMetricsCollector) RecordOutcome(string, time.Duration, Outcome) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	Admissions         atomic.Int64
	RejectedCapacity   atomic.Int64
	RejectedRateLimit  atomic.Int64
	RejectedCircuit    atomic.Int64
	Retries            atomic.Int64
	Successes          atomic.Int64
	Failures           atomic.Int64
	Timeouts           atomic.Int64
	CompletedTotalNano atomic.Int64
}

// RecordAdmission implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdmission(string) {
	b.Admissions.Add(1)
}

// RecordRejection implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRejection(_ string, reason Reason) {
	switch reason {
	case RateLimited:
		b.RejectedRateLimit.Add(1)
	case CircuitOpen:
		b.RejectedCircuit.Add(1)
	default:
		b.RejectedCapacity.Add(1)
	}
}

// RecordRetry implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRetry(string, retry.Attempt) {
	b.Retries.Add(1)
}

// RecordOutcome implements MetricsCollector. Timeouts count as failures too.
func (b *BasicMetricsCollector) RecordOutcome(_ string, duration time.Duration, outcome Outcome) {
	b.CompletedTotalNano.Add(duration.Nanoseconds())
	switch outcome {
	case OutcomeSuccess:
		b.Successes.Add(1)
	case OutcomeTimeout:
		b.Timeouts.Add(1)
		b.Failures.Add(1)
	default:
		b.Failures.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		Admissions:        b.Admissions.Load(),
		RejectedCapacity:  b.RejectedCapacity.Load(),
		RejectedRateLimit: b.RejectedRateLimit.Load(),
		RejectedCircuit:   b.RejectedCircuit.Load(),
		Retries:           b.Retries.Load(),
		Successes:         b.Successes.Load(),
		Failures:          b.Failures.Load(),
		Timeouts:          b.Timeouts.Load(),
		AvgDurationNanos:  b.getAvgDurationNanos(),
	}
}

func (b *BasicMetricsCollector) getAvgDurationNanos() int64 {
	count := b.Successes.Load() + b.Failures.Load()
	if count == 0 {
		return 0
	}
	return b.CompletedTotalNano.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	Admissions        int64 `json:"admissions"`
	RejectedCapacity  int64 `json:"rejectedCapacity"`
	RejectedRateLimit int64 `json:"rejectedRateLimit"`
	RejectedCircuit   int64 `json:"rejectedCircuit"`
	Retries           int64 `json:"retries"`
	Successes         int64 `json:"successes"`
	Failures          int64 `json:"failures"`
	Timeouts          int64 `json:"timeouts"`
	AvgDurationNanos  int64 `json:"avgDurationNanos"`
}

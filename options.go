package govern

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/govern/breaker"
	"github.com/hupe1980/govern/metrics"
	"github.com/hupe1980/govern/policy"
	"github.com/hupe1980/govern/resource"
	"github.com/hupe1980/govern/retry"
)

type options struct {
	policy           policy.Policy
	state            *resource.State
	sampler          resource.Sampler
	history          *metrics.History
	breaker          *breaker.Breaker
	metricsCollector MetricsCollector
	logger           *Logger
	tracerProvider   trace.TracerProvider
	backoff          retry.Backoff
	retryOptions     []retry.Option
	now              func() time.Time
}

// Option configures a Governor.
type Option func(*options)

// WithPolicy sets the governance policy. The Governor keeps its own copy.
func WithPolicy(p policy.Policy) Option {
	return func(o *options) {
		o.policy = p.Clone()
	}
}

// WithState shares an existing resource state instead of creating one from
// the policy.
func WithState(s *resource.State) Option {
	return func(o *options) {
		o.state = s
	}
}

// WithSampler sets the memory sampler used when the Governor creates its
// resource state.
func WithSampler(s resource.Sampler) Option {
	return func(o *options) {
		o.sampler = s
	}
}

// WithHistory sets the metrics history. Defaults to
// metrics.NewHistory(metrics.DefaultCapacity).
func WithHistory(h *metrics.History) Option {
	return func(o *options) {
		o.history = h
	}
}

// WithBreaker replaces the circuit breaker built from the policy.
func WithBreaker(b *breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = b
	}
}

// WithMetricsCollector sets the metrics collector.
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger sets the logger. If nil is passed, NoopLogger is used.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithTracerProvider sets the OpenTelemetry provider for governed spans.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithBackoff replaces the linear backoff derived from policy.RetryDelay.
func WithBackoff(b retry.Backoff) Option {
	return func(o *options) {
		o.backoff = b
	}
}

// WithRetryOptions appends options passed to every retry.Do call, e.g.
// retry.WithEvents to observe attempts.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) {
		o.retryOptions = append(o.retryOptions, opts...)
	}
}

// WithClock overrides time.Now for durations, record timestamps, the rate
// limiter and the circuit breaker.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

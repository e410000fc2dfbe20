package govern

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/govern/breaker"
	"github.com/hupe1980/govern/deadline"
	"github.com/hupe1980/govern/internal/tracing"
	"github.com/hupe1980/govern/metrics"
	"github.com/hupe1980/govern/policy"
	"github.com/hupe1980/govern/resource"
	"github.com/hupe1980/govern/retry"
)

// Handler is a unit of conversion work.
type Handler[In, Out any] func(ctx context.Context, in In) (Out, error)

// Job describes how a handler is governed.
type Job[In any] struct {
	// Tool names the conversion in logs, metrics and the circuit breaker.
	Tool string

	// Category selects the timeout and the category concurrency limit.
	Category policy.Category

	// Timeout overrides the category timeout when > 0.
	Timeout time.Duration

	// SizeOf optionally reports the input size for the job record. It must
	// not consume the input. Errors and panics are ignored.
	SizeOf func(In) (int64, error)
}

// Governor is the process-wide admission and accounting service.
// It is safe for concurrent use.
type Governor struct {
	policy  policy.Policy
	state   *resource.State
	history *metrics.History
	breaker *breaker.Breaker
	limiter *rate.Limiter
	slots   map[policy.Category]*semaphore.Weighted

	logger    *Logger
	collector MetricsCollector
	tracer    *tracing.Tracer

	backoff      retry.Backoff
	retryOptions []retry.Option
	now          func() time.Time
}

// New creates a Governor. Without options it uses policy.Default.
func New(optFns ...Option) (*Governor, error) {
	o := options{
		policy:           policy.Default(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		now:              time.Now,
	}
	for _, fn := range optFns {
		fn(&o)
	}

	if err := o.policy.Validate(); err != nil {
		return nil, err
	}
	p := o.policy

	if o.state == nil {
		o.state = resource.NewState(resource.Config{
			MaxConcurrent:     p.MaxConcurrent,
			MaxMemoryMB:       p.MaxMemoryMB,
			MaxMemoryFraction: p.MaxMemoryFraction,
			Sampler:           o.sampler,
		})
	}
	if o.history == nil {
		o.history = metrics.NewHistory(metrics.DefaultCapacity)
	}
	if o.breaker == nil {
		o.breaker = breaker.New(breaker.Config{
			Threshold:    p.Breaker.Threshold,
			ResetTimeout: p.Breaker.ResetTimeout,
			Now:          o.now,
		})
	}
	if o.backoff == nil {
		o.backoff = retry.Linear{Base: p.RetryDelay}
	}

	var limiter *rate.Limiter
	if rpm := p.RateLimit.RequestsPerMinute; rpm > 0 {
		burst := p.RateLimit.Burst
		if burst <= 0 {
			burst = rpm
		}
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60), burst)
	}

	slots := make(map[policy.Category]*semaphore.Weighted)
	for c, n := range p.CategoryLimits {
		if n > 0 {
			slots[c] = semaphore.NewWeighted(int64(n))
		}
	}

	return &Governor{
		policy:       p,
		state:        o.state,
		history:      o.history,
		breaker:      o.breaker,
		limiter:      limiter,
		slots:        slots,
		logger:       o.logger,
		collector:    o.metricsCollector,
		tracer:       tracing.New(o.tracerProvider),
		backoff:      o.backoff,
		retryOptions: o.retryOptions,
		now:          o.now,
	}, nil
}

// Govern wraps h so that every call goes through g.
//
// The returned handler fails with a *RejectionError when the call is not
// admitted and with a *FailureError when an admitted call fails. On success
// it returns the output of h unmodified.
func Govern[In, Out any](g *Governor, h Handler[In, Out], job Job[In]) Handler[In, Out] {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = g.policy.Timeout(job.Category)
	}

	return func(ctx context.Context, in In) (out Out, err error) {
		ctx, span := g.tracer.Start(ctx, "govern "+job.Tool, trace.SpanKindInternal)
		span.WithAttributes(map[string]string{
			"tool":     job.Tool,
			"category": string(job.Category),
		})
		defer func() { span.End(err) }()

		t, err := g.admit(ctx, job.Tool, job.Category)
		if err != nil {
			return out, err
		}

		var report retry.Report
		t.size = sizeOf(job.SizeOf, in)
		defer func() { err = g.finish(ctx, t, span, report, err) }()

		g.logger.LogStart(ctx, job.Tool, t.id, t.size)

		out, report, err = retry.Do(ctx, func(ctx context.Context) (Out, error) {
			return deadline.Run(ctx, timeout, func(ctx context.Context) (Out, error) {
				return h(ctx, in)
			})
		}, g.retryOpts(ctx, job.Tool, span)...)
		return out, err
	}
}

// ticket is an admitted call holding a global slot and, if the category is
// limited, a category slot.
type ticket struct {
	id       string
	tool     string
	category policy.Category
	slot     *semaphore.Weighted
	start    time.Time
	size     int64
}

func (g *Governor) admit(ctx context.Context, tool string, category policy.Category) (*ticket, error) {
	now := g.now()

	if g.limiter != nil && !g.limiter.AllowN(now, 1) {
		r := g.limiter.ReserveN(now, 1)
		wait := r.DelayFrom(now)
		r.CancelAt(now)
		return nil, g.reject(ctx, &RejectionError{Reason: RateLimited, Tool: tool, RetryAfter: wait})
	}

	if ok, wait := g.breaker.Allow(tool); !ok {
		if wait <= 0 {
			wait = g.policy.RetryAfter
		}
		return nil, g.reject(ctx, &RejectionError{Reason: CircuitOpen, Tool: tool, RetryAfter: wait})
	}

	if err := g.state.TryStart(); err != nil {
		g.breaker.Cancel(tool)
		return nil, g.reject(ctx, &RejectionError{
			Reason:     CapacityExceeded,
			Tool:       tool,
			RetryAfter: g.policy.RetryAfter,
			cause:      err,
		})
	}

	slot := g.slots[category]
	if slot != nil && !slot.TryAcquire(1) {
		g.breaker.Cancel(tool)
		g.end(ctx, tool)
		return nil, g.reject(ctx, &RejectionError{
			Reason:     CapacityExceeded,
			Tool:       tool,
			RetryAfter: g.policy.RetryAfter,
			cause:      fmt.Errorf("%w: %s", ErrCategoryBusy, category),
		})
	}

	g.collector.RecordAdmission(tool)
	return &ticket{
		id:       uuid.NewString(),
		tool:     tool,
		category: category,
		slot:     slot,
		start:    now,
	}, nil
}

func (g *Governor) reject(ctx context.Context, rej *RejectionError) error {
	g.logger.LogRejection(ctx, rej)
	g.collector.RecordRejection(rej.Tool, rej.Reason)
	return rej
}

func (g *Governor) end(ctx context.Context, tool string) {
	if err := g.state.End(); err != nil {
		g.logger.LogOverRelease(ctx, tool, err)
	}
}

// finish releases the slots of t, records the job and converts err into a
// *FailureError.
func (g *Governor) finish(ctx context.Context, t *ticket, span *tracing.Span, report retry.Report, err error) error {
	if t.slot != nil {
		t.slot.Release(1)
	}
	g.end(ctx, t.tool)

	now := g.now()
	elapsed := now.Sub(t.start)
	rec := metrics.JobRecord{
		ID:         t.id,
		Tool:       t.tool,
		Success:    err == nil,
		DurationMs: elapsed.Milliseconds(),
		FileSize:   t.size,
		Timestamp:  now,
	}

	span.SetInt("executions", int64(report.Executions))
	g.logger.LogOutcome(ctx, t.tool, t.id, elapsed, err)

	if err == nil {
		g.breaker.Success(t.tool)
		g.history.Record(rec)
		g.collector.RecordOutcome(t.tool, elapsed, OutcomeSuccess)
		return nil
	}

	fe := newFailureError(t.tool, err, report.Executions)
	rec.Error = fe.Message
	g.history.Record(rec)

	if fe.Class == retry.ClassRetryable {
		if g.breaker.Failure(t.tool) {
			g.logger.LogCircuitOpened(ctx, t.tool, g.policy.Breaker.ResetTimeout)
		}
	} else {
		g.breaker.Cancel(t.tool)
	}

	outcome := OutcomeFailure
	if errors.Is(err, deadline.ErrTimeout) {
		outcome = OutcomeTimeout
	}
	g.collector.RecordOutcome(t.tool, elapsed, outcome)
	return fe
}

func (g *Governor) retryOpts(ctx context.Context, tool string, span *tracing.Span) []retry.Option {
	opts := []retry.Option{
		retry.WithMaxRetries(g.policy.MaxRetries),
		retry.WithBackoff(g.backoff),
		retry.WithOnAttempt(func(a retry.Attempt) {
			g.logger.LogRetry(ctx, tool, a)
			g.collector.RecordRetry(tool, a)
			span.AddEvent("retry", map[string]string{
				"attempt": fmt.Sprint(a.Number),
				"delay":   a.Delay.String(),
			})
		}),
	}
	return append(opts, g.retryOptions...)
}

func sizeOf[In any](fn func(In) (int64, error), in In) (n int64) {
	if fn == nil {
		return 0
	}
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	n, err := fn(in)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Policy returns a copy of the policy in effect.
func (g *Governor) Policy() policy.Policy {
	return g.policy.Clone()
}

// State returns the shared resource state.
func (g *Governor) State() *resource.State {
	return g.state
}

// History returns the metrics history.
func (g *Governor) History() *metrics.History {
	return g.history
}

// Logger returns the logger used by g.
func (g *Governor) Logger() *Logger {
	return g.logger
}

// ResourceStats returns a snapshot of the resource state.
func (g *Governor) ResourceStats() resource.Stats {
	return g.state.Stats()
}

// ToolStats returns the stats of one tool; an empty tool aggregates all.
func (g *Governor) ToolStats(tool string) metrics.Stats {
	return g.history.Stats(tool)
}

// AllToolStats returns per-tool stats in first-seen order.
func (g *Governor) AllToolStats() []metrics.ToolStats {
	return g.history.AllToolStats()
}

// RecentErrors returns up to limit recent failures, most recent last.
func (g *Governor) RecentErrors(limit int) []metrics.ErrorEntry {
	return g.history.RecentErrors(limit)
}

// CircuitStates returns the breaker state of every tool seen so far.
func (g *Governor) CircuitStates() map[string]breaker.State {
	return g.breaker.States()
}

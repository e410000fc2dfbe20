package retry

import (
	"context"
	"fmt"
	"time"
)

// Defaults used when no option overrides them.
const (
	DefaultMaxRetries = 2
	DefaultDelay      = time.Second
)

// Attempt describes a failed execution that is followed by a retry.
type Attempt struct {
	// Number is the retry number, starting at 1.
	Number int
	Err    error
	// Delay is the backoff waited before the retry.
	Delay time.Duration
}

// Report is the attempt history of a Do call.
type Report struct {
	Attempts   []Attempt
	Executions int
	// Err is the terminal error, nil on success.
	Err error
}

type options struct {
	maxRetries int
	backoff    Backoff
	classifier Classifier
	onAttempt  func(Attempt)
	events     chan<- Attempt
	sleep      func(context.Context, time.Duration) error
}

// Option configures Do.
type Option func(*options)

// WithMaxRetries sets the number of retries after the first execution.
// Negative values are treated as 0.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxRetries = n
	}
}

// WithBackoff sets the delay strategy. Nil keeps the default Linear backoff.
func WithBackoff(b Backoff) Option {
	return func(o *options) {
		if b != nil {
			o.backoff = b
		}
	}
}

// WithClassifier replaces Classify.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithOnAttempt registers a hook called before each retry sleep. The hook
// observes; it cannot change the control flow.
func WithOnAttempt(fn func(Attempt)) Option {
	return func(o *options) {
		o.onAttempt = fn
	}
}

// WithEvents publishes every Attempt on ch. Sends never block: events are
// dropped when ch is full.
func WithEvents(ch chan<- Attempt) Option {
	return func(o *options) {
		o.events = ch
	}
}

// WithSleep replaces the context-aware sleep, mainly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// Do runs op until it succeeds, fails permanently or the retry budget is
// spent. It executes op at most maxRetries+1 times and returns either the
// first success or the most recent error, unwrapped.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts ...Option) (T, Report, error) {
	o := options{
		maxRetries: DefaultMaxRetries,
		backoff:    Linear{Base: DefaultDelay},
		classifier: Classify,
		sleep:      sleepWithContext,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		zero   T
		report Report
	)

	for attempt := 0; ; attempt++ {
		out, err := op(ctx)
		report.Executions++
		if err == nil {
			return out, report, nil
		}

		if o.classifier(err) == ClassPermanent || attempt == o.maxRetries {
			report.Err = err
			return zero, report, err
		}

		a := Attempt{
			Number: attempt + 1,
			Err:    err,
			Delay:  o.backoff.Delay(attempt + 1),
		}
		report.Attempts = append(report.Attempts, a)
		if o.onAttempt != nil {
			o.onAttempt(a)
		}
		if o.events != nil {
			select {
			case o.events <- a:
			default:
			}
		}

		if sErr := o.sleep(ctx, a.Delay); sErr != nil {
			report.Err = fmt.Errorf("%w (retry aborted: %w)", err, sErr)
			return zero, report, report.Err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

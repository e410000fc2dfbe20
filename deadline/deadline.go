// Package deadline races an operation against a timeout.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the operation does not settle in time. Its
// text contains "timeout" so that it classifies as retryable.
var ErrTimeout = errors.New("conversion timeout")

type result[T any] struct {
	out T
	err error
}

// Run executes op and waits at most timeout for it. The context passed to op
// is cancelled when the deadline fires or Run returns, so cooperative
// operations stop early. An operation that ignores its context keeps running
// in the background after Run has returned ErrTimeout; its late result is
// discarded.
//
// A non-positive timeout disables the deadline. Panics in op are recovered
// and returned as errors.
func Run[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so the goroutine can always deliver and exit
	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		out, err := op(runCtx)
		done <- result[T]{out: out, err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-done:
		return r.out, r.err
	case <-expired:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

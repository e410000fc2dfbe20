// Package govern is the production governor of a file-conversion service.
//
// It wraps a unit of conversion work with admission control, bounded
// concurrency, retries with backoff, a per-attempt deadline, error
// classification and an in-memory metrics history.
//
// # Quick Start
//
//	g, _ := govern.New(govern.WithLogger(govern.NewJSONLogger(slog.LevelInfo)))
//
//	convert := govern.Govern(g, pdfToText, govern.Job[*os.File]{
//	    Tool:     "pdf-to-text",
//	    Category: policy.CategoryPDF,
//	})
//
//	out, err := convert(ctx, file)
//
// # Outcomes
//
// A governed call ends in one of three ways:
//
//   - Rejected: a *RejectionError (capacity, rate limit or open circuit) with
//     a retry-after hint. Nothing was started and nothing is recorded.
//   - Succeeded: the handler's output, unmodified.
//   - Failed: a *FailureError carrying a user-safe message and an HTTP status.
//     The raw cause is logged and reachable through errors.Unwrap.
//
// Every admitted call releases its slot exactly once and appends one
// metrics.JobRecord to the history, including on timeout.
//
// # Pipeline
//
//	rate limiter -> circuit breaker -> resource.State.TryStart -> category slot
//	    -> retry.Do(deadline.Run(handler)) -> release -> metrics.History.Record
//
// The deadline applies to each attempt. Its context is cancelled when it
// fires; handlers that ignore their context keep running in the background
// after the slot has been released.
package govern

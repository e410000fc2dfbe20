// Package retry runs operations under a bounded retry budget.
//
// Failures are classified as Retryable or Permanent. Permanent failures stop
// immediately; Retryable ones are attempted again after a backoff delay until
// the budget is spent:
//
//	out, report, err := retry.Do(ctx, convert,
//	    retry.WithMaxRetries(2),
//	    retry.WithBackoff(retry.Linear{Base: time.Second}),
//	)
//
// report.Attempts lists every failed attempt that was followed by a retry.
//
// # Classification
//
// Classify matches the lowercased error text against a fixed rule table
// (first match wins, unknown errors are Retryable). Callers that already know
// the nature of a failure wrap it with Permanent or Retryable, which takes
// precedence over the table.
package retry

// Package policy holds the immutable governance configuration of a conversion
// service: concurrency and memory ceilings, per-category timeouts, retry
// budget, request rate and circuit breaker thresholds.
//
// A Policy is loaded once at startup and never changed afterwards:
//
//	p, err := policy.Load("governor.yaml")
//	if err != nil {
//	    return err
//	}
//	g, err := govern.New(govern.WithPolicy(p))
//
// Durations in YAML use Go duration syntax ("90s", "2m"). Fields left out of
// the file keep the values of Default.
package policy

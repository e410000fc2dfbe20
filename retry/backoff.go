package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before retry number n (n starts at 1).
type Backoff interface {
	Delay(n int) time.Duration
}

// BackoffFunc adapts a function to Backoff.
type BackoffFunc func(n int) time.Duration

// Delay implements Backoff.
func (f BackoffFunc) Delay(n int) time.Duration { return f(n) }

// Constant waits the same delay before every retry.
type Constant time.Duration

// Delay implements Backoff.
func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// Linear waits Base * n.
type Linear struct {
	Base time.Duration
}

// Delay implements Backoff.
func (l Linear) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return l.Base * time.Duration(n)
}

// Exponential waits Base * Multiplier^(n-1), capped at Max when Max > 0.
type Exponential struct {
	Base       time.Duration
	Multiplier float64 // defaults to 2
	Max        time.Duration
}

// Delay implements Backoff.
func (e Exponential) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := e.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := float64(e.Base) * math.Pow(mult, float64(n-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Jitter spreads the delay of Backoff by +/- Fraction.
type Jitter struct {
	Backoff  Backoff
	Fraction float64 // clamped to [0,1]

	// Rand returns a value in [0,1). Defaults to math/rand/v2.
	Rand func() float64
}

// Delay implements Backoff.
func (j Jitter) Delay(n int) time.Duration {
	base := j.Backoff.Delay(n)
	f := math.Min(math.Max(j.Fraction, 0), 1)
	if base <= 0 || f == 0 {
		return base
	}
	rnd := j.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	spread := float64(base) * f
	return time.Duration(float64(base) - spread + 2*spread*rnd())
}

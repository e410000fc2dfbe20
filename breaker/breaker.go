// Package breaker implements a keyed circuit breaker.
//
// Each key (a conversion tool) has its own circuit:
//
//	Closed --threshold consecutive failures--> Open
//	Open --reset timeout elapsed--> HalfOpen (one probe admitted)
//	HalfOpen --probe succeeds--> Closed
//	HalfOpen --probe fails--> Open
//
// A Breaker with a non-positive threshold, or a nil *Breaker, never opens.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State of a circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// MarshalText renders the state name in JSON reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = Closed
	case "open":
		*s = Open
	case "half-open":
		*s = HalfOpen
	default:
		return fmt.Errorf("breaker: unknown state %q", text)
	}
	return nil
}

// Config configures a Breaker.
type Config struct {
	// Threshold is the number of consecutive failures that opens a circuit.
	Threshold int

	// ResetTimeout is how long a circuit stays open before a probe.
	ResetTimeout time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// Breaker tracks one circuit per key. Safe for concurrent use.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New creates a new Breaker.
func New(cfg Config) *Breaker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		cfg:      cfg,
		circuits: make(map[string]*circuit),
	}
}

func (b *Breaker) enabled() bool {
	return b != nil && b.cfg.Threshold > 0
}

func (b *Breaker) get(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	return c
}

// Allow reports whether a call for key may proceed. When it may not,
// retryAfter is the remaining cooldown (0 while a probe is in flight).
// An allowed call in HalfOpen is the probe: the caller must report its
// outcome with Success, Failure or Cancel.
func (b *Breaker) Allow(key string) (ok bool, retryAfter time.Duration) {
	if !b.enabled() {
		return true, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	switch c.state {
	case Open:
		elapsed := b.cfg.Now().Sub(c.openedAt)
		if elapsed < b.cfg.ResetTimeout {
			return false, b.cfg.ResetTimeout - elapsed
		}
		c.state = HalfOpen
		c.probing = true
		return true, 0
	case HalfOpen:
		if c.probing {
			return false, 0
		}
		c.probing = true
		return true, 0
	default:
		return true, 0
	}
}

// Success closes the circuit of key.
func (b *Breaker) Success(key string) {
	if !b.enabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	c.state = Closed
	c.failures = 0
	c.probing = false
}

// Failure counts a failure for key and reports whether the circuit is open
// afterwards.
func (b *Breaker) Failure(key string) (opened bool) {
	if !b.enabled() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	c.failures++
	if c.state == HalfOpen || c.failures >= b.cfg.Threshold {
		c.state = Open
		c.openedAt = b.cfg.Now()
		c.probing = false
		return true
	}
	return false
}

// Cancel gives back a HalfOpen probe that was admitted by Allow but never ran.
func (b *Breaker) Cancel(key string) {
	if !b.enabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		c.probing = false
	}
}

// State returns the state of key without transitioning it.
func (b *Breaker) State(key string) State {
	if !b.enabled() {
		return Closed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return Closed
}

// States returns the state of every known key.
func (b *Breaker) States() map[string]State {
	out := make(map[string]State)
	if !b.enabled() {
		return out
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, c := range b.circuits {
		out[k] = c.state
	}
	return out
}

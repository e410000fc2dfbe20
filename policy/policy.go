package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPolicy is returned by Validate for out-of-range settings.
var ErrInvalidPolicy = errors.New("invalid policy")

// Category groups conversion tools that share a timeout and a concurrency limit.
type Category string

const (
	CategoryPDF     Category = "pdf"
	CategoryImage   Category = "image"
	CategoryVideo   Category = "video"
	CategoryAudio   Category = "audio"
	CategoryArchive Category = "archive"
	CategoryText    Category = "text"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryPDF,
	CategoryImage,
	CategoryVideo,
	CategoryAudio,
	CategoryArchive,
	CategoryText,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts s (case-insensitive) to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidPolicy, s)
	}
	return c, nil
}

// FallbackTimeout applies to categories without a configured timeout.
const FallbackTimeout = 2 * time.Minute

// RateLimit bounds the global request rate. Zero disables the limiter.
type RateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	// Burst defaults to RequestsPerMinute when zero.
	Burst int `json:"burst" yaml:"burst"`
}

// Breaker configures the per-tool circuit breaker. A zero Threshold disables it.
type Breaker struct {
	Threshold    int           `json:"threshold" yaml:"threshold"`
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout"`
}

// Policy is the governance configuration. Treat it as read-only after load;
// consumers keep their own Clone.
type Policy struct {
	// MaxConcurrent is the global ceiling of conversions in flight.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`

	// MaxMemoryMB is the memory budget of the process. New work is rejected
	// once heap usage reaches MaxMemoryFraction of it.
	MaxMemoryMB       int64   `json:"max_memory_mb" yaml:"max_memory_mb"`
	MaxMemoryFraction float64 `json:"max_memory_fraction" yaml:"max_memory_fraction"`

	// MaxTempMB is reported alongside temp usage; it is not enforced.
	MaxTempMB int64 `json:"max_temp_mb" yaml:"max_temp_mb"`

	Timeouts       map[Category]time.Duration `json:"timeouts" yaml:"timeouts"`
	CategoryLimits map[Category]int           `json:"category_limits" yaml:"category_limits"`

	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	// RetryAfter is the hint handed to callers rejected for capacity.
	RetryAfter time.Duration `json:"retry_after" yaml:"retry_after"`

	RateLimit RateLimit `json:"rate_limit" yaml:"rate_limit"`
	Breaker   Breaker   `json:"breaker" yaml:"breaker"`
}

// Default returns the production settings, sized for a 2GB host.
func Default() Policy {
	return Policy{
		MaxConcurrent:     10,
		MaxMemoryMB:       1500,
		MaxMemoryFraction: 0.9,
		MaxTempMB:         5120,
		Timeouts: map[Category]time.Duration{
			CategoryPDF:     2 * time.Minute,
			CategoryImage:   time.Minute,
			CategoryVideo:   5 * time.Minute,
			CategoryAudio:   2 * time.Minute,
			CategoryArchive: 90 * time.Second,
			CategoryText:    90 * time.Second,
		},
		CategoryLimits: map[Category]int{
			CategoryPDF:     3,
			CategoryImage:   5,
			CategoryVideo:   2,
			CategoryAudio:   3,
			CategoryArchive: 3,
			CategoryText:    3,
		},
		MaxRetries: 2,
		RetryDelay: time.Second,
		RetryAfter: 30 * time.Second,
		RateLimit: RateLimit{
			RequestsPerMinute: 200,
		},
		Breaker: Breaker{
			Threshold:    5,
			ResetTimeout: time.Minute,
		},
	}
}

// Timeout returns the deadline for a category, FallbackTimeout if unset.
func (p Policy) Timeout(c Category) time.Duration {
	if d, ok := p.Timeouts[c]; ok && d > 0 {
		return d
	}
	return FallbackTimeout
}

// CategoryLimit returns the concurrency limit of a category; 0 means unlimited.
func (p Policy) CategoryLimit(c Category) int {
	return p.CategoryLimits[c]
}

// MemoryCeilingMB is the heap usage at which admission stops.
func (p Policy) MemoryCeilingMB() float64 {
	return p.MaxMemoryFraction * float64(p.MaxMemoryMB)
}

// Clone returns a deep copy so that the maps cannot be shared.
func (p Policy) Clone() Policy {
	c := p
	c.Timeouts = make(map[Category]time.Duration, len(p.Timeouts))
	for k, v := range p.Timeouts {
		c.Timeouts[k] = v
	}
	c.CategoryLimits = make(map[Category]int, len(p.CategoryLimits))
	for k, v := range p.CategoryLimits {
		c.CategoryLimits[k] = v
	}
	return c
}

// Validate returns an aggregated error describing invalid settings or nil.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent must be > 0, got %d", p.MaxConcurrent))
	}
	if p.MaxMemoryMB < 0 {
		errs = append(errs, fmt.Errorf("max_memory_mb must be >= 0, got %d", p.MaxMemoryMB))
	}
	if p.MaxMemoryFraction < 0 || p.MaxMemoryFraction > 1 {
		errs = append(errs, fmt.Errorf("max_memory_fraction must be within [0,1], got %g", p.MaxMemoryFraction))
	}
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", p.MaxRetries))
	}
	if p.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry_delay must be >= 0, got %s", p.RetryDelay))
	}
	for c, d := range p.Timeouts {
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("timeouts: unknown category %q", c))
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must be > 0, got %s", c, d))
		}
	}
	for c, n := range p.CategoryLimits {
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("category_limits: unknown category %q", c))
		}
		if n < 0 {
			errs = append(errs, fmt.Errorf("category_limits.%s must be >= 0, got %d", c, n))
		}
	}
	if p.RateLimit.RequestsPerMinute < 0 || p.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit values must be >= 0"))
	}
	if p.Breaker.Threshold < 0 {
		errs = append(errs, fmt.Errorf("breaker.threshold must be >= 0, got %d", p.Breaker.Threshold))
	}
	if p.Breaker.Threshold > 0 && p.Breaker.ResetTimeout <= 0 {
		errs = append(errs, fmt.Errorf("breaker.reset_timeout must be > 0 when breaker is enabled"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(errs...))
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Policy, error) {
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Load reads and parses a YAML policy file.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

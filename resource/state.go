package resource

import (
	"errors"
	"runtime"
	"sync"
	"time"
)

var (
	// ErrAtCapacity is returned when the concurrency ceiling is reached.
	ErrAtCapacity = errors.New("max concurrent conversions reached")

	// ErrMemoryPressure is returned when process memory is above the ceiling.
	ErrMemoryPressure = errors.New("memory usage too high")

	// ErrOverRelease is returned by End when no conversion is active.
	ErrOverRelease = errors.New("conversion released more often than started")
)

const mb = 1024 * 1024

// Config holds resource limits.
type Config struct {
	// MaxConcurrent is the maximum number of active conversions.
	// If 0, defaults to 1.
	MaxConcurrent int

	// MaxMemoryMB is the memory budget of the process.
	// If 0, memory is not checked (only reported).
	MaxMemoryMB int64

	// MaxMemoryFraction is the share of MaxMemoryMB at which admission stops.
	// If 0, defaults to 1.
	MaxMemoryFraction float64

	// Sampler reads memory usage. Defaults to RuntimeSampler.
	Sampler Sampler
}

// Stats is a point-in-time snapshot of State.
type Stats struct {
	ActiveConversions   int64   `json:"activeConversions"`
	MaxConversions      int     `json:"maxConversions"`
	ProcessMemoryMB     int64   `json:"processMemoryMB"`
	SystemMemoryUsedMB  int64   `json:"systemMemoryUsedMB"`
	SystemMemoryTotalMB int64   `json:"systemMemoryTotalMB"`
	CPUCount            int     `json:"cpuCount"`
	Uptime              int64   `json:"uptime"`
	TempFilesMB         int64   `json:"tempFilesMB"`
	OverReleases        int64   `json:"overReleases"`
	MemoryCeilingMB     float64 `json:"memoryCeilingMB"`
}

// State tracks active conversions and temp storage.
type State struct {
	cfg     Config
	started time.Time

	mu           sync.Mutex
	active       int64
	tempBytes    int64
	overReleases int64
}

// NewState creates a new resource state.
func NewState(cfg Config) *State {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxMemoryFraction <= 0 {
		cfg.MaxMemoryFraction = 1
	}
	if cfg.Sampler == nil {
		cfg.Sampler = RuntimeSampler{}
	}
	return &State{
		cfg:     cfg,
		started: time.Now(),
	}
}

// memoryCeilingMB returns 0 when memory is not checked.
func (s *State) memoryCeilingMB() float64 {
	if s.cfg.MaxMemoryMB <= 0 {
		return 0
	}
	return s.cfg.MaxMemoryFraction * float64(s.cfg.MaxMemoryMB)
}

func (s *State) checkMemory() error {
	ceiling := s.memoryCeilingMB()
	if ceiling == 0 {
		return nil
	}
	used := float64(s.cfg.Sampler.ProcessMemoryBytes()) / mb
	if used >= ceiling {
		return ErrMemoryPressure
	}
	return nil
}

// Check reports why a new conversion would be refused, or nil.
func (s *State) Check() error {
	if s == nil {
		return nil
	}
	if err := s.checkMemory(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active >= int64(s.cfg.MaxConcurrent) {
		return ErrAtCapacity
	}
	return nil
}

// CanAccept reports whether a new conversion may start.
func (s *State) CanAccept() bool {
	return s.Check() == nil
}

// Start marks a conversion as active. It never fails; callers check
// CanAccept first.
func (s *State) Start() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.active++
	s.mu.Unlock()
}

// TryStart checks admission and starts a conversion under a single lock, so
// concurrent callers cannot both take the last slot.
func (s *State) TryStart() error {
	if s == nil {
		return nil
	}
	if err := s.checkMemory(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active >= int64(s.cfg.MaxConcurrent) {
		return ErrAtCapacity
	}
	s.active++
	return nil
}

// End marks a conversion as finished. The counter never drops below zero;
// releasing with nothing active returns ErrOverRelease and is counted.
func (s *State) End() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == 0 {
		s.overReleases++
		return ErrOverRelease
	}
	s.active--
	return nil
}

// Active returns the number of conversions in flight.
func (s *State) Active() int64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// MaxConcurrent returns the configured ceiling.
func (s *State) MaxConcurrent() int {
	if s == nil {
		return 0
	}
	return s.cfg.MaxConcurrent
}

// AddTemp records bytes written to temp storage.
func (s *State) AddTemp(bytes int64) {
	if s == nil || bytes <= 0 {
		return
	}
	s.mu.Lock()
	s.tempBytes += bytes
	s.mu.Unlock()
}

// RemoveTemp records bytes removed from temp storage, clamped at zero.
func (s *State) RemoveTemp(bytes int64) {
	if s == nil || bytes <= 0 {
		return
	}
	s.mu.Lock()
	s.tempBytes -= bytes
	if s.tempBytes < 0 {
		s.tempBytes = 0
	}
	s.mu.Unlock()
}

// TempBytes returns the tracked temp storage in bytes.
func (s *State) TempBytes() int64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tempBytes
}

// Stats returns a snapshot of the state and host.
func (s *State) Stats() Stats {
	if s == nil {
		return Stats{CPUCount: runtime.NumCPU()}
	}
	used, total := s.cfg.Sampler.SystemMemory()

	s.mu.Lock()
	active, temp, over := s.active, s.tempBytes, s.overReleases
	s.mu.Unlock()

	return Stats{
		ActiveConversions:   active,
		MaxConversions:      s.cfg.MaxConcurrent,
		ProcessMemoryMB:     int64(s.cfg.Sampler.ProcessMemoryBytes() / mb),
		SystemMemoryUsedMB:  int64(used / mb),
		SystemMemoryTotalMB: int64(total / mb),
		CPUCount:            runtime.NumCPU(),
		Uptime:              int64(time.Since(s.started).Seconds()),
		TempFilesMB:         temp / mb,
		OverReleases:        over,
		MemoryCeilingMB:     s.memoryCeilingMB(),
	}
}

package metrics

import (
	"math"
	"sync"
	"time"
)

// DefaultCapacity is the number of records kept by NewHistory(0).
const DefaultCapacity = 1000

// DefaultRecentErrors is used by RecentErrors for non-positive limits.
const DefaultRecentErrors = 10

// JobRecord describes one completed unit of work.
type JobRecord struct {
	ID         string    `json:"id,omitempty"`
	Tool       string    `json:"tool"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"durationMs"`
	FileSize   int64     `json:"fileSize"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
}

// Stats aggregates a set of records.
type Stats struct {
	Total         int     `json:"total"`
	Success       int     `json:"success"`
	Failure       int     `json:"failure"`
	SuccessRate   float64 `json:"successRate"`
	AvgDurationMs int64   `json:"avgDurationMs"`
	AvgFileSize   int64   `json:"avgFileSize"`
}

// ToolStats is Stats for a single tool.
type ToolStats struct {
	Tool string `json:"tool"`
	Stats
}

// ErrorEntry is a failed job as reported by RecentErrors.
type ErrorEntry struct {
	Tool      string    `json:"tool"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// History is a fixed-capacity FIFO of job records. Safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	buf   []JobRecord
	start int // index of the oldest record
	count int
}

// NewHistory creates a history holding at most capacity records.
// Non-positive capacities use DefaultCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		buf: make([]JobRecord, capacity),
	}
}

// Record appends r, evicting the oldest record when full.
func (h *History) Record(r JobRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count < len(h.buf) {
		h.buf[(h.start+h.count)%len(h.buf)] = r
		h.count++
		return
	}
	h.buf[h.start] = r
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Cap returns the capacity.
func (h *History) Cap() int {
	return len(h.buf)
}

// Clear drops all records.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buf)
	h.start = 0
	h.count = 0
}

// Records returns a copy of the retained records, oldest first.
func (h *History) Records() []JobRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]JobRecord, 0, h.count)
	h.each(func(r *JobRecord) {
		out = append(out, *r)
	})
	return out
}

// each visits records oldest first. Callers hold the lock.
func (h *History) each(fn func(r *JobRecord)) {
	for i := 0; i < h.count; i++ {
		fn(&h.buf[(h.start+i)%len(h.buf)])
	}
}

// Stats aggregates the records of tool, or all records if tool is empty.
// An empty selection yields all zeros.
func (h *History) Stats(tool string) Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var acc accumulator
	h.each(func(r *JobRecord) {
		if tool == "" || r.Tool == tool {
			acc.add(r)
		}
	})
	return acc.stats()
}

// AllToolStats returns Stats per distinct tool, in order of first appearance.
func (h *History) AllToolStats() []ToolStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var order []string
	byTool := make(map[string]*accumulator)
	h.each(func(r *JobRecord) {
		acc, ok := byTool[r.Tool]
		if !ok {
			acc = &accumulator{}
			byTool[r.Tool] = acc
			order = append(order, r.Tool)
		}
		acc.add(r)
	})

	out := make([]ToolStats, 0, len(order))
	for _, tool := range order {
		out = append(out, ToolStats{Tool: tool, Stats: byTool[tool].stats()})
	}
	return out
}

// RecentErrors returns the last limit failed records, most recent last.
func (h *History) RecentErrors(limit int) []ErrorEntry {
	if limit <= 0 {
		limit = DefaultRecentErrors
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var failed []ErrorEntry
	h.each(func(r *JobRecord) {
		if r.Success || r.Error == "" {
			return
		}
		failed = append(failed, ErrorEntry{Tool: r.Tool, Error: r.Error, Timestamp: r.Timestamp})
	})
	if len(failed) > limit {
		failed = failed[len(failed)-limit:]
	}
	return failed
}

type accumulator struct {
	total, success int
	duration, size int64
}

func (a *accumulator) add(r *JobRecord) {
	a.total++
	if r.Success {
		a.success++
	}
	a.duration += r.DurationMs
	a.size += r.FileSize
}

func (a *accumulator) stats() Stats {
	if a.total == 0 {
		return Stats{}
	}
	n := float64(a.total)
	return Stats{
		Total:         a.total,
		Success:       a.success,
		Failure:       a.total - a.success,
		SuccessRate:   float64(a.success) / n * 100,
		AvgDurationMs: int64(math.Round(float64(a.duration) / n)),
		AvgFileSize:   int64(math.Round(float64(a.size) / n)),
	}
}

package resource

import "runtime/metrics"

// Sampler reads memory usage for admission and stats.
type Sampler interface {
	// ProcessMemoryBytes returns the heap bytes held by live objects.
	ProcessMemoryBytes() uint64

	// SystemMemory returns used and total host memory in bytes.
	// Platforms without support return zeros.
	SystemMemory() (used, total uint64)
}

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// RuntimeSampler samples the Go runtime and the host.
type RuntimeSampler struct{}

// ProcessMemoryBytes implements Sampler.
func (RuntimeSampler) ProcessMemoryBytes() uint64 {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// SystemMemory implements Sampler.
func (RuntimeSampler) SystemMemory() (used, total uint64) {
	return systemMemory()
}

// StaticSampler reports fixed values. Useful for tests and dry runs.
type StaticSampler struct {
	Process uint64
	Used    uint64
	Total   uint64
}

// ProcessMemoryBytes implements Sampler.
func (s StaticSampler) ProcessMemoryBytes() uint64 { return s.Process }

// SystemMemory implements Sampler.
func (s StaticSampler) SystemMemory() (used, total uint64) { return s.Used, s.Total }

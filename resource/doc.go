// Package resource tracks the resources consumed by running conversions and
// answers admission queries.
//
// State keeps two counters:
//
//   - Active conversions: checked against a concurrency ceiling (fail-fast)
//   - Temp storage bytes: accounting only, never used for admission
//
// Admission also samples process memory and refuses new work once heap usage
// reaches the configured fraction of the memory budget. The sample is a
// point-in-time read, not a reservation.
//
//	st := resource.NewState(resource.Config{
//	    MaxConcurrent:     10,
//	    MaxMemoryMB:       1500,
//	    MaxMemoryFraction: 0.9,
//	})
//
//	if err := st.TryStart(); err != nil {
//	    // ErrAtCapacity or ErrMemoryPressure - caller rejects the request
//	}
//	defer st.End()
//
// # Temp Storage
//
// Files written through a TrackedWriter are added to the temp counter and
// removed again with Release:
//
//	w := resource.NewTrackedWriter(f, st)
//	defer w.Release()
//
// # Thread Safety
//
// All State methods are safe for concurrent use. A nil *State accepts every
// request and records nothing.
package resource

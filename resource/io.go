package resource

import (
	"io"
	"sync/atomic"
)

// TrackedWriter wraps an io.Writer and accounts every written byte as temp
// storage on a State.
type TrackedWriter struct {
	w        io.Writer
	st       *State
	written  atomic.Int64
	released atomic.Bool
}

// NewTrackedWriter creates a new TrackedWriter.
func NewTrackedWriter(w io.Writer, st *State) *TrackedWriter {
	return &TrackedWriter{
		w:  w,
		st: st,
	}
}

func (w *TrackedWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		w.written.Add(int64(n))
		w.st.AddTemp(int64(n))
	}
	return n, err
}

// Written returns the number of bytes written so far.
func (w *TrackedWriter) Written() int64 {
	return w.written.Load()
}

// Release removes the written bytes from the temp counter. Only the first
// call has an effect.
func (w *TrackedWriter) Release() {
	if !w.released.CompareAndSwap(false, true) {
		return
	}
	w.st.RemoveTemp(w.written.Load())
}

package httpgov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/govern"
	"github.com/hupe1980/govern/internal/tracing"
	"github.com/hupe1980/govern/policy"
	"github.com/hupe1980/govern/retry"
)

// DefaultMaxBodyBytes is the upload limit when Job.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 50 << 20

// HandlerFunc is an http.HandlerFunc that can fail. A returned error or a
// response status >= 500 fails the attempt and may be retried.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Job describes a governed endpoint.
type Job struct {
	Tool     string
	Category policy.Category

	// Timeout overrides the category timeout when > 0.
	Timeout time.Duration

	// MaxBodyBytes limits the request body. Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// FileField is the multipart field measured for the job record.
	// Defaults to "file".
	FileField string

	// TracerProvider for the server span. Defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// StatusError reports a handler response with an error status. It carries
// the recorded response so that 4xx answers reach the client unchanged.
type StatusError struct {
	Status int
	resp   *recorder
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("handler responded with status %d", e.Status)
}

type errorBody struct {
	Error string `json:"error"`
}

type governed struct {
	job    Job
	call   govern.Handler[*inbound, *recorder]
	tracer *tracing.Tracer
}

// Handler returns an http.Handler that runs h under g.
func Handler(g *govern.Governor, job Job, h HandlerFunc) http.Handler {
	if job.MaxBodyBytes <= 0 {
		job.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if job.FileField == "" {
		job.FileField = "file"
	}

	attempt := func(ctx context.Context, in *inbound) (*recorder, error) {
		r, err := in.request(ctx)
		if err != nil {
			return nil, err
		}
		rec := newRecorder()
		if err := h(rec, r); err != nil {
			return nil, err
		}
		switch {
		case rec.status >= http.StatusInternalServerError:
			return nil, &StatusError{Status: rec.status, resp: rec}
		case rec.status >= http.StatusBadRequest:
			return nil, retry.Permanent(&StatusError{Status: rec.status, resp: rec})
		}
		return rec, nil
	}

	return &governed{
		job: job,
		call: govern.Govern(g, attempt, govern.Job[*inbound]{
			Tool:     job.Tool,
			Category: job.Category,
			Timeout:  job.Timeout,
			SizeOf:   (*inbound).size,
		}),
		tracer: tracing.New(job.TracerProvider),
	}
}

// Wrap governs a plain http.Handler. Responses with status >= 500 fail the
// attempt.
func Wrap(g *govern.Governor, job Job, h http.Handler) http.Handler {
	return Handler(g, job, func(w http.ResponseWriter, r *http.Request) error {
		h.ServeHTTP(w, r)
		return nil
	})
}

func (h *governed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.SpanKindServer)

	in := &inbound{r: r, maxBytes: h.job.MaxBodyBytes, fileField: h.job.FileField}
	rec, err := h.call(ctx, in)
	span.EndHTTP(respond(w, rec, err))
}

// respond writes the outcome of a governed call and returns the status.
func respond(w http.ResponseWriter, rec *recorder, err error) int {
	if err == nil {
		rec.writeTo(w)
		return rec.status
	}

	var rej *govern.RejectionError
	if errors.As(err, &rej) {
		w.Header().Set("Retry-After", retryAfterSeconds(rej.RetryAfter))
		writeJSON(w, rej.Status(), errorBody{Error: rej.Message()})
		return rej.Status()
	}

	var se *StatusError
	if errors.As(err, &se) && se.Status < http.StatusInternalServerError {
		se.resp.writeTo(w)
		return se.Status
	}

	status := http.StatusInternalServerError
	msg := govern.UserMessage(err)
	var fe *govern.FailureError
	if errors.As(err, &fe) {
		status, msg = fe.Status, fe.Message
	}
	writeJSON(w, status, errorBody{Error: msg})
	return status
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

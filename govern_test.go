package govern

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/govern/breaker"
	"github.com/hupe1980/govern/deadline"
	"github.com/hupe1980/govern/policy"
	"github.com/hupe1980/govern/resource"
	"github.com/hupe1980/govern/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

// testPolicy disables the memory check, rate limit and breaker so that tests
// opt into them explicitly.
func testPolicy() policy.Policy {
	p := policy.Default()
	p.MaxMemoryMB = 0
	p.RateLimit = policy.RateLimit{}
	p.Breaker = policy.Breaker{}
	return p
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGovernor(t *testing.T, p policy.Policy, opts ...Option) (*Governor, *BasicMetricsCollector) {
	t.Helper()
	mc := &BasicMetricsCollector{}
	opts = append([]Option{
		WithPolicy(p),
		WithMetricsCollector(mc),
		WithRetryOptions(retry.WithSleep(noSleep)),
	}, opts...)
	g, err := New(opts...)
	require.NoError(t, err)
	return g, mc
}

func echo(_ context.Context, in string) (string, error) {
	return in, nil
}

func TestNew_InvalidPolicy(t *testing.T) {
	p := testPolicy()
	p.MaxConcurrent = 0

	_, err := New(WithPolicy(p))
	assert.ErrorIs(t, err, policy.ErrInvalidPolicy)
}

func TestGovern_Success(t *testing.T) {
	g, mc := newTestGovernor(t, testPolicy())

	convert := Govern(g, echo, Job[string]{
		Tool:     "text-to-upper",
		Category: policy.CategoryText,
		SizeOf:   func(in string) (int64, error) { return int64(len(in)), nil },
	})

	out, err := convert(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, int64(0), g.State().Active())

	recs := g.History().Records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.Equal(t, int64(5), recs[0].FileSize)
	assert.NotEmpty(t, recs[0].ID)
	assert.Empty(t, recs[0].Error)

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.Admissions)
	assert.Equal(t, int64(1), stats.Successes)
}

func TestGovern_Saturation(t *testing.T) {
	const n = 10
	p := testPolicy()
	p.MaxConcurrent = n
	g, mc := newTestGovernor(t, p)

	started := make(chan struct{}, n)
	unblock := make(chan struct{})
	long := Govern(g, func(ctx context.Context, in int) (int, error) {
		started <- struct{}{}
		<-unblock
		return in, nil
	}, Job[int]{Tool: "long"})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := long(context.Background(), i)
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < n; i++ {
		<-started
	}

	assert.Equal(t, int64(n), g.State().Active())
	assert.False(t, g.State().CanAccept())

	begin := time.Now()
	_, err := long(context.Background(), n)
	assert.Less(t, time.Since(begin), time.Second)

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, CapacityExceeded, rej.Reason)
	assert.Equal(t, 30*time.Second, rej.RetryAfter)
	assert.Equal(t, http.StatusServiceUnavailable, rej.Status())
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.ErrorIs(t, err, resource.ErrAtCapacity)
	assert.Equal(t, int64(n), g.State().Active())

	close(unblock)
	wg.Wait()

	assert.Equal(t, int64(0), g.State().Active())
	assert.True(t, g.State().CanAccept())
	assert.Equal(t, n, g.History().Len())
	assert.Equal(t, int64(1), mc.GetStats().RejectedCapacity)
}

func TestGovern_ReleaseOnEveryOutcome(t *testing.T) {
	p := testPolicy()
	p.MaxRetries = 0
	g, mc := newTestGovernor(t, p)

	ok := Govern(g, echo, Job[string]{Tool: "ok"})
	fail := Govern(g, func(context.Context, string) (string, error) {
		return "", errors.New("converter exited with status 1")
	}, Job[string]{Tool: "fail"})
	slow := Govern(g, func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, Job[string]{Tool: "slow", Timeout: 20 * time.Millisecond})

	_, err := ok(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), g.State().Active())

	_, err = fail(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int64(0), g.State().Active())

	_, err = slow(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, deadline.ErrTimeout)
	assert.Equal(t, int64(0), g.State().Active())

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "The conversion took too long. Please try with a smaller file.", fe.Message)
	assert.Equal(t, retry.ClassRetryable, fe.Class)

	assert.Equal(t, 3, g.History().Len())
	assert.Equal(t, 1, g.ToolStats("").Success)
	assert.Equal(t, 2, g.ToolStats("").Failure)
	assert.Equal(t, int64(1), mc.GetStats().Timeouts)
	assert.Equal(t, int64(0), g.ResourceStats().OverReleases)
}

func TestGovern_RetryThenSuccess(t *testing.T) {
	g, mc := newTestGovernor(t, testPolicy())

	var calls atomic.Int32
	flaky := Govern(g, func(context.Context, string) (string, error) {
		if calls.Add(1) <= 2 {
			return "", errors.New("read tcp: ECONNRESET")
		}
		return "done", nil
	}, Job[string]{Tool: "flaky"})

	out, err := flaky(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(2), mc.GetStats().Retries)
	assert.Equal(t, 1, g.History().Len())
}

func TestGovern_PermanentFailure(t *testing.T) {
	g, mc := newTestGovernor(t, testPolicy())

	var calls atomic.Int32
	codec := Govern(g, func(context.Context, string) (string, error) {
		calls.Add(1)
		return "", errors.New("unsupported codec")
	}, Job[string]{Tool: "video-to-gif", Category: policy.CategoryVideo})

	_, err := codec(context.Background(), "x")

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, fe.Executions)
	assert.Equal(t, retry.ClassPermanent, fe.Class)
	assert.Equal(t, http.StatusInternalServerError, fe.Status)
	assert.Equal(t, "This file format is not supported. Please check the file type.", fe.Message)
	assert.Equal(t, fe.Message, err.Error())
	assert.EqualError(t, errors.Unwrap(err), "unsupported codec")
	assert.Equal(t, int64(0), mc.GetStats().Retries)

	errs := g.RecentErrors(10)
	require.Len(t, errs, 1)
	assert.Equal(t, "video-to-gif", errs[0].Tool)
	assert.Equal(t, fe.Message, errs[0].Error)
}

func TestGovern_RetriesExhausted(t *testing.T) {
	g, _ := newTestGovernor(t, testPolicy())

	var calls atomic.Int32
	down := Govern(g, func(context.Context, string) (string, error) {
		calls.Add(1)
		return "", errors.New("resource temporarily unavailable")
	}, Job[string]{Tool: "down"})

	_, err := down(context.Background(), "x")

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, fe.Executions)
	assert.Equal(t, "Conversion failed. Please try again.", fe.Message)
}

func TestGovern_TimeoutCancelsHandler(t *testing.T) {
	p := testPolicy()
	p.MaxRetries = 0
	g, _ := newTestGovernor(t, p)

	cancelled := make(chan struct{})
	slow := Govern(g, func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		close(cancelled)
		return "", ctx.Err()
	}, Job[string]{Tool: "slow", Timeout: 10 * time.Millisecond})

	_, err := slow(context.Background(), "x")
	assert.ErrorIs(t, err, deadline.ErrTimeout)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler context was not cancelled")
	}
}

func TestGovern_Panic(t *testing.T) {
	p := testPolicy()
	p.MaxRetries = 0
	g, _ := newTestGovernor(t, p)

	boom := Govern(g, func(context.Context, string) (string, error) {
		panic("nil map")
	}, Job[string]{Tool: "boom"})

	_, err := boom(context.Background(), "x")

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, int64(0), g.State().Active())
	assert.Equal(t, 1, g.History().Len())
}

func TestGovern_SizeOfIgnoresFailures(t *testing.T) {
	g, _ := newTestGovernor(t, testPolicy())

	panicky := Govern(g, echo, Job[string]{
		Tool:   "panicky",
		SizeOf: func(string) (int64, error) { panic("peek failed") },
	})
	failing := Govern(g, echo, Job[string]{
		Tool:   "failing",
		SizeOf: func(string) (int64, error) { return 42, errors.New("no size") },
	})

	_, err := panicky(context.Background(), "x")
	require.NoError(t, err)
	_, err = failing(context.Background(), "x")
	require.NoError(t, err)

	for _, r := range g.History().Records() {
		assert.Equal(t, int64(0), r.FileSize, r.Tool)
	}
}

func TestGovern_PayloadTooLarge(t *testing.T) {
	g, _ := newTestGovernor(t, testPolicy())

	big := Govern(g, func(context.Context, string) (string, error) {
		return "", retry.Permanent(ErrPayloadTooLarge)
	}, Job[string]{Tool: "big"})

	_, err := big(context.Background(), "x")

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusRequestEntityTooLarge, fe.Status)
	assert.Equal(t, "The file is too large to process. Please try a smaller file.", fe.Message)
	assert.Equal(t, 1, fe.Executions)
}

func TestGovern_CategoryLimit(t *testing.T) {
	p := testPolicy()
	p.CategoryLimits[policy.CategoryVideo] = 1
	g, _ := newTestGovernor(t, p)

	started := make(chan struct{})
	unblock := make(chan struct{})
	video := Govern(g, func(context.Context, string) (string, error) {
		close(started)
		<-unblock
		return "ok", nil
	}, Job[string]{Tool: "mp4-to-webm", Category: policy.CategoryVideo})

	done := make(chan error, 1)
	go func() {
		_, err := video(context.Background(), "a")
		done <- err
	}()
	<-started

	_, err := Govern(g, echo, Job[string]{Tool: "mov-to-mp4", Category: policy.CategoryVideo})(context.Background(), "b")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.ErrorIs(t, err, ErrCategoryBusy)
	assert.Equal(t, int64(1), g.State().Active())

	// other categories are not affected
	_, err = Govern(g, echo, Job[string]{Tool: "png-to-jpg", Category: policy.CategoryImage})(context.Background(), "c")
	require.NoError(t, err)

	close(unblock)
	require.NoError(t, <-done)
	assert.Equal(t, int64(0), g.State().Active())

	_, err = Govern(g, echo, Job[string]{Tool: "mov-to-mp4", Category: policy.CategoryVideo})(context.Background(), "d")
	require.NoError(t, err)
}

func TestGovern_MemoryPressure(t *testing.T) {
	p := testPolicy()
	p.MaxMemoryMB = 100
	g, _ := newTestGovernor(t, p, WithSampler(resource.StaticSampler{Process: 95 << 20}))

	_, err := Govern(g, echo, Job[string]{Tool: "x"})(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.ErrorIs(t, err, resource.ErrMemoryPressure)
	assert.Equal(t, 0, g.History().Len())
}

func TestGovern_RateLimit(t *testing.T) {
	clk := newFakeClock()
	p := testPolicy()
	p.RateLimit = policy.RateLimit{RequestsPerMinute: 60, Burst: 1}
	g, mc := newTestGovernor(t, p, WithClock(clk.Now))

	h := Govern(g, echo, Job[string]{Tool: "x"})

	_, err := h(context.Background(), "a")
	require.NoError(t, err)

	_, err = h(context.Background(), "b")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RateLimited, rej.Reason)
	assert.Equal(t, http.StatusTooManyRequests, rej.Status())
	assert.InDelta(t, float64(time.Second), float64(rej.RetryAfter), float64(10*time.Millisecond))
	assert.ErrorIs(t, err, ErrRateLimited)

	clk.Advance(time.Second)
	_, err = h(context.Background(), "c")
	require.NoError(t, err)

	assert.Equal(t, int64(1), mc.GetStats().RejectedRateLimit)
	assert.Equal(t, 2, g.History().Len())
}

func TestGovern_CircuitBreaker(t *testing.T) {
	clk := newFakeClock()
	p := testPolicy()
	p.MaxRetries = 0
	p.Breaker = policy.Breaker{Threshold: 2, ResetTimeout: time.Minute}
	g, mc := newTestGovernor(t, p, WithClock(clk.Now))

	var healthy atomic.Bool
	var calls atomic.Int32
	h := Govern(g, func(context.Context, string) (string, error) {
		calls.Add(1)
		if healthy.Load() {
			return "ok", nil
		}
		return "", errors.New("dial tcp: ECONNREFUSED")
	}, Job[string]{Tool: "libreoffice"})

	for i := 0; i < 2; i++ {
		_, err := h(context.Background(), "x")
		var fe *FailureError
		require.ErrorAs(t, err, &fe)
	}
	assert.Equal(t, breaker.Open, g.CircuitStates()["libreoffice"])

	_, err := h(context.Background(), "x")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, CircuitOpen, rej.Reason)
	assert.Equal(t, time.Minute, rej.RetryAfter)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(0), g.State().Active())

	clk.Advance(time.Minute)
	healthy.Store(true)
	_, err = h(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, breaker.Closed, g.CircuitStates()["libreoffice"])
	assert.Equal(t, int64(1), mc.GetStats().RejectedCircuit)
}

func TestGovern_PermanentDoesNotTripBreaker(t *testing.T) {
	p := testPolicy()
	p.Breaker = policy.Breaker{Threshold: 1, ResetTimeout: time.Minute}
	g, _ := newTestGovernor(t, p)

	bad := Govern(g, func(context.Context, string) (string, error) {
		return "", errors.New("invalid PDF header")
	}, Job[string]{Tool: "pdf-to-text"})

	for i := 0; i < 3; i++ {
		_, err := bad(context.Background(), "x")
		var fe *FailureError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "The file appears to be corrupted or invalid. Please try another file.", fe.Message)
	}
	assert.Equal(t, breaker.Closed, g.CircuitStates()["pdf-to-text"])
}

func TestGovern_CallerCancel(t *testing.T) {
	g, _ := newTestGovernor(t, testPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	h := Govern(g, func(ctx context.Context, _ string) (string, error) {
		calls.Add(1)
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}, Job[string]{Tool: "x"})

	_, err := h(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(0), g.State().Active())
}

func TestGovern_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	g, _ := newTestGovernor(t, testPolicy(), WithTracerProvider(tp))

	_, err := Govern(g, echo, Job[string]{Tool: "jpg-to-png", Category: policy.CategoryImage})(context.Background(), "x")
	require.NoError(t, err)

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "govern jpg-to-png", ended[0].Name())

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "jpg-to-png", attrs["tool"])
	assert.Equal(t, "image", attrs["category"])
	assert.Equal(t, "1", attrs["executions"])
}

func TestGovernor_Report(t *testing.T) {
	g, _ := newTestGovernor(t, testPolicy())

	r := g.Report(0)
	assert.Equal(t, 100, r.Summary.OverallSuccessRate)
	assert.Empty(t, r.Tools)
	assert.NotNil(t, r.RecentErrors)

	ok := Govern(g, echo, Job[string]{Tool: "a"})
	bad := Govern(g, func(context.Context, string) (string, error) {
		return "", errors.New("file not found")
	}, Job[string]{Tool: "b"})

	for i := 0; i < 2; i++ {
		_, _ = ok(context.Background(), "x")
	}
	_, _ = bad(context.Background(), "x")

	r = g.Report(5)
	assert.Equal(t, 3, r.Summary.TotalConversions)
	assert.Equal(t, 2, r.Summary.TotalSuccess)
	assert.Equal(t, 1, r.Summary.TotalFailures)
	assert.Equal(t, 67, r.Summary.OverallSuccessRate)
	assert.Len(t, r.Tools, 2)
	assert.Len(t, r.RecentErrors, 1)
	assert.Equal(t, 10, r.System.MaxConversions)
}

package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/govern"
	"github.com/hupe1980/govern/blobstore"
	"github.com/hupe1980/govern/policy"
)

type staticSource struct {
	report govern.Report
}

func (s staticSource) Report(int) govern.Report { return s.report }

func testReport() govern.Report {
	return govern.Report{
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Summary: govern.Summary{
			TotalConversions:   4,
			TotalSuccess:       3,
			TotalFailures:      1,
			OverallSuccessRate: 75,
		},
	}
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func TestExporter_Export(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			exp := New(staticSource{testReport()}, store, func(o *Options) {
				o.Codec = codec
			})

			name, err := exp.Export(context.Background())
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(name, DefaultPrefix))
			assert.True(t, strings.HasSuffix(name, ".json"+codec.Extension()))

			data, err := store.Get(context.Background(), name)
			require.NoError(t, err)
			raw, err := codec.Decode(data)
			require.NoError(t, err)

			var got govern.Report
			require.NoError(t, json.Unmarshal(raw, &got))
			assert.Equal(t, 75, got.Summary.OverallSuccessRate)
			assert.Equal(t, 4, got.Summary.TotalConversions)
		})
	}
}

func TestExporter_Keep(t *testing.T) {
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "other/keep-me", []byte("x")))

	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	exp := New(staticSource{testReport()}, store, func(o *Options) {
		o.Keep = 3
		o.Now = clock.Now
	})

	var written []string
	for i := 0; i < 5; i++ {
		name, err := exp.Export(context.Background())
		require.NoError(t, err)
		written = append(written, name)
	}

	names, err := store.List(context.Background(), DefaultPrefix)
	require.NoError(t, err)
	assert.Equal(t, written[2:], names)

	_, err = store.Get(context.Background(), "other/keep-me")
	assert.NoError(t, err)
}

func TestExporter_LocalStore(t *testing.T) {
	store := blobstore.NewLocalStore(t.TempDir())
	exp := New(staticSource{testReport()}, store, func(o *Options) {
		o.Codec = CodecZSTD
		o.Prefix = "snapshots/"
	})

	name, err := exp.Export(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "snapshots/"))

	names, err := store.List(context.Background(), "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{name}, names)
}

type failingSink struct{}

func (failingSink) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestExporter_PutError(t *testing.T) {
	exp := New(staticSource{testReport()}, failingSink{})

	_, err := exp.Export(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestExporter_GovernorReport(t *testing.T) {
	gov, err := govern.New(govern.WithPolicy(policy.Default()))
	require.NoError(t, err)

	h := govern.Govern(gov, func(_ context.Context, in string) (string, error) {
		return strings.ToUpper(in), nil
	}, govern.Job[string]{Tool: "upper", Category: policy.CategoryText})
	_, err = h(context.Background(), "hello")
	require.NoError(t, err)

	store := blobstore.NewMemoryStore()
	name, err := New(gov, store).Export(context.Background())
	require.NoError(t, err)

	data, err := store.Get(context.Background(), name)
	require.NoError(t, err)

	var got govern.Report
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "upper", got.Tools[0].Tool)
	assert.Equal(t, 100, got.Summary.OverallSuccessRate)
}

func TestExporter_Run(t *testing.T) {
	store := blobstore.NewMemoryStore()
	exp := New(staticSource{testReport()}, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exp.Run(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		names, _ := store.List(context.Background(), DefaultPrefix)
		return len(names) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestExporter_RunInvalidInterval(t *testing.T) {
	exp := New(staticSource{testReport()}, blobstore.NewMemoryStore())
	assert.Error(t, exp.Run(context.Background(), 0))
}

type fakeRedis struct {
	mu   sync.Mutex
	keys map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.keys[key] = value.([]byte)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisSink(t *testing.T) {
	client := &fakeRedis{keys: map[string][]byte{}, ttls: map[string]time.Duration{}}
	sink := NewRedisSink(client, "govern:", 0)

	exp := New(staticSource{testReport()}, sink, func(o *Options) {
		o.Codec = CodecLZ4
		o.Keep = 1
	})

	name, err := exp.Export(context.Background())
	require.NoError(t, err)

	data, ok := client.keys["govern:"+name]
	require.True(t, ok)
	assert.Equal(t, DefaultRedisTTL, client.ttls["govern:"+name])

	raw, err := CodecLZ4.Decode(data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"overallSuccessRate":75`)
}

func TestRedisSink_Error(t *testing.T) {
	client := &fakeRedis{err: errors.New("connection refused")}
	sink := NewRedisSink(client, "", time.Minute)

	err := sink.Put(context.Background(), "reports/a.json", []byte("{}"))
	assert.ErrorContains(t, err, "connection refused")
}

package govern

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/govern/retry"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLogger_Helpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	l.LogRejection(ctx, &RejectionError{Reason: CircuitOpen, Tool: "pdf-to-text", RetryAfter: time.Minute})
	l.LogRetry(ctx, "pdf-to-text", retry.Attempt{Number: 2, Err: errors.New("ECONNRESET"), Delay: 2 * time.Second})
	l.LogOutcome(ctx, "pdf-to-text", "id-1", 1500*time.Millisecond, errors.New("invalid header"))

	dec := json.NewDecoder(&buf)
	var entries []map[string]any
	for dec.More() {
		var e map[string]any
		require.NoError(t, dec.Decode(&e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 3)

	assert.Equal(t, "conversion rejected", entries[0]["msg"])
	assert.Equal(t, "circuit_open", entries[0]["reason"])

	assert.Equal(t, "retrying conversion", entries[1]["msg"])
	assert.Equal(t, float64(2), entries[1]["attempt"])

	assert.Equal(t, "conversion failed", entries[2]["msg"])
	assert.Equal(t, "permanent", entries[2]["class"])
	assert.Equal(t, float64(1500), entries[2]["duration_ms"])
	assert.Equal(t, "invalid header", entries[2]["error"])
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
	l.WithTool("x").LogStart(context.Background(), "x", "id", 1)
}

package minio

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/govern/blobstore"
)

func TestTranslate(t *testing.T) {
	assert.ErrorIs(t, translate(minio.ErrorResponse{Code: "NoSuchKey"}), blobstore.ErrNotFound)
	assert.ErrorIs(t, translate(minio.ErrorResponse{Code: "NotFound"}), blobstore.ErrNotFound)

	other := errors.New("connection refused")
	assert.Equal(t, other, translate(other))
}

func TestStore_Key(t *testing.T) {
	s := NewStore(nil, "bucket", "governor/")
	assert.Equal(t, "governor/reports/a.json", s.key("reports/a.json"))
}

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}
	bucket := "test-govern"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	// Check if MinIO is reachable
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix/")

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "reports/test.json", data))

	got, err := store.Get(ctx, "reports/test.json")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "reports/")
	require.NoError(t, err)
	assert.Contains(t, names, "reports/test.json")

	require.NoError(t, store.Delete(ctx, "reports/test.json"))

	_, err = store.Get(ctx, "reports/test.json")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

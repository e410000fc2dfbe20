package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/govern/internal/fs"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		data := []byte("report")
		require.NoError(t, s.Put(ctx, "reports/a.json", data))
		data[0] = 'X'

		got, err := s.Get(ctx, "reports/a.json")
		require.NoError(t, err)
		assert.Equal(t, "report", string(got))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "reports/a.json", []byte("v2")))
		got, err := s.Get(ctx, "reports/a.json")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(got))
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.Get(ctx, "reports/missing.json")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "reports/b.json", []byte("b")))
		require.NoError(t, s.Put(ctx, "other/c.json", []byte("c")))

		names, err := s.List(ctx, "reports/")
		require.NoError(t, err)
		assert.Equal(t, []string{"reports/a.json", "reports/b.json"}, names)

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "reports/a.json"))
		require.NoError(t, s.Delete(ctx, "reports/a.json"))

		_, err := s.Get(ctx, "reports/a.json")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("InvalidName", func(t *testing.T) {
		for _, name := range []string{"", "/abs", "../escape", "a/../../b", "a//b"} {
			assert.ErrorIs(t, s.Put(ctx, name, nil), ErrInvalidName, name)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	root := t.TempDir()
	testStore(t, NewLocalStore(root))

	// no temp files are left behind
	entries, err := os.ReadDir(filepath.Join(root, "reports"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_ListSkipsUnrelatedDirs(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())
	require.NoError(t, s.Put(ctx, "reports/2026/a.json", []byte("a")))
	require.NoError(t, s.Put(ctx, "snapshots/b.json", []byte("b")))

	names, err := s.List(ctx, "reports/20")
	require.NoError(t, err)
	assert.Equal(t, []string{"reports/2026/a.json"}, names)
}

func TestLocalStore_PutFaults(t *testing.T) {
	tests := []struct {
		name  string
		fault fs.Fault
	}{
		{"write", fs.Fault{FailAfterBytes: 0}},
		{"sync", fs.Fault{FailAfterBytes: -1, FailOnSync: true}},
		{"close", fs.Fault{FailAfterBytes: -1, FailOnClose: true}},
		{"rename", fs.Fault{FailAfterBytes: -1, FailOnRename: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			root := t.TempDir()
			ffs := fs.NewFaultyFS(nil)
			s := newLocalStoreFS(root, ffs)

			// Keep an old version to prove a failed Put does not replace it.
			require.NoError(t, s.Put(ctx, "reports/a.json", []byte("old")))

			ffs.AddRule("a.json", tt.fault)
			err := s.Put(ctx, "reports/a.json", []byte("new"))
			assert.ErrorIs(t, err, fs.ErrInjected)

			got, err := NewLocalStore(root).Get(ctx, "reports/a.json")
			require.NoError(t, err)
			assert.Equal(t, "old", string(got))

			entries, err := os.ReadDir(filepath.Join(root, "reports"))
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temp file removed")
		})
	}
}

func TestLocalStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewLocalStore(t.TempDir())
	assert.ErrorIs(t, s.Put(ctx, "a", nil), context.Canceled)
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.List(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

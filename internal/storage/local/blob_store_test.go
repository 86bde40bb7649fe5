package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-worker/internal/storage/local"
)

func TestNewValidatesBaseDir(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{BaseDir: "  "})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "archive")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = local.New(local.Config{BaseDir: file})
	require.Error(t, err)

	created := filepath.Join(t.TempDir(), "nested", "archive")
	store, err := local.New(local.Config{BaseDir: created})
	require.NoError(t, err)
	require.NotNil(t, store)
	info, err := os.Stat(created)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := os.ReadDir(created)
	require.NoError(t, err)
	assert.Empty(t, entries, "writability probe should be removed")
}

func TestPutObjectArchivesResults(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)
	ctx := context.Background()

	cases := []struct {
		name string
		path string
		body string
	}{
		{name: "audit", path: "results/audit/run-a.json", body: `{"score":81}`},
		{name: "crawl", path: "results/crawl/run-b.json", body: `{"pages":[]}`},
	}
	for _, tc := range cases {
		uri, err := store.PutObject(ctx, tc.path, "application/json", []byte(tc.body))
		require.NoError(t, err, tc.name)
		assert.Equal(t, "file://"+filepath.Join(base, tc.path), uri, tc.name)

		// #nosec G304 -- reads back from the test temp dir.
		got, err := os.ReadFile(filepath.Join(base, tc.path))
		require.NoError(t, err, tc.name)
		assert.JSONEq(t, tc.body, string(got), tc.name)
	}
}

func TestPutObjectReplacesAtomically(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)
	ctx := context.Background()

	path := "results/audit/run-1.json"
	_, err = store.PutObject(ctx, path, "application/json", []byte(`{"v":1}`))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, path, "application/json", []byte(`{"v":2}`))
	require.NoError(t, err)

	// #nosec G304 -- reads back from the test temp dir.
	got, err := os.ReadFile(filepath.Join(base, path))
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))

	entries, err := os.ReadDir(filepath.Join(base, "results", "audit"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, path := range []string{"", "../escape.json", "results/../../escape.json"} {
		_, err := store.PutObject(context.Background(), path, "application/json", []byte("{}"))
		assert.Error(t, err, path)
	}
}

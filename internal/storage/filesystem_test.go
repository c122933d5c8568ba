package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	fs := NewFileSystem(filepath.Join(t.TempDir(), "root"))
	require.NoError(t, fs.Init())
	return fs
}

func TestStore(t *testing.T) {
	fs := newTestFS(t)
	data := []byte("hello, image data")

	n, err := fs.Store(context.Background(), "img-1.png", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	// Verify the file exists on disk at the expected path.
	content, err := os.ReadFile(filepath.Join(fs.Root(), "img-1.png"))
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestRead(t *testing.T) {
	fs := newTestFS(t)
	data := []byte("read me")

	_, err := fs.Store(context.Background(), "img-2.png", bytes.NewReader(data))
	require.NoError(t, err)

	got, err := fs.Read(context.Background(), "img-2.png")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadNotFound(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.Read(context.Background(), "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.Store(context.Background(), "img-3.png", bytes.NewReader([]byte("delete me")))
	require.NoError(t, err)

	require.NoError(t, fs.Remove("img-3.png"))

	_, err = os.Stat(filepath.Join(fs.Root(), "img-3.png"))
	assert.True(t, os.IsNotExist(err), "expected file to be removed")
}

func TestRemoveNotFound(t *testing.T) {
	fs := newTestFS(t)

	// Removal is strict: callers rely on it to know whether bytes were freed.
	err := fs.Remove("missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStat(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.Stat("img-4.png")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fs.Store(context.Background(), "img-4.png", bytes.NewReader([]byte("12345")))
	require.NoError(t, err)

	size, err := fs.Stat("img-4.png")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestPathRejectsEscapes(t *testing.T) {
	fs := newTestFS(t)

	for _, name := range []string{"", ".", "..", "../x.png", "a/b.png", `a\b.png`, ".upload-123"} {
		_, err := fs.Path(name)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestStoreCanceledContextLeavesNoFile(t *testing.T) {
	fs := newTestFS(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fs.Store(ctx, "img-5.png", bytes.NewReader([]byte("never written")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	files, err := fs.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestListSkipsDirectoriesAndTempFiles(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.Store(context.Background(), "b.png", bytes.NewReader([]byte("bb")))
	require.NoError(t, err)
	_, err = fs.Store(context.Background(), "a.jpg", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(fs.Root(), "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), tempPrefix+"leftover"), []byte("x"), 0644))

	files, err := fs.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.jpg", files[0].Name)
	assert.Equal(t, int64(1), files[0].Size)
	assert.Equal(t, "b.png", files[1].Name)
}

func TestResetEmptiesDirectory(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.Store(context.Background(), "stale.png", bytes.NewReader([]byte("old")))
	require.NoError(t, err)

	require.NoError(t, fs.Reset())

	files, err := fs.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestListMissingRoot(t *testing.T) {
	fs := NewFileSystem(filepath.Join(t.TempDir(), "does-not-exist"))
	_, err := fs.List()
	assert.Error(t, err)
}

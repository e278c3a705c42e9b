package fsutil

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystemExists(t *testing.T) {
	t.Parallel()
	var fsys OSFileSystem

	assert.True(t, fsys.Exists("filesystem.go"))
	assert.False(t, fsys.Exists("nonexistent_file_xyz.go"))
}

func TestMemoryFileSystemWriteAndRead(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()

	data := []byte("hello")
	require.NoError(t, mfs.WriteFile("/out/a.txt", data, 0o644))
	data[0] = 'j'

	got, err := mfs.ReadFile("/out/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = mfs.ReadFile("/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemoryFileSystemCreate(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/created.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	info, err := mfs.Stat("/created.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())
	assert.False(t, info.IsDir())
}

func TestMemoryFileSystemDirs(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()

	require.NoError(t, mfs.MkdirAll("/a/b/c", 0o755))
	for _, d := range []string{"/a", "/a/b", "/a/b/c"} {
		assert.True(t, mfs.Exists(d), d)
		info, err := mfs.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestWriteAndReadJSON(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()

	in := map[string][]float64{"psnr": {20.5, 21}}
	path := filepath.Join("/runs", "r1", "scores.json")
	require.NoError(t, WriteJSON(mfs, path, in))
	assert.True(t, mfs.Exists("/runs/r1"))
	assert.Equal(t, []string{path}, mfs.Files("/runs"))

	var out map[string][]float64
	require.NoError(t, ReadJSON(mfs, path, &out))
	assert.Equal(t, in, out)

	require.NoError(t, mfs.WriteFile("/bad.json", []byte("{"), 0o644))
	assert.Error(t, ReadJSON(mfs, "/bad.json", &out))
	assert.Error(t, ReadJSON(mfs, "/nope.json", &out))
}

package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	f, err := NewFS(filepath.Join(t.TempDir(), "storage"))
	require.NoError(t, err)
	return f
}

func TestNewFSCreatesClassDirs(t *testing.T) {
	f := newTestFS(t)
	for _, c := range Classes {
		info, err := os.Stat(f.Dir(c))
		require.NoError(t, err)
		assert.True(t, info.IsDir(), "%s should be a directory", c)
	}
}

func TestStoreAndLoad(t *testing.T) {
	f := newTestFS(t)

	require.NoError(t, f.Store(Thumbnail, ThumbnailName("doc1", 0), []byte("jpeg-bytes")))

	got, err := f.Load(Thumbnail, "doc1_thumb_0.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), got)

	// Overwrite in place.
	require.NoError(t, f.Store(Thumbnail, ThumbnailName("doc1", 0), []byte("v2")))
	got, err = f.Load(Thumbnail, ThumbnailName("doc1", 0))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	entries, err := os.ReadDir(f.Dir(Thumbnail))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestLoadMissing(t *testing.T) {
	f := newTestFS(t)

	_, err := f.Load(Original, OriginalName("nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissing))
}

func TestClassesAreSeparate(t *testing.T) {
	f := newTestFS(t)

	require.NoError(t, f.Store(HighRes, "x.jpg", []byte("hi")))
	_, err := f.Load(Thumbnail, "x.jpg")
	assert.ErrorIs(t, err, ErrMissing)
}

func TestInvalidNames(t *testing.T) {
	f := newTestFS(t)

	for _, name := range []string{"", "../escape.pdf", "a/b.jpg", ".hidden"} {
		assert.Error(t, f.Store(Original, name, []byte("x")), "name %q", name)
	}
	assert.Error(t, f.Store(Class("other"), "a.jpg", []byte("x")))
}

func TestRemove(t *testing.T) {
	f := newTestFS(t)

	require.NoError(t, f.Store(Original, OriginalName("d"), []byte("%PDF-")))
	require.NoError(t, f.Remove(Original, OriginalName("d")))
	_, err := f.Load(Original, OriginalName("d"))
	assert.ErrorIs(t, err, ErrMissing)

	// Removing again is a no-op.
	assert.NoError(t, f.Remove(Original, OriginalName("d")))
}

func TestNames(t *testing.T) {
	assert.Equal(t, "abc.pdf", OriginalName("abc"))
	assert.Equal(t, "abc_thumb_3.jpg", ThumbnailName("abc", 3))
	assert.Equal(t, "abc_highres_12.jpg", HighResName("abc", 12))
}

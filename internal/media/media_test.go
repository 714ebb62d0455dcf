package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestCollectFilesClassifiesByExtension(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.jpg"))
	touch(t, filepath.Join(dir, "b.PNG"))
	touch(t, filepath.Join(dir, "clip.mp4"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "nested", "c.jpeg"))
	touch(t, filepath.Join(dir, "nested", "d.MOV"))

	images, videos, err := CollectFiles(dir)
	require.NoError(t, err)

	assert.Len(t, images, 3)
	assert.Len(t, videos, 2)
	for _, img := range images {
		assert.True(t, IsImage(img), img)
	}
	for _, vid := range videos {
		assert.True(t, IsVideo(vid), vid)
	}
}

func TestCollectFilesSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one.jpg")
	touch(t, path)

	images, videos, err := CollectFiles(path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, images)
	assert.Empty(t, videos)
}

func TestCollectFilesUnknownSingleFileYieldsNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readme.md")
	touch(t, path)

	images, videos, err := CollectFiles(path)
	require.NoError(t, err)
	assert.Empty(t, images)
	assert.Empty(t, videos)
}

func TestCollectFilesMissingPath(t *testing.T) {
	_, _, err := CollectFiles(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

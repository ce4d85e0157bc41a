package idleloop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePlaylist_RelativizesSameDirEntriesAndSelfReferences(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, playlistFileName)

	require.NoError(t, writePlaylist(path, []string{filepath.Join(dir, "a.mp4"), "/elsewhere/b.mp4"}, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "ffconcat version 1.0")
	assert.Contains(t, content, "file 'a.mp4'")
	assert.Contains(t, content, "file '/elsewhere/b.mp4'")
	assert.Contains(t, content, "file 'idle.txt'")
}

func TestWritePlaylist_NoSelfReference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.txt")

	require.NoError(t, writePlaylist(path, []string{"/clips/one.mp4"}, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), playlistFileName)
}

func TestWritePlaylist_IsAtomicOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, playlistFileName)

	require.NoError(t, writePlaylist(path, []string{"/clips/one.mp4"}, true))
	require.NoError(t, writePlaylist(path, []string{"/clips/two.mp4"}, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "two.mp4")
	assert.NotContains(t, string(data), "one.mp4")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp files after rename")
}

func TestEscapeQuote(t *testing.T) {
	assert.Equal(t, "it'\\''s", escapeQuote("it's"))
	assert.Equal(t, "plain.mp4", escapeQuote("plain.mp4"))
}

func TestCleanWorkDir_RemovesContentsNotDirItself(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leftover.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	require.NoError(t, cleanWorkDir(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanWorkDir_MissingDirIsNotAnError(t *testing.T) {
	assert.NoError(t, cleanWorkDir(filepath.Join(t.TempDir(), "nope")))
}

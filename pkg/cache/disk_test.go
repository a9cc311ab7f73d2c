package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAged(t *testing.T, path string, size int, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	mt := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mt, mt))
}

func TestSelectEvictions_UnderQuota(t *testing.T) {
	entries := []Entry{{Path: "a", Size: 10}, {Path: "b", Size: 10}}
	assert.Empty(t, SelectEvictions(entries, 20))
}

func TestSelectEvictions_OldestFirst(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		{Path: "new", Size: 40, ModTime: now},
		{Path: "old", Size: 40, ModTime: now.Add(-2 * time.Hour)},
		{Path: "mid", Size: 40, ModTime: now.Add(-time.Hour)},
	}

	got := SelectEvictions(entries, 50)

	require.Len(t, got, 2)
	assert.Equal(t, "old", got[0].Path)
	assert.Equal(t, "mid", got[1].Path)
}

func TestSelectEvictions_DeterministicTies(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	entries := []Entry{
		{Path: "c", Size: 10, ModTime: ts},
		{Path: "a", Size: 10, ModTime: ts},
		{Path: "b", Size: 10, ModTime: ts},
	}

	for i := 0; i < 5; i++ {
		got := SelectEvictions(entries, 15)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].Path)
		assert.Equal(t, "b", got[1].Path)
	}
}

func TestDiskCache_EnforceQuota(t *testing.T) {
	dir := t.TempDir()
	c, err := NewDiskCache(dir, 1)
	require.NoError(t, err)

	half := bytesPerMB / 2
	writeAged(t, c.Path("oldest.wav"), half, 3*time.Hour)
	writeAged(t, c.Path("sub/older.srt"), half, 2*time.Hour)
	writeAged(t, c.Path("newest.mp3"), half, time.Minute)

	removed, err := c.EnforceQuota()
	require.NoError(t, err)

	require.Len(t, removed, 1)
	assert.Equal(t, c.Path("oldest.wav"), removed[0].Path)
	assert.NoFileExists(t, c.Path("oldest.wav"))
	assert.FileExists(t, c.Path("sub/older.srt"))
	assert.FileExists(t, c.Path("newest.mp3"))

	_, total, err := c.Entries()
	require.NoError(t, err)
	assert.LessOrEqual(t, total, int64(bytesPerMB))
}

func TestDiskCache_Remove(t *testing.T) {
	c, err := NewDiskCache(t.TempDir(), 10)
	require.NoError(t, err)

	p := c.Path("job_left.wav")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	c.Remove(p, c.Path("missing.wav"), "")

	assert.NoFileExists(t, p)
}

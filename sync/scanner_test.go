package sync

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScanFs(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	files := map[string]string{
		"/data/news/a.txt":         "a",
		"/data/news/sub/b.txt":     "b",
		"/data/news/.hidden":       "h",
		"/data/news/.git/config":   "c",
		"/data/news/sub/deep/c.md": "c",
	}
	for p, body := range files {
		require.NoError(t, afero.WriteFile(fsys, p, []byte(body), 0o644))
	}
	return fsys
}

func TestEnumerate(t *testing.T) {
	fsys := newScanFs(t)
	m, err := NewMatcher("**/*", "**/.*")
	require.NoError(t, err)

	snap, dirs, err := Enumerate(fsys, "/data/news/", m, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/news", "/data/news/sub", "/data/news/sub/deep"}, dirs)
	assert.ElementsMatch(t, []string{"a.txt", "sub"}, snap["/data/news"])
	assert.ElementsMatch(t, []string{"b.txt", "deep"}, snap["/data/news/sub"])
	assert.Equal(t, []string{"c.md"}, snap["/data/news/sub/deep"])
	assert.NotContains(t, snap, "/data/news/.git")
	assert.Equal(t, 5, snap.Len())
}

func TestEnumerate_MissingRoot(t *testing.T) {
	_, _, err := Enumerate(afero.NewMemMapFs(), "/nope/", nil, nil)
	assert.Error(t, err)
}

func TestListLocal(t *testing.T) {
	fsys := newScanFs(t)
	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fsys.Chtimes("/data/news/a.txt", mtime, mtime))

	m, err := NewMatcher("**/*", "**/.*")
	require.NoError(t, err)
	snap, _, err := Enumerate(fsys, "/data/news/", m, nil)
	require.NoError(t, err)

	require.NoError(t, fsys.Remove("/data/news/sub/deep/c.md"))

	files := ListLocal(fsys, "/data/news/", snap)
	require.Len(t, files, 2, "directories and vanished files are skipped")

	assert.Equal(t, "a.txt", files[0].RelativePath)
	assert.Equal(t, "/data/news/a.txt", files[0].AbsolutePath)
	assert.True(t, files[0].ModifiedTime.Equal(mtime))
	assert.Equal(t, "sub/b.txt", files[1].RelativePath)
}

func TestEnumerate_OnDirRunsBeforeListing(t *testing.T) {
	fsys := newScanFs(t)
	m, err := NewMatcher("**/*", "**/.*")
	require.NoError(t, err)

	var visited []string
	snap, _, err := Enumerate(fsys, "/data/news/", m, func(dir string) {
		visited = append(visited, dir)
		// a file appearing right after the watch is added must still be listed
		require.NoError(t, afero.WriteFile(fsys, dir+"/racer.txt", []byte("r"), 0o644))
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/news", "/data/news/sub", "/data/news/sub/deep"}, visited)
	for _, dir := range visited {
		assert.Contains(t, snap[dir], "racer.txt", dir)
	}
}

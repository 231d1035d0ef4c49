package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_DefaultPatterns(t *testing.T) {
	m, err := NewMatcher("**/*", "**/.*")
	require.NoError(t, err)

	assert.True(t, m.Wants("a.txt", false))
	assert.True(t, m.Wants("x/y/z.bin", false))
	assert.True(t, m.Wants("x", true))

	assert.False(t, m.Wants(".hidden", false))
	assert.False(t, m.Wants("x/.git", true))
	assert.False(t, m.Wants("x/y/.DS_Store", false))
}

func TestMatcher_IncludeAppliesToFilesOnly(t *testing.T) {
	m, err := NewMatcher("*.jpg", "")
	require.NoError(t, err)

	assert.True(t, m.Wants("photos", true))
	assert.True(t, m.Wants("photos/cat.jpg", false))
	assert.False(t, m.Wants("photos/notes.txt", false))
}

func TestMatcher_PathPatterns(t *testing.T) {
	m, err := NewMatcher("docs/**", "docs/drafts/**, *.tmp")
	require.NoError(t, err)

	assert.True(t, m.Wants("docs/a.md", false))
	assert.True(t, m.Wants("docs/x/y/a.md", false))
	assert.False(t, m.Wants("src/a.go", false))
	assert.False(t, m.Wants("docs/drafts/a.md", false))
	assert.True(t, m.Excluded("docs/drafts"))
	assert.False(t, m.Wants("docs/scratch.tmp", false))
}

func TestMatcher_EmptyIncludeIncludesAll(t *testing.T) {
	m, err := NewMatcher("", "")
	require.NoError(t, err)
	assert.True(t, m.Wants("anything/at/all", false))
	assert.False(t, m.Excluded("anything"))
}

func TestMatcher_Nil(t *testing.T) {
	var m *Matcher
	assert.True(t, m.Wants("x", false))
}

func TestMatcher_BadPattern(t *testing.T) {
	_, err := NewMatcher("[a-", "")
	assert.Error(t, err)
	_, err = NewMatcher("**/*", "x/[")
	assert.Error(t, err)
}

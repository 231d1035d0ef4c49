package sync

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withDir(dir string) BindingConfig {
	cfg := testConfig()
	cfg.SyncDir = dir
	return cfg
}

func TestManager_IdenticalConfigsNoAction(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, "**/*", "**/.*")
	ctx := context.Background()

	res := m.Apply(ctx, []BindingConfig{withDir("a"), withDir("b")})
	assert.Equal(t, 2, res.Started)
	assert.Equal(t, 0, res.Stopped)

	res = m.Apply(ctx, []BindingConfig{withDir("b"), withDir("a")})
	assert.Equal(t, 0, res.Started)
	assert.Equal(t, 0, res.Stopped)
	assert.Equal(t, 2, res.Kept)

	starts, stops := f.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 0, stops)
	assert.Len(t, f.runners, 2)
}

func TestManager_ReplaceSyncDir(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, "**/*", "**/.*")
	ctx := context.Background()

	m.Apply(ctx, []BindingConfig{withDir("x")})
	res := m.Apply(ctx, []BindingConfig{withDir("y")})

	assert.Equal(t, 1, res.Started)
	assert.Equal(t, 1, res.Stopped)
	require.Len(t, f.runners, 2)
	assert.Equal(t, 1, f.runners[0].stopped)
	assert.Equal(t, "y", f.runners[1].cfg.SyncDir)
	assert.Equal(t, 1, f.runners[1].started)
	assert.Equal(t, 1, m.Len())
}

func TestManager_RegionChangeIsSameBinding(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, "**/*", "**/.*")
	ctx := context.Background()

	a := testConfig()
	a.Region = "us-east-1"
	m.Apply(ctx, []BindingConfig{a})

	a.Region = "eu-west-1"
	res := m.Apply(ctx, []BindingConfig{a})
	assert.Equal(t, 0, res.Started)
	assert.Equal(t, 0, res.Stopped)
}

func TestManager_Duplicates(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, "**/*", "**/.*")

	res := m.Apply(context.Background(), []BindingConfig{withDir("a"), withDir("a")})
	assert.Equal(t, 1, res.Started)
	assert.Equal(t, 1, m.Len())
	assert.Len(t, f.runners, 1)
}

func TestManager_DefaultsFillPatterns(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, "**/*", "**/.*")
	ctx := context.Background()

	bare := withDir("a")
	bare.IncludePattern, bare.ExcludePattern = "", ""
	m.Apply(ctx, []BindingConfig{bare})
	require.Len(t, f.runners, 1)
	assert.Equal(t, "**/*", f.runners[0].cfg.IncludePattern)

	// the explicit form of the same binding is not a change
	res := m.Apply(ctx, []BindingConfig{withDir("a")})
	assert.Equal(t, 0, res.Started+res.Stopped)
}

func TestManager_MalformedEntryRejected(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, "**/*", "**/.*")

	bad := withDir("a")
	bad.BucketName = ""
	unknown := withDir("c")
	unknown.VendorType = "azure"

	res := m.Apply(context.Background(), []BindingConfig{bad, withDir("b"), unknown})
	assert.Equal(t, 1, res.Started)
	require.Len(t, res.Rejected, 2)
	assert.ErrorIs(t, res.Rejected[0], ErrInvalidBinding)
	assert.ErrorIs(t, res.Rejected[1], ErrUnknownVendor)
	assert.Equal(t, 1, m.Len())
}

func TestManager_EmptyListStopsAll(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, "**/*", "**/.*")
	ctx := context.Background()

	m.Apply(ctx, []BindingConfig{withDir("a"), withDir("b"), withDir("c")})
	res := m.Apply(ctx, nil)
	assert.Equal(t, 3, res.Stopped)
	assert.Equal(t, 0, m.Len())

	_, stops := f.counts()
	assert.Equal(t, 3, stops)
}

func TestManager_StartFailure(t *testing.T) {
	f := &fakeFactory{startErr: errTransport}
	m := NewManager(f.build, "**/*", "**/.*")
	ctx := context.Background()

	res := m.Apply(ctx, []BindingConfig{withDir("a")})
	assert.Equal(t, 0, res.Started)
	require.Len(t, res.StartFailed, 1)
	assert.ErrorIs(t, res.StartFailed[0], errTransport)
	assert.Equal(t, 0, m.Len())

	// a later apply retries the binding
	f.startErr = nil
	res = m.Apply(ctx, []BindingConfig{withDir("a")})
	assert.Equal(t, 1, res.Started)
	assert.Equal(t, 1, m.Len())
}

func TestManager_FactoryError(t *testing.T) {
	m := NewManager(func(BindingConfig) (Runner, error) {
		return nil, errors.New("bad pattern")
	}, "**/*", "**/.*")

	res := m.Apply(context.Background(), []BindingConfig{withDir("a")})
	assert.Len(t, res.Rejected, 1)
	assert.Equal(t, 0, m.Len())
}

func TestManager_RandomizedStartStopCounts(t *testing.T) {
	pool := []BindingConfig{withDir("a"), withDir("b"), withDir("c"), withDir("d"), withDir("e")}
	rng := rand.New(rand.NewSource(42))

	f := &fakeFactory{}
	m := NewManager(f.build, "**/*", "**/.*")
	ctx := context.Background()
	current := map[BindingKey]bool{}

	for round := 0; round < 50; round++ {
		var next []BindingConfig
		wanted := map[BindingKey]bool{}
		for _, cfg := range pool {
			if rng.Intn(2) == 0 {
				next = append(next, cfg)
				wanted[cfg.Key()] = true
			}
		}

		expectStart, expectStop := 0, 0
		for k := range wanted {
			if !current[k] {
				expectStart++
			}
		}
		for k := range current {
			if !wanted[k] {
				expectStop++
			}
		}

		res := m.Apply(ctx, next)
		require.Equal(t, expectStart, res.Started, "round %d", round)
		require.Equal(t, expectStop, res.Stopped, "round %d", round)
		require.Equal(t, len(wanted), m.Len(), "round %d", round)
		current = wanted
	}

	starts, stops := f.counts()
	assert.Equal(t, starts-stops, m.Len())
}

func TestManager_StatusesNaturalOrder(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, "**/*", "**/.*")
	m.Apply(context.Background(), []BindingConfig{withDir("dir10"), withDir("dir2"), withDir("dir1")})

	var keys []string
	for _, s := range m.Statuses() {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"aws:b1:dir1", "aws:b1:dir2", "aws:b1:dir10"}, keys)
}

func TestManager_Close(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, "**/*", "**/.*")
	m.Apply(context.Background(), []BindingConfig{withDir("a"), withDir("b")})

	m.Close(context.Background())
	assert.Equal(t, 0, m.Len())
	_, stops := f.counts()
	assert.Equal(t, 2, stops)
}

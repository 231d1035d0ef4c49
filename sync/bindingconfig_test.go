package sync

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingConfig_Validate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	gcp := testConfig()
	gcp.VendorType = VendorGCP
	require.NoError(t, gcp.Validate())

	missing := []func(*BindingConfig){
		func(c *BindingConfig) { c.VendorType = "" },
		func(c *BindingConfig) { c.BucketName = "" },
		func(c *BindingConfig) { c.SyncDir = "  " },
		func(c *BindingConfig) { c.IncludePattern = "" },
		func(c *BindingConfig) { c.ExcludePattern = "" },
	}
	for i, mutate := range missing {
		cfg := testConfig()
		mutate(&cfg)
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrInvalidBinding, "case %d", i)
	}

	azure := testConfig()
	azure.VendorType = "azure"
	assert.ErrorIs(t, azure.Validate(), ErrUnknownVendor)
}

func TestBindingConfig_WithDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.IncludePattern = ""
	cfg.ExcludePattern = " "

	got := cfg.WithDefaults("*.txt", "tmp/**")
	assert.Equal(t, "*.txt", got.IncludePattern)
	assert.Equal(t, "tmp/**", got.ExcludePattern)
	assert.Empty(t, cfg.IncludePattern, "receiver untouched")

	kept := testConfig().WithDefaults("*.txt", "tmp/**")
	assert.Equal(t, "**/*", kept.IncludePattern)
	assert.Equal(t, "**/.*", kept.ExcludePattern)
}

func TestBindingConfig_KeyIgnoresRegion(t *testing.T) {
	a := testConfig()
	b := testConfig()
	b.Region = "eu-west-1"
	assert.Equal(t, a.Key(), b.Key())

	c := testConfig()
	c.IgnoreLocalDeletes = true
	assert.NotEqual(t, a.Key(), c.Key())

	d := testConfig()
	d.SyncDir = "other"
	assert.NotEqual(t, a.Key(), d.Key())

	assert.Equal(t, "aws:b1:news", a.Key().String())
}

func TestBindingConfig_Root(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "/data/news/", cfg.Root("/data"))
	assert.Equal(t, "/data/news/", cfg.Root("/data/"))

	cfg.SyncDir = "a/b/"
	assert.Equal(t, "/mnt/a/b/", cfg.Root("/mnt"))
}

func TestBindingConfig_QueueName(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "AWS-INVENTORY-EVENTS", cfg.QueueName())
	cfg.VendorType = VendorGCP
	assert.Equal(t, "GCP-INVENTORY-EVENTS", cfg.QueueName())
}

func TestBindingConfig_Destination(t *testing.T) {
	cfg := testConfig()
	cfg.Region = "ap-south-1"
	assert.Equal(t, Destination{Bucket: "b1", Region: "ap-south-1"}, cfg.Destination())

	cfg.VendorType = VendorGCP
	assert.Equal(t, Destination{Bucket: "b1"}, cfg.Destination())
}

func TestBindingConfig_SyncDirMustStayUnderMountRoot(t *testing.T) {
	for _, dir := range []string{"..", "../etc", "/../etc", "news/../../etc", `..\etc`} {
		cfg := testConfig()
		cfg.SyncDir = dir
		err := cfg.Validate()
		if filepath.Separator == '/' && dir == `..\etc` {
			// a backslash is an ordinary name character on unix
			assert.NoError(t, err, dir)
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidBinding, dir)
	}

	for _, dir := range []string{"news", "/news", "a/b/", "a/../b", "..data"} {
		cfg := testConfig()
		cfg.SyncDir = dir
		assert.NoError(t, cfg.Validate(), dir)
	}
}

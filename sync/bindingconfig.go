package sync

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidBinding is returned for a binding config missing a required field.
	ErrInvalidBinding = errors.New("invalid binding config")
	// ErrUnknownVendor is returned for a vendor type with no job queue.
	ErrUnknownVendor = errors.New("unknown vendor type")
)

// BindingConfig declares one directory-to-bucket relationship.
type BindingConfig struct {
	VendorType            VendorType `json:"vendorType" yaml:"vendorType"`
	BucketName            string     `json:"bucketName" yaml:"bucketName"`
	SyncDir               string     `json:"syncDir" yaml:"syncDir"`
	IncludePattern        string     `json:"includePattern" yaml:"includePattern"`
	ExcludePattern        string     `json:"excludePattern" yaml:"excludePattern"`
	IgnoreLocalDeletes    bool       `json:"ignoreLocalDeletes,omitempty" yaml:"ignoreLocalDeletes,omitempty"`
	SuppressInventoryScan bool       `json:"suppressInventoryScan,omitempty" yaml:"suppressInventoryScan,omitempty"`
	Region                string     `json:"region,omitempty" yaml:"region,omitempty"`
}

// BindingKey is the identity of a binding across configuration reloads.
// Two configs with equal keys are the same binding.
type BindingKey struct {
	VendorType            VendorType
	BucketName            string
	SyncDir               string
	IncludePattern        string
	ExcludePattern        string
	IgnoreLocalDeletes    bool
	SuppressInventoryScan bool
}

// Key returns the identity tuple of c. Region is deliberately not part of it.
func (c BindingConfig) Key() BindingKey {
	return BindingKey{
		VendorType:            c.VendorType,
		BucketName:            c.BucketName,
		SyncDir:               c.SyncDir,
		IncludePattern:        c.IncludePattern,
		ExcludePattern:        c.ExcludePattern,
		IgnoreLocalDeletes:    c.IgnoreLocalDeletes,
		SuppressInventoryScan: c.SuppressInventoryScan,
	}
}

func (k BindingKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.VendorType, k.BucketName, k.SyncDir)
}

// WithDefaults fills empty patterns from the process-level defaults.
func (c BindingConfig) WithDefaults(include, exclude string) BindingConfig {
	if strings.TrimSpace(c.IncludePattern) == "" {
		c.IncludePattern = include
	}
	if strings.TrimSpace(c.ExcludePattern) == "" {
		c.ExcludePattern = exclude
	}
	return c
}

// Validate checks required fields, that syncDir stays under the mount root,
// and the vendor type.
func (c BindingConfig) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"vendorType", string(c.VendorType)},
		{"bucketName", c.BucketName},
		{"syncDir", c.SyncDir},
		{"includePattern", c.IncludePattern},
		{"excludePattern", c.ExcludePattern},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidBinding, f.name)
		}
	}
	if rel := path.Clean(strings.TrimLeft(filepath.ToSlash(c.SyncDir), "/")); rel == ".." || strings.HasPrefix(rel, "../") {
		return fmt.Errorf("%w: syncDir %q leaves the mount root", ErrInvalidBinding, c.SyncDir)
	}
	switch c.VendorType {
	case VendorAWS, VendorGCP:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownVendor, c.VendorType)
	}
	return nil
}

// Root returns the absolute watch root under mountRoot, always ending in a
// separator so that stripping it leaves a bucket-relative name.
func (c BindingConfig) Root(mountRoot string) string {
	root := filepath.Join(mountRoot, c.SyncDir)
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return root
}

// Destination returns the bucket and, for AWS only, the region.
func (c BindingConfig) Destination() Destination {
	d := Destination{Bucket: c.BucketName}
	if c.VendorType == VendorAWS && c.Region != "" {
		d.Region = c.Region
	}
	return d
}

// QueueName returns the job queue a binding of this vendor publishes to.
func (c BindingConfig) QueueName() string {
	return strings.ToUpper(string(c.VendorType)) + "-INVENTORY-EVENTS"
}

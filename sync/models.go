package sync

import "time"

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// VendorType names the remote storage vendor a binding targets.
type VendorType string

const (
	VendorAWS VendorType = "aws"
	VendorGCP VendorType = "gcp"
)

// JobEvent is the event value carried by a JobRequest.
type JobEvent string

const (
	JobAddDir    JobEvent = "addDir"
	JobRemoveDir JobEvent = "removeDir"
	JobUpdate    JobEvent = "update"
	JobRemove    JobEvent = "remove"
	JobInventory JobEvent = "inventory"
)

// inventoryProjection is the field list requested from the inventory worker.
var inventoryProjection = []string{"name", "updated"}

// FileRecord is one regular file found under a binding root.
type FileRecord struct {
	RelativePath string
	AbsolutePath string
	ModifiedTime time.Time
}

// InventoryEntry is one object in a remote bucket inventory.
type InventoryEntry struct {
	Name    string    `json:"name"`
	Updated time.Time `json:"updated"`
}

// JobRequest is the payload placed on the job queue.
type JobRequest struct {
	SourceFileName string   `json:"sourceFileName,omitempty"`
	TargetFileName string   `json:"targetFileName,omitempty"`
	TargetBucket   string   `json:"targetBucket"`
	Event          JobEvent `json:"event"`
	Region         string   `json:"region,omitempty"`
	Projection     []string `json:"projection,omitempty"`
}

// Destination is the bucket-side half of every job a binding emits.
type Destination struct {
	Bucket string
	Region string
}

// ConfigSnapshot is the value held in the configuration store.
type ConfigSnapshot struct {
	Modified string          `json:"modified" yaml:"modified"`
	Body     []BindingConfig `json:"body" yaml:"body"`
}

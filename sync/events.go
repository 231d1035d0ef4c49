package sync

import "strings"

// WatchOp is the type of a filesystem watch event.
type WatchOp string

const (
	WatchReady     WatchOp = "ready"
	WatchAddDir    WatchOp = "addDir"
	WatchUnlinkDir WatchOp = "unlinkDir"
	WatchAdd       WatchOp = "add"
	WatchChange    WatchOp = "change"
	WatchUnlink    WatchOp = "unlink"
	WatchError     WatchOp = "error"
)

// WatchEvent is delivered by a Watch. Snapshot is set only for WatchReady,
// Err only for WatchError.
type WatchEvent struct {
	Op       WatchOp
	Path     string
	Snapshot Snapshot
	Err      error
}

// Retry counts fixed at submission time.
const (
	dirRetries  = 0
	fileRetries = 2
)

// TargetPath strips the binding root from an absolute path.
func TargetPath(root, absPath string) string {
	return strings.TrimPrefix(absPath, root)
}

// JobForEvent maps one watch event to a job request. ok is false when the
// event produces no job (unknown op, or a delete while deletes are ignored).
func JobForEvent(dest Destination, root string, ev WatchEvent, ignoreLocalDeletes bool) (req JobRequest, retries int, ok bool) {
	var event JobEvent
	switch ev.Op {
	case WatchAddDir:
		event, retries = JobAddDir, dirRetries
	case WatchUnlinkDir:
		event, retries = JobRemoveDir, dirRetries
	case WatchAdd, WatchChange:
		event, retries = JobUpdate, fileRetries
	case WatchUnlink:
		if ignoreLocalDeletes {
			return JobRequest{}, 0, false
		}
		event, retries = JobRemove, fileRetries
	default:
		return JobRequest{}, 0, false
	}
	return JobRequest{
		SourceFileName: ev.Path,
		TargetFileName: TargetPath(root, ev.Path),
		TargetBucket:   dest.Bucket,
		Event:          event,
		Region:         dest.Region,
	}, retries, true
}

// InventoryJob is the request that asks a worker for the bucket inventory.
func InventoryJob(dest Destination) JobRequest {
	return JobRequest{
		TargetBucket: dest.Bucket,
		Event:        JobInventory,
		Region:       dest.Region,
		Projection:   append([]string(nil), inventoryProjection...),
	}
}

package sync

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reconcile compares local files against a remote inventory and returns an
// update job for every file that is missing remotely or strictly newer
// locally. Remote-only objects are ignored. Inputs are not modified.
func Reconcile(dest Destination, local []FileRecord, remote []InventoryEntry) []JobRequest {
	index := make(map[string]int, len(remote))
	for i, entry := range remote {
		if _, dup := index[entry.Name]; !dup {
			index[entry.Name] = i
		}
	}

	var jobs []JobRequest
	for _, file := range local {
		name := normalizeRelPath(file.RelativePath)
		if name == "" {
			continue
		}
		if i, found := index[name]; found && !file.ModifiedTime.After(remote[i].Updated) {
			continue
		}
		jobs = append(jobs, JobRequest{
			SourceFileName: file.AbsolutePath,
			TargetFileName: name,
			TargetBucket:   dest.Bucket,
			Event:          JobUpdate,
			Region:         dest.Region,
		})
	}
	return jobs
}

// normalizeRelPath strips a single leading separator.
func normalizeRelPath(p string) string {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return p[1:]
	}
	return p
}

// ParseInventory decodes a serialized remote inventory.
func ParseInventory(data []byte) ([]InventoryEntry, error) {
	var entries []InventoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	if entries == nil {
		return nil, fmt.Errorf("decode inventory: not an array")
	}
	return entries, nil
}

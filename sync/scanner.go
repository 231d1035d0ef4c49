package sync

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Snapshot maps each watched directory (absolute, no trailing separator) to
// the names of its watched entries, as enumerated when a watch became ready.
type Snapshot map[string][]string

// Len returns the number of entries in the snapshot.
func (s Snapshot) Len() int {
	n := 0
	for _, names := range s {
		n += len(names)
	}
	return n
}

// Enumerate walks root and returns the snapshot of wanted entries along with
// the list of directories to watch (root first). onDir, if set, is called for
// each wanted directory before its entries are read, so a watch added there
// sees every entry the snapshot misses.
func Enumerate(fsys afero.Fs, root string, m *Matcher, onDir func(dir string)) (Snapshot, []string, error) {
	l := sub("scanner")
	base := strings.TrimSuffix(root, string(filepath.Separator))
	l.Debug("enumerate start", "root", base)

	snap := make(Snapshot)
	var dirs []string

	err := afero.Walk(fsys, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			l.Warn("enumerate walk error", "path", p, "err", err)
			if p == base {
				return err
			}
			return nil // skip inaccessible entries
		}
		if p == base {
			dirs = append(dirs, p)
			snap[p] = nil
			if onDir != nil {
				onDir(p)
			}
			return nil
		}

		rel := TargetPath(root, p)
		if !m.Wants(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		parent := filepath.Dir(p)
		snap[parent] = append(snap[parent], info.Name())
		if info.IsDir() {
			dirs = append(dirs, p)
			if _, ok := snap[p]; !ok {
				snap[p] = nil
			}
			if onDir != nil {
				onDir(p)
			}
		}
		return nil
	})

	l.Debug("enumerate complete", "root", base, "entries", snap.Len(), "dirs", len(dirs))
	return snap, dirs, err
}

// ListLocal stats every entry of snap under root and returns the regular
// files. Entries that vanished since the snapshot are skipped.
func ListLocal(fsys afero.Fs, root string, snap Snapshot) []FileRecord {
	l := sub("scanner")

	dirs := make([]string, 0, len(snap))
	for dir := range snap {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var files []FileRecord
	for _, dir := range dirs {
		for _, name := range snap[dir] {
			abs := filepath.Join(dir, name)
			info, err := fsys.Stat(abs)
			if err != nil {
				l.Debug("list stat skipped", "path", abs, "err", err)
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}
			files = append(files, FileRecord{
				RelativePath: TargetPath(root, abs),
				AbsolutePath: abs,
				ModifiedTime: info.ModTime(),
			})
		}
	}
	return files
}

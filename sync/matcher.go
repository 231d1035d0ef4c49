package sync

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Matcher decides which paths under a binding root are watched.
// Patterns are glob-style over slash-separated relative paths; "**" matches
// any number of segments and a pattern without "/" matches the base name.
// Several patterns may be given separated by commas.
type Matcher struct {
	include []string
	exclude []string
}

// NewMatcher compiles include and exclude pattern lists.
func NewMatcher(include, exclude string) (*Matcher, error) {
	m := &Matcher{include: splitPatterns(include), exclude: splitPatterns(exclude)}
	for _, p := range append(append([]string(nil), m.include...), m.exclude...) {
		for _, seg := range strings.Split(p, "/") {
			if _, err := path.Match(seg, ""); err != nil {
				return nil, fmt.Errorf("bad pattern %q: %w", p, err)
			}
		}
	}
	return m, nil
}

func splitPatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Excluded reports whether rel matches any exclude pattern.
func (m *Matcher) Excluded(rel string) bool {
	return matchAny(m.exclude, rel)
}

// Wants reports whether an entry should be watched and reported. Directories
// are wanted unless excluded; files must also match an include pattern.
// An empty include list includes everything.
func (m *Matcher) Wants(rel string, isDir bool) bool {
	if m == nil {
		return true
	}
	if m.Excluded(rel) {
		return false
	}
	if isDir || len(m.include) == 0 {
		return true
	}
	return matchAny(m.include, rel)
}

func matchAny(patterns []string, rel string) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" {
		return false
	}
	name := strings.Split(rel, "/")
	for _, p := range patterns {
		if !strings.Contains(p, "/") {
			if ok, _ := path.Match(p, name[len(name)-1]); ok {
				return true
			}
			continue
		}
		if matchSegments(strings.Split(p, "/"), name) {
			return true
		}
	}
	return false
}

func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		if ok, _ := path.Match(pat[0], name[0]); !ok {
			return false
		}
		pat, name = pat[1:], name[1:]
	}
	return len(name) == 0
}

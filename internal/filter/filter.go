package filter

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Filter decides which project paths are mirrored to the remote host.
// A path is excluded when any of its components equals an excluded name.
type Filter struct {
	names map[string]struct{}
}

// New creates a filter excluding the given basenames
func New(names ...string) *Filter {
	f := &Filter{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n == "" {
			continue
		}
		f.names[n] = struct{}{}
	}
	return f
}

// Names returns the exclusion set in sorted order
func (f *Filter) Names() []string {
	out := make([]string, 0, len(f.names))
	for n := range f.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ExcludesName reports whether a single path component is excluded
func (f *Filter) ExcludesName(name string) bool {
	_, ok := f.names[name]
	return ok
}

// Excluded reports whether any component of the relative path rel is
// in the exclusion set. Both slash and OS separators are accepted.
func (f *Filter) Excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if part == "" || part == "." {
			continue
		}
		if f.ExcludesName(part) {
			return true
		}
	}
	return false
}

// Include is the negation of Excluded
func (f *Filter) Include(rel string) bool {
	return !f.Excluded(rel)
}

// Match reports whether path, taken relative to base, should be synced
func (f *Filter) Match(base, path string) (bool, error) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false, fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, fmt.Errorf("path %s is outside %s", path, base)
	}
	return f.Include(rel), nil
}

package tree

import (
	"fmt"
	"iter"
	"os"
	"path"
	"sort"

	"github.com/go-git/go-billy/v5"

	"github.com/schaermu/vpsdeploy/internal/filter"
)

// Kind distinguishes directories from files in a walk
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

func (k Kind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// Entry is one local path to mirror and its remote counterpart
type Entry struct {
	Kind       Kind
	Rel        string // slash-separated path relative to the project root
	RemotePath string // remote root joined with Rel
	Mode       os.FileMode
	Size       int64
}

// Walk lazily yields every path under the root of fsys that passes f,
// paired with its mirrored path under remoteRoot. Entries of a directory
// are visited in lexical order and a directory is yielded before its
// children. Excluded directories are never read.
//
// The sequence stops after the first error.
func Walk(fsys billy.Filesystem, f *filter.Filter, remoteRoot string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		walkDir(fsys, f, "", remoteRoot, yield)
	}
}

// walkDir returns false once the consumer stopped or an error was yielded
func walkDir(fsys billy.Filesystem, f *filter.Filter, rel, remote string, yield func(Entry, error) bool) bool {
	dir := rel
	if dir == "" {
		dir = "."
	}

	infos, err := fsys.ReadDir(dir)
	if err != nil {
		yield(Entry{}, fmt.Errorf("failed to read directory %q: %w", dir, err))
		return false
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, info := range infos {
		childRel := path.Join(rel, info.Name())
		if f.Excluded(childRel) {
			continue
		}
		childRemote := remote + "/" + info.Name()

		// Follow symlinks the way an upload would
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := fsys.Stat(childRel)
			if err != nil {
				yield(Entry{}, fmt.Errorf("failed to resolve symlink %q: %w", childRel, err))
				return false
			}
			info = resolved
		}

		switch {
		case info.IsDir():
			entry := Entry{Kind: KindDir, Rel: childRel, RemotePath: childRemote, Mode: info.Mode()}
			if !yield(entry, nil) {
				return false
			}
			if !walkDir(fsys, f, childRel, childRemote, yield) {
				return false
			}
		case info.Mode().IsRegular():
			entry := Entry{Kind: KindFile, Rel: childRel, RemotePath: childRemote, Mode: info.Mode(), Size: info.Size()}
			if !yield(entry, nil) {
				return false
			}
		default:
			// sockets, devices and pipes have nothing to upload
		}
	}

	return true
}

// Collect drains a walk into a slice
func Collect(seq iter.Seq2[Entry, error]) ([]Entry, error) {
	var entries []Entry
	for entry, err := range seq {
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Summary counts the files, directories and bytes of a plan
type Summary struct {
	Files int
	Dirs  int
	Bytes int64
}

// Summarize totals a collected plan
func Summarize(entries []Entry) Summary {
	var s Summary
	for _, e := range entries {
		if e.Kind == KindDir {
			s.Dirs++
			continue
		}
		s.Files++
		s.Bytes += e.Size
	}
	return s
}

// Package delta records what a workspace looked like after a build and
// turns the difference to its current contents into a tree of changes.
package delta

import (
	"context"
	"io/fs"
	"maps"
	"path"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"kiln/internal/project"
	"kiln/internal/workspace"
)

// Entry is one file or folder in a snapshot.
type Entry struct {
	Dir    bool           `msgpack:"d"`
	Size   int64          `msgpack:"n"`
	Digest project.Digest `msgpack:"h"`
}

// Snapshot maps workspace paths below a set of roots to their entries.
type Snapshot struct {
	Roots   []string         `msgpack:"roots"`
	Entries map[string]Entry `msgpack:"entries"`
}

// SkipFunc reports whether a path is left out of a snapshot. Skipping a
// folder skips everything below it.
type SkipFunc func(p string, dir bool) bool

// Take walks roots on fsys and hashes every file. Missing roots record
// nothing, so a root that disappears later shows up as removed.
func Take(ctx context.Context, fsys workspace.FileSystem, roots []string, skip SkipFunc) (*Snapshot, error) {
	snap := &Snapshot{Roots: normalizeRoots(roots), Entries: make(map[string]Entry)}

	type pending struct {
		path string
		size int64
	}
	var files []pending
	for _, root := range snap.Roots {
		info, err := fsys.Stat(root)
		if err != nil {
			if workspace.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, pending{path: root, size: info.Size()})
			continue
		}
		err = fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			p = workspace.Clean(p)
			if skip != nil && p != root && skip(p, d.IsDir()) {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if p != "." {
					snap.Entries[p] = Entry{Dir: true}
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			files = append(files, pending{path: p, size: info.Size()})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	digests := make([]project.Digest, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := fsys.ReadFile(f.path)
			if err != nil {
				return err
			}
			digests[i] = project.DigestOf(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, f := range files {
		snap.Entries[f.path] = Entry{Size: f.size, Digest: digests[i]}
	}
	return snap, nil
}

// normalizeRoots cleans roots and drops those nested in another root.
func normalizeRoots(roots []string) []string {
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		cleaned = append(cleaned, workspace.Clean(r))
	}
	slices.Sort(cleaned)
	cleaned = slices.Compact(cleaned)
	out := cleaned[:0]
	for _, r := range cleaned {
		if !slices.ContainsFunc(out, func(o string) bool { return within(r, o) }) {
			out = append(out, r)
		}
	}
	return out
}

func within(p, dir string) bool {
	return dir == "." || p == dir || strings.HasPrefix(p, dir+"/")
}

// Len returns the number of recorded entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Lookup returns the entry for p.
func (s *Snapshot) Lookup(p string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	e, ok := s.Entries[workspace.Clean(p)]
	return e, ok
}

// Covers reports whether p lies below one of the snapshot roots.
func (s *Snapshot) Covers(p string) bool {
	if s == nil {
		return false
	}
	p = workspace.Clean(p)
	return slices.ContainsFunc(s.Roots, func(r string) bool { return within(p, r) })
}

// Overlay returns a copy of s whose entries below the roots of top are
// replaced by the entries of top.
func (s *Snapshot) Overlay(top *Snapshot) *Snapshot {
	if s == nil {
		return top
	}
	out := &Snapshot{Roots: slices.Clone(s.Roots), Entries: make(map[string]Entry, len(s.Entries))}
	if top == nil {
		maps.Copy(out.Entries, s.Entries)
		return out
	}
	for p, e := range s.Entries {
		if !top.Covers(p) {
			out.Entries[p] = e
		}
	}
	maps.Copy(out.Entries, top.Entries)
	out.Roots = normalizeRoots(append(out.Roots, top.Roots...))
	return out
}

func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "" {
		return "."
	}
	return dir
}

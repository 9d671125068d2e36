package delta

import (
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
)

// Kind tells how a path changed between two snapshots.
type Kind uint8

const (
	NoChange Kind = iota
	Added
	Removed
	Changed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

// Delta is one node of a change tree. Folders that only contain changes
// are Changed; Added and Removed folders list everything below them.
type Delta struct {
	Path string
	Kind Kind
	Dir  bool
	// Content is set on Changed files whose bytes differ.
	Content  bool
	Children []*Delta
}

// Name returns the last path segment.
func (d *Delta) Name() string { return path.Base(d.Path) }

// Empty reports whether the tree records no change at all.
func (d *Delta) Empty() bool {
	return d == nil || (d.Kind == NoChange && len(d.Children) == 0)
}

// Find returns the node for p, or nil when p did not change. A path that
// turned from a file into a folder has two nodes; Find prefers the folder.
func (d *Delta) Find(p string) *Delta {
	if d == nil {
		return nil
	}
	if p == d.Path || p == "" {
		return d
	}
	cur := d
	for {
		var next *Delta
		for _, c := range cur.Children {
			if c.Path == p {
				if next == nil || c.Dir {
					next = c
				}
				continue
			}
			if strings.HasPrefix(p, c.Path+"/") && c.Dir {
				next = c
				break
			}
		}
		if next == nil || next.Path == p {
			return next
		}
		cur = next
	}
}

// Walk calls fn for d and every node below it, parents first.
func (d *Delta) Walk(fn func(*Delta)) {
	if d == nil {
		return
	}
	fn(d)
	for _, c := range d.Children {
		c.Walk(fn)
	}
}

// Lines renders the leaf changes as "+ p", "- p" and "* p" lines.
func (d *Delta) Lines() []string {
	var out []string
	d.Walk(func(n *Delta) {
		if n.Dir && n.Kind == Changed {
			return
		}
		switch n.Kind {
		case Added:
			out = append(out, "+ "+n.Path)
		case Removed:
			out = append(out, "- "+n.Path)
		case Changed:
			out = append(out, "* "+n.Path)
		}
	})
	return out
}

func (d *Delta) String() string {
	return fmt.Sprintf("%s %s (%d children)", d.Kind, d.Path, len(d.Children))
}

// Diff compares two snapshots. A nil prev makes everything in cur added.
// The result is rooted at "." and is never nil.
func Diff(prev, cur *Snapshot) *Delta {
	root := &Delta{Path: ".", Dir: true}
	nodes := map[string]*Delta{".": root}

	var ensure func(p string) *Delta
	ensure = func(p string) *Delta {
		if n, ok := nodes[p]; ok {
			return n
		}
		n := &Delta{Path: p, Kind: Changed, Dir: true}
		nodes[p] = n
		parent := ensure(parentOf(p))
		parent.Children = append(parent.Children, n)
		if parent.Kind == NoChange {
			parent.Kind = Changed
		}
		return n
	}
	attach := func(n *Delta) {
		parent := ensure(parentOf(n.Path))
		parent.Children = append(parent.Children, n)
		if parent.Kind == NoChange {
			parent.Kind = Changed
		}
	}

	var prevEntries, curEntries map[string]Entry
	if prev != nil {
		prevEntries = prev.Entries
	}
	if cur != nil {
		curEntries = cur.Entries
	}
	paths := slices.Sorted(maps.Keys(prevEntries))
	for p := range curEntries {
		if _, ok := prevEntries[p]; !ok {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)

	for _, p := range paths {
		pe, inPrev := prevEntries[p]
		ce, inCur := curEntries[p]
		var n *Delta
		switch {
		case inPrev && !inCur:
			n = &Delta{Path: p, Kind: Removed, Dir: pe.Dir}
		case !inPrev && inCur:
			n = &Delta{Path: p, Kind: Added, Dir: ce.Dir}
		case pe.Dir != ce.Dir:
			attach(&Delta{Path: p, Kind: Removed, Dir: pe.Dir})
			n = &Delta{Path: p, Kind: Added, Dir: ce.Dir}
		case pe.Dir:
			continue
		case pe.Digest != ce.Digest || pe.Size != ce.Size:
			n = &Delta{Path: p, Kind: Changed, Content: true}
		default:
			continue
		}
		if existing, ok := nodes[p]; ok && existing.Dir && n.Dir {
			// created earlier as an intermediate folder
			existing.Kind = n.Kind
			continue
		}
		if n.Dir {
			nodes[p] = n
		}
		attach(n)
	}

	root.Walk(func(n *Delta) {
		slices.SortStableFunc(n.Children, func(a, b *Delta) int { return strings.Compare(a.Path, b.Path) })
	})
	return root
}

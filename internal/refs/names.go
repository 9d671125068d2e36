package refs

import (
	"fmt"
	"slices"
	"strings"

	"fortio.org/safecast"
)

// NameID indexes a name in a NameTable. ID 0 is the empty name, which
// stands for the default package in qualified and root dimensions.
type NameID uint32

const EmptyName NameID = 0

// Well-known names are referenced by nearly every unit. Collections do
// not store well-known qualified or simple names, and a query carrying
// one turns that dimension into a wildcard.
var (
	wellKnownQualified = []string{"kiln", "kiln/lang", "kiln/util"}
	wellKnownSimple    = []string{"Object", "String", "System", "Integer", "Boolean", "lang", "util", "kiln"}
	wellKnownRoots     = []string{"kiln"}
)

// NameTable is an append-only arena of names shared by every collection
// stored in one build state.
type NameTable struct {
	byID  []string
	index map[string]NameID

	qualifiedWK map[NameID]struct{}
	simpleWK    map[NameID]struct{}
}

// NewNameTable returns a table with the empty name and the well-known
// names preinterned.
func NewNameTable() *NameTable {
	t := &NameTable{
		byID:  []string{""},
		index: map[string]NameID{"": EmptyName},
	}
	t.seedWellKnown()
	return t
}

// NameTableFrom rebuilds a table from a Names() snapshot. IDs are
// preserved so persisted collections stay valid.
func NameTableFrom(names []string) (*NameTable, error) {
	if len(names) == 0 || names[0] != "" {
		return nil, fmt.Errorf("refs: name table snapshot must start with the empty name")
	}
	t := &NameTable{
		byID:  make([]string, 0, len(names)),
		index: make(map[string]NameID, len(names)),
	}
	for i, n := range names {
		id, err := safecast.Conv[NameID](i)
		if err != nil {
			return nil, fmt.Errorf("refs: name table too large: %w", err)
		}
		if _, dup := t.index[n]; dup {
			return nil, fmt.Errorf("refs: duplicate name %q in snapshot", n)
		}
		t.byID = append(t.byID, n)
		t.index[n] = id
	}
	t.seedWellKnown()
	return t, nil
}

func (t *NameTable) seedWellKnown() {
	t.qualifiedWK = make(map[NameID]struct{}, len(wellKnownQualified))
	t.simpleWK = make(map[NameID]struct{}, len(wellKnownSimple))
	for _, n := range wellKnownQualified {
		t.qualifiedWK[t.Intern(n)] = struct{}{}
	}
	for _, n := range wellKnownSimple {
		t.simpleWK[t.Intern(n)] = struct{}{}
	}
	for _, n := range wellKnownRoots {
		t.Intern(n)
	}
}

// Intern inserts s when missing and returns its ID.
func (t *NameTable) Intern(s string) NameID {
	if id, ok := t.index[s]; ok {
		return id
	}
	id, err := safecast.Conv[NameID](len(t.byID))
	if err != nil {
		panic(fmt.Errorf("refs: name id overflow: %w", err))
	}
	cpy := strings.Clone(s)
	t.byID = append(t.byID, cpy)
	t.index[cpy] = id
	return id
}

// ID returns the ID of s without inserting it.
func (t *NameTable) ID(s string) (NameID, bool) {
	id, ok := t.index[s]
	return id, ok
}

// Lookup returns the name for id.
func (t *NameTable) Lookup(id NameID) (string, bool) {
	if int(id) >= len(t.byID) {
		return "", false
	}
	return t.byID[id], true
}

// MustLookup panics on an unknown id.
func (t *NameTable) MustLookup(id NameID) string {
	s, ok := t.Lookup(id)
	if !ok {
		panic(fmt.Sprintf("refs: invalid name id %d", id))
	}
	return s
}

func (t *NameTable) Len() int {
	return len(t.byID)
}

// Names returns a copy of every name in ID order.
func (t *NameTable) Names() []string {
	return slices.Clone(t.byID)
}

func (t *NameTable) isWellKnownQualified(id NameID) bool {
	_, ok := t.qualifiedWK[id]
	return ok
}

func (t *NameTable) isWellKnownSimple(id NameID) bool {
	_, ok := t.simpleWK[id]
	return ok
}

// SplitTypeName splits "a/b/C" into package "a/b" and simple name "C".
// A type in the default package has an empty package.
func SplitTypeName(typeName string) (pkg, simple string) {
	if i := strings.LastIndexByte(typeName, '/'); i >= 0 {
		return typeName[:i], typeName[i+1:]
	}
	return "", typeName
}

// RootOf returns the first segment of a slash-separated name.
func RootOf(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return name
}

// OuterSimpleName strips nested type suffixes: "A$Inner" -> "A".
func OuterSimpleName(simple string) string {
	if i := strings.IndexByte(simple, '$'); i >= 0 {
		return simple[:i]
	}
	return simple
}

// PackagePrefixes returns "a", "a/b" for package "a/b/c" including the
// package itself as the last element.
func PackagePrefixes(pkg string) []string {
	if pkg == "" {
		return nil
	}
	var out []string
	for i := 0; i < len(pkg); i++ {
		if pkg[i] == '/' {
			out = append(out, pkg[:i])
		}
	}
	return append(out, pkg)
}

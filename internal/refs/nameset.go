package refs

import (
	"slices"
	"strings"
)

// NameSet accumulates the qualified, simple and root names whose
// dependents must be recompiled. It is reset after every compile pass.
type NameSet struct {
	qualified map[string]struct{}
	simple    map[string]struct{}
	root      map[string]struct{}
}

func NewNameSet() *NameSet {
	return &NameSet{
		qualified: make(map[string]struct{}),
		simple:    make(map[string]struct{}),
		root:      make(map[string]struct{}),
	}
}

func add(m map[string]struct{}, name string) bool {
	if _, ok := m[name]; ok {
		return false
	}
	m[name] = struct{}{}
	return true
}

// AddQualified adds a package name and reports whether it was new.
func (s *NameSet) AddQualified(name string) bool { return add(s.qualified, name) }

// AddSimple adds a simple type name and reports whether it was new.
func (s *NameSet) AddSimple(name string) bool { return add(s.simple, name) }

// AddRoot adds a root segment and reports whether it was new.
func (s *NameSet) AddRoot(name string) bool { return add(s.root, name) }

// Empty reports whether nothing would be propagated.
func (s *NameSet) Empty() bool {
	return len(s.qualified) == 0 && len(s.simple) == 0
}

// Len returns the qualified and simple counts.
func (s *NameSet) Len() (qualified, simple int) {
	return len(s.qualified), len(s.simple)
}

func (s *NameSet) Clear() {
	clear(s.qualified)
	clear(s.simple)
	clear(s.root)
}

// Qualified returns the sorted package names.
func (s *NameSet) Qualified() []string { return sortedKeys(s.qualified) }

// Simple returns the sorted simple names.
func (s *NameSet) Simple() []string { return sortedKeys(s.simple) }

// Root returns the sorted root names.
func (s *NameSet) Root() []string { return sortedKeys(s.root) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (s *NameSet) String() string {
	return "qualified=[" + strings.Join(s.Qualified(), " ") +
		"] simple=[" + strings.Join(s.Simple(), " ") +
		"] root=[" + strings.Join(s.Root(), " ") + "]"
}

// Query is an interned NameSet ready to be tested against collections.
// AllQualified and AllSimple mark an unfiltered dimension.
type Query struct {
	Qualified    []NameID
	Simple       []NameID
	Root         []NameID
	AllQualified bool
	AllSimple    bool
}

// Intern turns the set into a Query against t. Names unknown to t are
// dropped because no collection can contain them. A well-known name in
// the qualified or simple set makes that dimension unfiltered, since
// collections never store well-known names. The empty qualified name
// (a top-level package or a default-package type has no enclosing
// package to filter on) is unfiltered too.
func (s *NameSet) Intern(t *NameTable) Query {
	var q Query
	q.Qualified, q.AllQualified = internQuery(t, s.qualified, t.isWellKnownQualified)
	if _, ok := s.qualified[""]; ok {
		q.AllQualified = true
	}
	q.Simple, q.AllSimple = internQuery(t, s.simple, t.isWellKnownSimple)
	q.Root, _ = internQuery(t, s.root, nil)
	return q
}

func internQuery(t *NameTable, names map[string]struct{}, wellKnown func(NameID) bool) ([]NameID, bool) {
	ids := make([]NameID, 0, len(names))
	all := false
	for n := range names {
		id, ok := t.ID(n)
		if !ok {
			continue
		}
		if wellKnown != nil && wellKnown(id) {
			all = true
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, all
}

package refs

import "slices"

// Collection records the names a unit's compiled output depends on. The
// three dimensions are sorted, deduplicated ID slices into a NameTable.
// A Collection is immutable once built.
type Collection struct {
	Qualified []NameID
	Simple    []NameID
	Root      []NameID
}

// NewCollection interns the given names. Well-known qualified and simple
// names are dropped since every unit references them; roots are kept.
func NewCollection(t *NameTable, qualified, simple, root []string) Collection {
	c := Collection{
		Qualified: internAll(t, qualified, t.isWellKnownQualified),
		Simple:    internAll(t, simple, t.isWellKnownSimple),
		Root:      internAll(t, root, nil),
	}
	return c
}

func internAll(t *NameTable, names []string, drop func(NameID) bool) []NameID {
	if len(names) == 0 {
		return nil
	}
	ids := make([]NameID, 0, len(names))
	for _, n := range names {
		id := t.Intern(n)
		if drop != nil && drop(id) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Includes reports whether a unit with these references could be
// affected by a change to the queried names. It may answer true for an
// unaffected unit but never false for an affected one.
func (c Collection) Includes(q Query) bool {
	if !c.anyRoot(q.Root) {
		return false
	}
	switch {
	case q.AllQualified && q.AllSimple:
		return true
	case q.AllQualified:
		return anyOf(c.Simple, q.Simple)
	case q.AllSimple:
		return anyOf(c.Qualified, q.Qualified)
	default:
		return anyOf(c.Simple, q.Simple) && anyOf(c.Qualified, q.Qualified)
	}
}

func (c Collection) anyRoot(roots []NameID) bool {
	return anyOf(c.Root, roots)
}

func anyOf(sorted, candidates []NameID) bool {
	for _, id := range candidates {
		if _, ok := slices.BinarySearch(sorted, id); ok {
			return true
		}
	}
	return false
}

// Strings resolves the three dimensions back to names.
func (c Collection) Strings(t *NameTable) (qualified, simple, root []string) {
	return lookupAll(t, c.Qualified), lookupAll(t, c.Simple), lookupAll(t, c.Root)
}

func lookupAll(t *NameTable, ids []NameID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.MustLookup(id))
	}
	return out
}

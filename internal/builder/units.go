package builder

import (
	"slices"

	"kiln/internal/frontend"
)

// unitSet is an insertion-ordered set of units keyed by locator.
type unitSet struct {
	order []*frontend.SourceUnit
	index map[string]struct{}
}

func newUnitSet() *unitSet {
	return &unitSet{index: make(map[string]struct{})}
}

func (s *unitSet) add(u *frontend.SourceUnit) bool {
	if _, ok := s.index[u.Locator]; ok {
		return false
	}
	s.index[u.Locator] = struct{}{}
	s.order = append(s.order, u)
	return true
}

func (s *unitSet) has(locator string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[locator]
	return ok
}

func (s *unitSet) len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

func (s *unitSet) units() []*frontend.SourceUnit { return slices.Clone(s.order) }

func (s *unitSet) clone() *unitSet {
	c := newUnitSet()
	for _, u := range s.order {
		c.add(u)
	}
	return c
}

func (s *unitSet) clear() {
	s.order = s.order[:0]
	clear(s.index)
}

// Package state holds the build state a project carries from one build
// to the next: which types every source unit defines, what each unit
// references, and which types changed shape in the last build.
package state

import (
	"maps"
	"slices"
	"strings"
	"time"

	"kiln/internal/project"
	"kiln/internal/refs"
)

// MaxStructurallyChangedTypes bounds the set of structurally changed
// types. Past the bound the set is dropped and every type is assumed
// changed.
const MaxStructurallyChangedTypes = 100

// State is owned by one build at a time. It is not safe for concurrent
// use.
type State struct {
	ProjectName string
	Names       *refs.NameTable

	// locator -> references; every key also has a definedTypes entry,
	// nil when the unit defined exactly its main type
	references   map[string]refs.Collection
	definedTypes map[string][]string
	// "a/b/A" -> "src/a/b/A.kl"
	typeLocators map[string]string

	BuildNumber                 int
	LastStructuralBuildTime     int64
	previousStructuralBuildTime int64
	structurallyChangedTypes    map[string]struct{} // nil = unknown
	// prerequisite project name -> its last structural build time seen
	structuralBuildTimes map[string]int64

	CompilerFingerprint project.Digest
	ConfigFingerprint   project.Digest

	knownPackages []string // lazily built, nil after any type mutation
	now           func() time.Time
}

// New returns the state for a full build. last, when not nil, seeds the
// structural build time so it keeps increasing across full builds.
func New(p *project.Project, last *State) *State {
	s := &State{
		ProjectName:                 p.Name,
		Names:                       refs.NewNameTable(),
		references:                  make(map[string]refs.Collection),
		definedTypes:                make(map[string][]string),
		typeLocators:                make(map[string]string),
		previousStructuralBuildTime: -1,
		structuralBuildTimes:        make(map[string]int64),
		CompilerFingerprint:         p.CompilerFingerprint(),
		ConfigFingerprint:           p.ConfigFingerprint(),
		now:                         time.Now,
	}
	var prev int64
	if last != nil {
		prev = last.LastStructuralBuildTime
		s.now = last.now
	}
	s.LastStructuralBuildTime = s.computeStructuralBuildTime(prev)
	return s
}

// SetClock replaces the wall clock used for structural build times.
func (s *State) SetClock(now func() time.Time) { s.now = now }

func (s *State) computeStructuralBuildTime(prev int64) int64 {
	t := s.now().UnixMilli()
	if t <= prev {
		t = prev + 1
	}
	return t
}

// CopyFrom makes s an incremental successor of last. The maps are
// copied so last stays valid if the build fails halfway.
func (s *State) CopyFrom(last *State) {
	s.ProjectName = last.ProjectName
	names, err := refs.NameTableFrom(last.Names.Names())
	if err != nil {
		panic(err) // a live table always snapshots cleanly
	}
	s.Names = names
	s.references = maps.Clone(last.references)
	s.definedTypes = maps.Clone(last.definedTypes)
	s.typeLocators = maps.Clone(last.typeLocators)
	s.BuildNumber = last.BuildNumber + 1
	s.LastStructuralBuildTime = last.LastStructuralBuildTime
	s.previousStructuralBuildTime = last.previousStructuralBuildTime
	s.structurallyChangedTypes = last.structurallyChangedTypes
	s.structuralBuildTimes = maps.Clone(last.structuralBuildTimes)
	s.CompilerFingerprint = last.CompilerFingerprint
	s.ConfigFingerprint = last.ConfigFingerprint
	s.knownPackages = nil
	s.now = last.now
	if s.now == nil {
		s.now = time.Now
	}
}

// Incremental returns a copy of last ready for an incremental build.
func Incremental(last *State) *State {
	s := &State{}
	s.CopyFrom(last)
	return s
}

// Record stores the references and defined types of a compiled unit.
// definedTypes holds simple names ("A", "A$In"); a unit defining only
// mainTypeName keeps no list.
func (s *State) Record(locator string, qualified, simple, root []string, mainTypeName string, definedTypes []string) {
	s.RecordCollection(locator, refs.NewCollection(s.Names, qualified, simple, root), mainTypeName, definedTypes)
}

// RecordCollection stores an already built collection.
func (s *State) RecordCollection(locator string, c refs.Collection, mainTypeName string, definedTypes []string) {
	s.references[locator] = c
	s.definedTypes[locator] = definedList(mainTypeName, definedTypes)
}

func definedList(mainTypeName string, definedTypes []string) []string {
	if len(definedTypes) == 1 && definedTypes[0] == mainTypeName {
		return nil
	}
	if definedTypes == nil {
		return []string{}
	}
	return slices.Clone(definedTypes)
}

// RecordLocatorForType claims qualifiedTypeName for locator.
func (s *State) RecordLocatorForType(qualifiedTypeName, locator string) {
	s.knownPackages = nil
	s.typeLocators[qualifiedTypeName] = locator
}

// RemoveLocator forgets a unit and every type it claimed.
func (s *State) RemoveLocator(locator string) {
	s.knownPackages = nil
	delete(s.references, locator)
	delete(s.definedTypes, locator)
	maps.DeleteFunc(s.typeLocators, func(_, v string) bool { return v == locator })
}

// RemoveQualifiedTypeName forgets one type.
func (s *State) RemoveQualifiedTypeName(qualifiedTypeName string) {
	s.knownPackages = nil
	delete(s.typeLocators, qualifiedTypeName)
}

// RemovePackage forgets every unit located below dir.
func (s *State) RemovePackage(dir string) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for _, loc := range s.Locators() {
		if strings.HasPrefix(loc, prefix) {
			s.RemoveLocator(loc)
		}
	}
}

// IsDuplicateLocator reports whether another locator claims the type.
func (s *State) IsDuplicateLocator(qualifiedTypeName, locator string) bool {
	existing, ok := s.typeLocators[qualifiedTypeName]
	return ok && existing != locator
}

// LocatorForType returns the unit claiming the type.
func (s *State) LocatorForType(qualifiedTypeName string) (string, bool) {
	loc, ok := s.typeLocators[qualifiedTypeName]
	return loc, ok
}

func (s *State) IsKnownType(qualifiedTypeName string) bool {
	_, ok := s.typeLocators[qualifiedTypeName]
	return ok
}

// IsKnownPackage reports whether any known type lives in pkg or below it.
func (s *State) IsKnownPackage(pkg string) bool {
	if s.knownPackages == nil {
		set := make(map[string]struct{})
		for typeName := range s.typeLocators {
			p, _ := refs.SplitTypeName(typeName)
			for p != "" {
				if _, seen := set[p]; seen {
					break
				}
				set[p] = struct{}{}
				p, _ = refs.SplitTypeName(p)
			}
		}
		s.knownPackages = slices.Sorted(maps.Keys(set))
	}
	_, found := slices.BinarySearch(s.knownPackages, pkg)
	return found
}

// DefinedTypeNamesFor returns the simple names of the types a unit
// defined when it was last compiled. ok is false for unknown units and
// for units that defined exactly their main type.
func (s *State) DefinedTypeNamesFor(locator string) ([]string, bool) {
	names := s.definedTypes[locator]
	return names, names != nil
}

// References returns the collection recorded for a unit.
func (s *State) References(locator string) (refs.Collection, bool) {
	c, ok := s.references[locator]
	return c, ok
}

// Locators returns every recorded unit in sorted order.
func (s *State) Locators() []string {
	return slices.Sorted(maps.Keys(s.references))
}

// TypeNames returns every claimed type in sorted order.
func (s *State) TypeNames() []string {
	return slices.Sorted(maps.Keys(s.typeLocators))
}

// TagAsNoopBuild marks a project without source roots.
func (s *State) TagAsNoopBuild() { s.BuildNumber = -1 }

func (s *State) WasNoopBuild() bool { return s.BuildNumber == -1 }

// TagAsStructurallyChanged starts a new structural generation. It is
// called on the first structural change of a build.
func (s *State) TagAsStructurallyChanged() {
	s.previousStructuralBuildTime = s.LastStructuralBuildTime
	s.structurallyChangedTypes = make(map[string]struct{})
	s.LastStructuralBuildTime = s.computeStructuralBuildTime(s.previousStructuralBuildTime)
}

// WasStructurallyChanged records a type whose shape changed.
func (s *State) WasStructurallyChanged(typeName string) {
	if s.structurallyChangedTypes == nil {
		return
	}
	if len(s.structurallyChangedTypes) > MaxStructurallyChangedTypes {
		s.structurallyChangedTypes = nil
		return
	}
	s.structurallyChangedTypes[typeName] = struct{}{}
}

// StructurallyChangedTypes returns the set of types prereq changed since
// s last looked at it, or nil when unknown.
func (s *State) StructurallyChangedTypes(prereq *State) map[string]struct{} {
	if prereq == nil || prereq.previousStructuralBuildTime <= 0 {
		return nil
	}
	if s.structuralBuildTimes[prereq.ProjectName] == prereq.previousStructuralBuildTime {
		return prereq.structurallyChangedTypes
	}
	return nil
}

// PrereqChanged reports whether prereq went through a structural build
// since s recorded it.
func (s *State) PrereqChanged(prereq *State) bool {
	if prereq == nil {
		return true
	}
	return s.structuralBuildTimes[prereq.ProjectName] != prereq.LastStructuralBuildTime
}

// RecordStructuralDependency remembers the prerequisite's structural
// build time at the end of a build.
func (s *State) RecordStructuralDependency(prereq *State) {
	if prereq != nil && prereq.LastStructuralBuildTime > 0 {
		s.structuralBuildTimes[prereq.ProjectName] = prereq.LastStructuralBuildTime
	}
}

// ChangedTypes returns the structurally changed set of this build in
// sorted order. ok is false when the set overflowed or no structural
// change happened.
func (s *State) ChangedTypes() (types []string, ok bool) {
	if s.structurallyChangedTypes == nil {
		return nil, false
	}
	return slices.Sorted(maps.Keys(s.structurallyChangedTypes)), true
}

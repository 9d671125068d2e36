package state

import (
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"kiln/internal/project"
)

func testProject() *project.Project {
	return &project.Project{Name: "app", Root: "/w/app", Output: "bin"}
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestRecordAndRemoveLocator(t *testing.T) {
	s := New(testProject(), nil)
	s.Record("src/a/A.kl", []string{"a"}, []string{"B"}, []string{"a"}, "A", []string{"A", "Helper"})
	s.RecordLocatorForType("a/A", "src/a/A.kl")
	s.RecordLocatorForType("a/Helper", "src/a/A.kl")

	if !s.IsKnownType("a/Helper") || !s.IsKnownPackage("a") {
		t.Fatal("types not recorded")
	}
	if !s.IsDuplicateLocator("a/A", "src/b/A.kl") || s.IsDuplicateLocator("a/A", "src/a/A.kl") {
		t.Fatal("IsDuplicateLocator")
	}
	if names, ok := s.DefinedTypeNamesFor("src/a/A.kl"); !ok || len(names) != 2 {
		t.Fatalf("defined types = %v", names)
	}

	s.RemoveLocator("src/a/A.kl")
	if s.IsKnownType("a/A") || s.IsKnownType("a/Helper") || s.IsKnownPackage("a") {
		t.Fatal("RemoveLocator left types behind")
	}
	if _, ok := s.References("src/a/A.kl"); ok {
		t.Fatal("references left behind")
	}
}

func TestKnownPackagesIncludeParents(t *testing.T) {
	s := New(testProject(), nil)
	s.RecordLocatorForType("a/b/c/X", "src/a/b/c/X.kl")
	for _, pkg := range []string{"a", "a/b", "a/b/c"} {
		if !s.IsKnownPackage(pkg) {
			t.Fatalf("%s should be known", pkg)
		}
	}
	if s.IsKnownPackage("a/b/c/X") {
		t.Fatal("type name reported as package")
	}
}

func TestRemovePackage(t *testing.T) {
	s := New(testProject(), nil)
	for _, loc := range []string{"src/p/A.kl", "src/p/q/B.kl", "src/pp/C.kl"} {
		s.Record(loc, nil, nil, nil, "", nil)
	}
	s.RemovePackage("src/p")
	if got := s.Locators(); len(got) != 1 || got[0] != "src/pp/C.kl" {
		t.Fatalf("locators = %v", got)
	}
}

func TestStructurallyChangedOverflow(t *testing.T) {
	s := New(testProject(), nil)
	s.TagAsStructurallyChanged()
	for i := 0; i <= MaxStructurallyChangedTypes+1; i++ {
		s.WasStructurallyChanged(fmt.Sprintf("p/T%d", i))
	}
	if _, ok := s.ChangedTypes(); ok {
		t.Fatal("set should be unknown after overflow")
	}
}

func TestStructuralTimesAdvance(t *testing.T) {
	s := New(testProject(), nil)
	s.SetClock(fixedClock(10))
	s.LastStructuralBuildTime = 10
	s.TagAsStructurallyChanged()
	if s.LastStructuralBuildTime != 11 {
		t.Fatalf("time must advance past the previous one: %d", s.LastStructuralBuildTime)
	}
}

func TestPrereqStructurallyChangedTypes(t *testing.T) {
	lib := New(&project.Project{Name: "lib"}, nil)
	lib.SetClock(fixedClock(100))
	lib.LastStructuralBuildTime = 50
	app := New(testProject(), nil)

	app.RecordStructuralDependency(lib)
	lib.TagAsStructurallyChanged()
	lib.WasStructurallyChanged("l/Api")

	changed := app.StructurallyChangedTypes(lib)
	if _, ok := changed["l/Api"]; !ok || len(changed) != 1 {
		t.Fatalf("changed = %v", changed)
	}
	if !app.PrereqChanged(lib) {
		t.Fatal("PrereqChanged")
	}

	// two structural builds later the set no longer covers what app missed
	lib.TagAsStructurallyChanged()
	if app.StructurallyChangedTypes(lib) != nil {
		t.Fatal("stale build time must answer unknown")
	}
}

func TestIncrementalCopyIsIndependent(t *testing.T) {
	last := New(testProject(), nil)
	last.Record("src/A.kl", []string{""}, []string{"B"}, []string{"B"}, "A", []string{"A"})
	last.RecordLocatorForType("A", "src/A.kl")

	next := Incremental(last)
	next.RemoveLocator("src/A.kl")
	if !last.IsKnownType("A") {
		t.Fatal("incremental copy mutated the previous state")
	}
	if next.BuildNumber != last.BuildNumber+1 {
		t.Fatal("build number not advanced")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	p := testProject()
	st, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Load(p.ID(), p.CompilerFingerprint()); !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}

	s := New(p, nil)
	s.Record("src/a/A.kl", []string{"a", "b"}, []string{"B"}, []string{"a", "b"}, "A", []string{"A"})
	s.RecordLocatorForType("a/A", "src/a/A.kl")
	s.TagAsStructurallyChanged()
	s.WasStructurallyChanged("a/A")
	if err := st.Save(p.ID(), s); err != nil {
		t.Fatal(err)
	}

	got, err := st.Load(p.ID(), p.CompilerFingerprint())
	if err != nil {
		t.Fatal(err)
	}
	c, ok := got.References("src/a/A.kl")
	qualified, simple, _ := c.Strings(got.Names)
	if !ok || !slices.Contains(qualified, "b") || !slices.Contains(simple, "B") {
		t.Fatalf("references lost: %+v", c)
	}
	if _, ok := got.DefinedTypeNamesFor("src/a/A.kl"); ok {
		t.Fatal("a unit defining only its main type keeps no list")
	}
	if loc, _ := got.LocatorForType("a/A"); loc != "src/a/A.kl" {
		t.Fatalf("type locator = %q", loc)
	}
	if types, ok := got.ChangedTypes(); !ok || len(types) != 1 {
		t.Fatalf("changed types = %v %v", types, ok)
	}

	if _, err := st.Load(p.ID(), project.DigestStrings("other")); !errors.Is(err, ErrNoState) {
		t.Fatalf("fingerprint mismatch should invalidate, got %v", err)
	}
	if err := st.Drop(p.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Load(p.ID(), p.CompilerFingerprint()); !errors.Is(err, ErrNoState) {
		t.Fatal("Drop did not remove the state")
	}
}

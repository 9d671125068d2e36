package refs

import "testing"

func TestIncludesRequiresRootAndBothDimensions(t *testing.T) {
	tab := NewNameTable()
	// unit importing p.q.B
	c := NewCollection(tab, []string{"p", "p/q"}, []string{"B"}, []string{"p"})

	q := NewNameSet()
	q.AddQualified("p/q")
	q.AddSimple("B")
	q.AddRoot("p")
	if !c.Includes(q.Intern(tab)) {
		t.Fatal("expected p/q/B to affect the unit")
	}

	other := NewNameSet()
	other.AddQualified("p/q")
	other.AddSimple("C")
	other.AddRoot("p")
	if c.Includes(other.Intern(tab)) {
		t.Fatal("p/q/C must not affect a unit that only references B")
	}

	wrongRoot := NewNameSet()
	wrongRoot.AddQualified("p/q")
	wrongRoot.AddSimple("B")
	wrongRoot.AddRoot("z")
	if c.Includes(wrongRoot.Intern(tab)) {
		t.Fatal("root pre-filter should reject")
	}
}

func TestWellKnownNamesWidenTheQuery(t *testing.T) {
	tab := NewNameTable()
	c := NewCollection(tab, []string{"app"}, []string{"Main"}, []string{"app"})

	q := NewNameSet()
	q.AddQualified("app")
	q.AddSimple("String") // well known
	q.AddRoot("app")
	iq := q.Intern(tab)
	if !iq.AllSimple {
		t.Fatal("well-known simple name should make the simple dimension unfiltered")
	}
	if !c.Includes(iq) {
		t.Fatal("unfiltered simple dimension should match on qualified alone")
	}
}

func TestCollectionDropsWellKnown(t *testing.T) {
	tab := NewNameTable()
	c := NewCollection(tab, []string{"kiln/lang", "a"}, []string{"Object", "A"}, []string{"kiln", "a"})
	qs, ss, rs := c.Strings(tab)
	if len(qs) != 1 || qs[0] != "a" {
		t.Fatalf("qualified = %v", qs)
	}
	if len(ss) != 1 || ss[0] != "A" {
		t.Fatalf("simple = %v", ss)
	}
	if len(rs) != 2 {
		t.Fatalf("roots must keep well-known names: %v", rs)
	}
}

func TestUnknownNamesCannotMatch(t *testing.T) {
	tab := NewNameTable()
	c := NewCollection(tab, []string{"a"}, []string{"A"}, []string{"a"})
	q := NewNameSet()
	q.AddQualified("never")
	q.AddSimple("Seen")
	q.AddRoot("a")
	if c.Includes(q.Intern(tab)) {
		t.Fatal("names absent from the table must not match")
	}
}

func TestDefaultPackage(t *testing.T) {
	tab := NewNameTable()
	// unit in the default package looking up Helper in its own package
	c := NewCollection(tab, []string{""}, []string{"Helper"}, []string{"Helper"})
	q := NewNameSet()
	q.AddQualified("")
	q.AddSimple("Helper")
	q.AddRoot("Helper")
	if !c.Includes(q.Intern(tab)) {
		t.Fatal("default package dependents not found")
	}

	// removing top-level package p reaches units in other packages that
	// reference p/X
	user := NewCollection(tab, []string{"p", "q"}, []string{"X", "p", "q"}, []string{"p", "q"})
	removed := NewNameSet()
	removed.AddQualified("")
	removed.AddSimple("p")
	removed.AddRoot("p")
	if !user.Includes(removed.Intern(tab)) {
		t.Fatal("top-level package removal missed a dependent")
	}
}

func TestNameTableSnapshotRoundTrip(t *testing.T) {
	tab := NewNameTable()
	id := tab.Intern("p/q")
	restored, err := NameTableFrom(tab.Names())
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := restored.ID("p/q"); !ok || got != id {
		t.Fatalf("id changed across snapshot: %d vs %d", got, id)
	}
	if _, err := NameTableFrom([]string{"x"}); err == nil {
		t.Fatal("expected error for snapshot without empty name")
	}
}

func TestNameHelpers(t *testing.T) {
	if p, s := SplitTypeName("a/b/C"); p != "a/b" || s != "C" {
		t.Fatalf("SplitTypeName = %q %q", p, s)
	}
	if p, s := SplitTypeName("C"); p != "" || s != "C" {
		t.Fatalf("SplitTypeName default = %q %q", p, s)
	}
	if RootOf("a/b/C") != "a" || OuterSimpleName("A$B$C") != "A" {
		t.Fatal("helpers")
	}
	if got := PackagePrefixes("a/b/c"); len(got) != 3 || got[1] != "a/b" {
		t.Fatalf("PackagePrefixes = %v", got)
	}
}

package diag

import "testing"

func TestBagSortAndDedup(t *testing.T) {
	bag := NewBag(0)
	r := NewDedupReporter(BagReporter{Bag: bag})

	b := Span{Locator: "src/b/B.kl", Start: 4, End: 8, Line: 1}
	a := Span{Locator: "src/a/A.kl", Start: 10, End: 12, Line: 2}
	ReportError(r, ResUndefinedType, b, "X cannot be resolved to a type", "X")
	ReportError(r, ResUndefinedType, b, "X cannot be resolved to a type", "X")
	ReportWarning(r, ResDuplicateMember, a, "duplicate field f")
	r.Report(NewTask(a, "TODO fix", PriorityNormal))

	if bag.Len() != 3 {
		t.Fatalf("expected 3 diagnostics after dedup, got %d", bag.Len())
	}
	bag.Sort()
	items := bag.Items()
	if items[0].Primary.Locator != "src/a/A.kl" || items[2].Primary.Locator != "src/b/B.kl" {
		t.Fatalf("unexpected order: %v", items)
	}
	if !bag.HasErrors() {
		t.Fatal("expected HasErrors")
	}
	if got := bag.Count(SevInfo); got != 0 {
		t.Fatalf("tasks counted as info problems: %d", got)
	}
	if items[2].Arguments[0] != "X" {
		t.Fatalf("arguments lost: %v", items[2].Arguments)
	}
}

func TestBagLimit(t *testing.T) {
	bag := NewBag(1)
	if !bag.Add(Diagnostic{}) || bag.Add(Diagnostic{}) {
		t.Fatal("limit not enforced")
	}
}

func TestCodeIDs(t *testing.T) {
	cases := map[Code]string{
		SynUnexpectedToken:   "SYN1001",
		ResUndefinedType:     "RES2001",
		BldArtifactCollision: "BLD3002",
		TaskTag:              "TSK4001",
	}
	for c, want := range cases {
		if got := c.ID(); got != want {
			t.Fatalf("%d: ID() = %s, want %s", c, got, want)
		}
	}
	if ResDuplicateType.Category() != "type" {
		t.Fatalf("category = %s", ResDuplicateType.Category())
	}
}

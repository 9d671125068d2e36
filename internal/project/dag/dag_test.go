package dag

import (
	"testing"

	"kiln/internal/diag"
	"kiln/internal/project"
)

func proj(root string, deps ...string) *project.Project {
	return &project.Project{Name: root, Root: root, Dependencies: deps}
}

func TestOrderPutsPrerequisitesFirst(t *testing.T) {
	projects := []*project.Project{
		proj("/w/app", "/w/lib", "/w/util"),
		proj("/w/lib", "/w/util"),
		proj("/w/util"),
	}
	idx := BuildIndex(projects)
	bag := diag.NewBag(0)
	g, slots := BuildGraph(idx, projects, diag.BagReporter{Bag: bag})
	topo := ToposortKahn(g)

	if topo.Cyclic || bag.Len() != 0 {
		t.Fatalf("unexpected cycle or problems: %v %v", topo.Cycles, bag.Items())
	}
	var order []string
	for _, id := range topo.Order {
		order = append(order, slots[id].Project.Name)
	}
	want := []string{"/w/util", "/w/lib", "/w/app"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCycleDetected(t *testing.T) {
	projects := []*project.Project{
		proj("/w/a", "/w/b"),
		proj("/w/b", "/w/a"),
		proj("/w/c"),
	}
	idx := BuildIndex(projects)
	g, _ := BuildGraph(idx, projects, diag.NopReporter{})
	topo := ToposortKahn(g)
	if !topo.Cyclic || len(topo.Cycles) != 2 {
		t.Fatalf("expected a two-project cycle, got %+v", topo)
	}
	if len(topo.Order) != 1 {
		t.Fatalf("only /w/c should be ordered: %v", topo.Order)
	}
}

func TestMissingPrerequisiteReported(t *testing.T) {
	projects := []*project.Project{proj("/w/app", "/w/gone")}
	idx := BuildIndex(projects)
	bag := diag.NewBag(0)
	g, _ := BuildGraph(idx, projects, diag.BagReporter{Bag: bag})
	if bag.Len() != 1 || bag.Items()[0].Code != diag.BldMissingPrereq {
		t.Fatalf("problems = %v", bag.Items())
	}
	if topo := ToposortKahn(g); len(topo.Order) != 1 {
		t.Fatalf("order = %v", topo.Order)
	}
}

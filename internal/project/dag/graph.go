package dag

import (
	"fmt"
	"slices"

	"kiln/internal/diag"
	"kiln/internal/project"
)

// Graph has an edge from each prerequisite to every project requiring it.
type Graph struct {
	Edges   [][]ProjectID // Edges[prereq] = dependents
	Indeg   []int         // number of present prerequisites
	Present []bool        // project manifest was loaded
}

type ProjectSlot struct {
	Project *project.Project
	Present bool
}

// BuildGraph links loaded projects. Prerequisites that were not loaded
// are reported on the requiring project and left out of the order.
func BuildGraph(idx ProjectIndex, projects []*project.Project, r diag.Reporter) (Graph, []ProjectSlot) {
	n := len(idx.IDToName)
	g := Graph{
		Edges:   make([][]ProjectID, n),
		Indeg:   make([]int, n),
		Present: make([]bool, n),
	}
	slots := make([]ProjectSlot, n)
	for _, p := range projects {
		id := idx.NameToID[p.Root]
		slots[id] = ProjectSlot{Project: p, Present: true}
		g.Present[id] = true
	}

	for _, p := range projects {
		to := idx.NameToID[p.Root]
		seen := make(map[ProjectID]struct{}, len(p.Dependencies))
		for _, dep := range p.Dependencies {
			from := idx.NameToID[dep]
			if from == to {
				diag.ReportError(r, diag.BldPrereqCycle, diag.Span{Locator: project.ManifestName},
					fmt.Sprintf("project %q requires itself", p.Name))
				continue
			}
			if _, dup := seen[from]; dup {
				continue
			}
			seen[from] = struct{}{}
			if !g.Present[from] {
				diag.ReportError(r, diag.BldMissingPrereq, diag.Span{Locator: project.ManifestName},
					fmt.Sprintf("project %q requires missing project at %s", p.Name, dep), dep)
				continue
			}
			g.Edges[from] = append(g.Edges[from], to)
			g.Indeg[to]++
		}
	}
	for i := range g.Edges {
		slices.Sort(g.Edges[i])
	}
	return g, slots
}

// Package driver builds a workspace: the project found from the working
// directory and every prerequisite it reaches, in dependency order. It
// owns the persisted state of each project between builds.
package driver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"kiln/internal/diag"
	"kiln/internal/project"
	"kiln/internal/project/dag"
)

// Workspace is a root project with its transitive prerequisites.
type Workspace struct {
	Root *project.Project
	// Order lists projects prerequisites first; Cycles holds the projects
	// whose prerequisites form a cycle, sorted by root.
	Order  []*project.Project
	Cycles []*project.Project
	// Problems are workspace-level diagnostics: missing or cyclic
	// prerequisites, overlapping outputs.
	Problems []diag.Diagnostic

	byRoot map[string]*project.Project
}

// LoadWorkspace reads the manifest at path and the manifests of every
// prerequisite it reaches. Missing prerequisites are reported, not fatal.
func LoadWorkspace(path string) (*Workspace, error) {
	root, err := project.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	ws := &Workspace{Root: root, byRoot: map[string]*project.Project{root.Root: root}}
	bag := diag.NewBag(0)
	reporter := diag.BagReporter{Bag: bag}

	queue := []*project.Project{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		checkOutputs(p, reporter)
		for _, dep := range p.Dependencies {
			if _, ok := ws.byRoot[dep]; ok {
				continue
			}
			pr, err := project.LoadManifest(filepath.Join(dep, project.ManifestName))
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					// reported by the graph as a missing prerequisite
					continue
				}
				return nil, fmt.Errorf("prerequisite of %s: %w", p.Name, err)
			}
			ws.byRoot[dep] = pr
			queue = append(queue, pr)
		}
	}

	projects := make([]*project.Project, 0, len(ws.byRoot))
	for _, p := range ws.byRoot {
		projects = append(projects, p)
	}
	idx := dag.BuildIndex(projects)
	g, slots := dag.BuildGraph(idx, projects, reporter)
	topo := dag.ToposortKahn(g)
	for _, id := range topo.Order {
		ws.Order = append(ws.Order, slots[id].Project)
	}
	for _, id := range topo.Cycles {
		ws.Cycles = append(ws.Cycles, slots[id].Project)
	}
	if topo.Cyclic {
		names := make([]string, 0, len(ws.Cycles))
		for _, p := range ws.Cycles {
			names = append(names, p.Name)
		}
		diag.ReportWarning(reporter, diag.BldPrereqCycle, diag.Span{Locator: project.ManifestName},
			fmt.Sprintf("prerequisite cycle between %v; these projects are rebuilt until they settle", names))
	}
	bag.Sort()
	ws.Problems = bag.Items()
	return ws, nil
}

// checkOutputs warns about an output folder that holds another root's
// sources; resources and stale artifacts cannot be cleaned there.
func checkOutputs(p *project.Project, r diag.Reporter) {
	for _, out := range p.Outputs() {
		for _, sr := range p.SourceRoots {
			if sr.Output != out && (sr.Dir == out || out == ".") {
				diag.ReportWarning(r, diag.BldOutputOverlap, diag.Span{Locator: project.ManifestName},
					fmt.Sprintf("project %s: output folder %s overlaps source root %s", p.Name, out, sr.Dir))
			}
		}
	}
}

// Project returns the loaded project rooted at root.
func (ws *Workspace) Project(root string) (*project.Project, bool) {
	p, ok := ws.byRoot[root]
	return p, ok
}

// Projects lists every loaded project in build order, cycle members
// last.
func (ws *Workspace) Projects() []*project.Project {
	return append(slices.Clone(ws.Order), ws.Cycles...)
}

// prereqsOf returns the loaded prerequisites of p in declaration order.
func (ws *Workspace) prereqsOf(p *project.Project) []*project.Project {
	var out []*project.Project
	for _, dep := range p.Dependencies {
		if pr, ok := ws.byRoot[dep]; ok && pr != p {
			out = append(out, pr)
		}
	}
	return out
}

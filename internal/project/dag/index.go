// Package dag orders the projects of a workspace so prerequisites build
// before the projects that depend on them.
package dag

import (
	"sort"

	"kiln/internal/project"
)

type ProjectID uint32

type ProjectIndex struct {
	NameToID map[string]ProjectID
	IDToName []string
}

// BuildIndex assigns IDs in sorted root order so the build order is
// stable across runs.
func BuildIndex(projects []*project.Project) ProjectIndex {
	uniq := make(map[string]struct{}, len(projects))
	for _, p := range projects {
		uniq[p.Root] = struct{}{}
		for _, dep := range p.Dependencies {
			uniq[dep] = struct{}{}
		}
	}
	roots := make([]string, 0, len(uniq))
	for r := range uniq {
		roots = append(roots, r)
	}
	sort.Strings(roots)

	nameToID := make(map[string]ProjectID, len(roots))
	for i, r := range roots {
		nameToID[r] = ProjectID(i)
	}
	return ProjectIndex{NameToID: nameToID, IDToName: roots}
}
